package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
)

// MappingStore holds curated ingredient -> FDC assignments, loaded once from
// a JSON file keyed by lowercase ingredient name.
type MappingStore struct {
	path     string
	mappings map[string]domain.MappingEntry
	mutex    sync.RWMutex
	log      zerolog.Logger
}

// NewMappingStore loads the curated mapping file. A missing file is not an
// error; every lookup then falls through to search.
func NewMappingStore(path string, logger zerolog.Logger) (*MappingStore, error) {
	s := &MappingStore{
		path:     path,
		mappings: make(map[string]domain.MappingEntry),
		log:      logger.With().Str("component", "mapping_store").Logger(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug().Str("path", path).Msg("no curated mapping file, search-only mode")
			return s, nil
		}
		return nil, fmt.Errorf("failed to read curated mappings: %w", err)
	}

	raw := make(map[string]domain.MappingEntry)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse curated mappings %s: %w", path, err)
	}
	for key, entry := range raw {
		s.mappings[normalizeKey(key)] = entry
	}
	s.log.Info().Int("entries", len(s.mappings)).Msg("curated mappings loaded")
	return s, nil
}

// normalizeKey lowercases and trims an ingredient for use as a mapping key.
func normalizeKey(ingredient string) string {
	return strings.ToLower(strings.TrimSpace(ingredient))
}

// Lookup finds the curated entry for an ingredient, trying exact, then
// plural/singular, then separator variants. No edit-distance matching; a near
// miss must fall through to search rather than guess.
func (s *MappingStore) Lookup(ingredient string) (domain.MappingEntry, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	key := normalizeKey(ingredient)
	if key == "" {
		return domain.MappingEntry{}, false
	}

	if entry, ok := s.mappings[key]; ok {
		return entry, true
	}

	for _, variant := range pluralVariants(key) {
		if entry, ok := s.mappings[variant]; ok {
			return entry, true
		}
	}

	for _, variant := range separatorVariants(key) {
		if entry, ok := s.mappings[variant]; ok {
			return entry, true
		}
	}

	return domain.MappingEntry{}, false
}

// pluralVariants returns singular/plural forms of a key.
func pluralVariants(key string) []string {
	var variants []string
	if strings.HasSuffix(key, "ies") {
		variants = append(variants, strings.TrimSuffix(key, "ies")+"y")
	}
	if strings.HasSuffix(key, "es") {
		variants = append(variants, strings.TrimSuffix(key, "es"))
	}
	if strings.HasSuffix(key, "s") {
		variants = append(variants, strings.TrimSuffix(key, "s"))
	} else {
		variants = append(variants,
			key+"s",
			key+"es",
		)
		if strings.HasSuffix(key, "y") {
			variants = append(variants, strings.TrimSuffix(key, "y")+"ies")
		}
	}
	return variants
}

// separatorVariants swaps spaces, underscores and hyphens.
func separatorVariants(key string) []string {
	return []string{
		strings.ReplaceAll(key, " ", "_"),
		strings.ReplaceAll(key, "_", " "),
		strings.ReplaceAll(key, "-", " "),
		strings.ReplaceAll(key, " ", "-"),
	}
}

// Save adds or replaces an entry and rewrites the file. Used by the mapping
// editor path; the resolution pipeline never writes.
func (s *MappingStore) Save(ingredient string, entry domain.MappingEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := normalizeKey(ingredient)
	if key == "" {
		return domain.ErrInvalidIngredient
	}
	s.mappings[key] = entry

	data, err := json.MarshalIndent(s.mappings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode curated mappings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create mapping directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write curated mappings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace curated mappings: %w", err)
	}
	return nil
}

// Size returns the number of curated entries.
func (s *MappingStore) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.mappings)
}
