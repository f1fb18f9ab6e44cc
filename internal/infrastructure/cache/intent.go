package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
)

const intentCacheVersion = "1.0"

// intentFile is the on-disk shape of the intent cache.
type intentFile struct {
	Metadata intentMetadata                  `json:"metadata"`
	Mappings map[string]*domain.SearchIntent `json:"mappings"`
}

type intentMetadata struct {
	Version          string `json:"version"`
	LastUpdated      string `json:"last_updated"`
	TotalIngredients int    `json:"total_ingredients"`
}

// IntentCache is a write-through, file-backed store of generated search
// intents, keyed by lowercased ingredient. Every Put rewrites the file so a
// crashed run loses nothing.
type IntentCache struct {
	path     string
	mappings map[string]*domain.SearchIntent
	mutex    sync.RWMutex
	log      zerolog.Logger
}

// NewIntentCache loads the cache file if present; a missing file starts an
// empty cache at that path.
func NewIntentCache(path string, logger zerolog.Logger) (*IntentCache, error) {
	c := &IntentCache{
		path:     path,
		mappings: make(map[string]*domain.SearchIntent),
		log:      logger.With().Str("component", "intent_cache").Logger(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read intent cache: %w", err)
	}

	var file intentFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse intent cache %s: %w", path, err)
	}
	if file.Mappings != nil {
		c.mappings = file.Mappings
	}
	c.log.Debug().Int("entries", len(c.mappings)).Msg("intent cache loaded")
	return c, nil
}

// Get looks up the intent for an ingredient, case-insensitively.
func (c *IntentCache) Get(ingredient string) (*domain.SearchIntent, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	intent, ok := c.mappings[normalizeKey(ingredient)]
	return intent, ok
}

// Put stores an intent and flushes the whole cache to disk.
func (c *IntentCache) Put(ingredient string, intent *domain.SearchIntent) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.mappings[normalizeKey(ingredient)] = intent
	return c.flushLocked()
}

// Size returns the number of cached intents.
func (c *IntentCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.mappings)
}

func (c *IntentCache) flushLocked() error {
	file := intentFile{
		Metadata: intentMetadata{
			Version:          intentCacheVersion,
			LastUpdated:      time.Now().UTC().Format(time.RFC3339),
			TotalIngredients: len(c.mappings),
		},
		Mappings: c.mappings,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode intent cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	// Write-then-rename keeps the file intact if the process dies mid-write.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write intent cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace intent cache: %w", err)
	}
	return nil
}

func normalizeKey(ingredient string) string {
	return strings.ToLower(strings.TrimSpace(ingredient))
}
