package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimap/resolver/internal/domain"
)

func TestIntentCache_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")

	cache, err := NewIntentCache(path, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, 0, cache.Size())

	_, ok := cache.Get("anything")
	assert.False(t, ok)
}

func TestIntentCache_PutAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")
	cache, err := NewIntentCache(path, zerolog.Nop())
	require.NoError(t, err)

	intent := &domain.SearchIntent{
		SearchQuery:   "cheddar cheese",
		IsPhrase:      true,
		PreferredForm: "natural",
		Avoid:         []string{"sauce", "powder"},
	}
	require.NoError(t, cache.Put("Cheddar Cheese", intent))

	got, ok := cache.Get("  cheddar cheese ")
	require.True(t, ok)
	assert.Equal(t, "cheddar cheese", got.SearchQuery)
	assert.True(t, got.IsPhrase)
}

func TestIntentCache_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")

	first, err := NewIntentCache(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Put("tzatziki", &domain.SearchIntent{SearchQuery: "tzatziki", IsPhrase: false}))

	second, err := NewIntentCache(path, zerolog.Nop())
	require.NoError(t, err)

	got, ok := second.Get("tzatziki")
	require.True(t, ok)
	assert.Equal(t, "tzatziki", got.SearchQuery)
}

func TestIntentCache_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")
	cache, err := NewIntentCache(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, cache.Put("olive oil", &domain.SearchIntent{SearchQuery: "olive oil", IsPhrase: true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var file struct {
		Metadata struct {
			Version          string `json:"version"`
			LastUpdated      string `json:"last_updated"`
			TotalIngredients int    `json:"total_ingredients"`
		} `json:"metadata"`
		Mappings map[string]json.RawMessage `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Equal(t, intentCacheVersion, file.Metadata.Version)
	assert.Equal(t, 1, file.Metadata.TotalIngredients)
	assert.NotEmpty(t, file.Metadata.LastUpdated)
	assert.Contains(t, file.Mappings, "olive oil")
}

func TestIntentCache_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	cache, err := NewIntentCache(path, zerolog.Nop())

	assert.Nil(t, cache)
	assert.Error(t, err)
}

func TestScoreCache(t *testing.T) {
	cache := NewScoreCache()

	_, _, ok := cache.Get("feta", 12345)
	assert.False(t, ok)

	cache.Put("Feta", 12345, 92.0, "identical food")

	score, reasoning, ok := cache.Get("feta", 12345)
	require.True(t, ok)
	assert.Equal(t, 92.0, score)
	assert.Equal(t, "identical food", reasoning)

	// Same ingredient, different food id, stays distinct.
	_, _, ok = cache.Get("feta", 99999)
	assert.False(t, ok)

	assert.Equal(t, 1, cache.Size())
}
