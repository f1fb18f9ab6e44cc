package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimap/resolver/internal/domain"
)

func TestResultCache_SetAndGet(t *testing.T) {
	cache := NewResultCache(time.Minute)
	fdcID := 328637
	record := &domain.ResultRecord{
		Ingredient: "cheddar cheese",
		FdcID:      &fdcID,
		Flag:       domain.FlagHighConfidence,
	}

	cache.Set("Cheddar Cheese", record)

	got, ok := cache.Get("cheddar cheese")
	require.True(t, ok)
	assert.Equal(t, 328637, *got.FdcID)
	assert.Equal(t, 1, cache.Size())
}

func TestResultCache_MissAndExpiry(t *testing.T) {
	cache := NewResultCache(10 * time.Millisecond)

	_, ok := cache.Get("unknown")
	assert.False(t, ok)

	cache.Set("milk", &domain.ResultRecord{Ingredient: "milk"})
	time.Sleep(20 * time.Millisecond)

	_, ok = cache.Get("milk")
	assert.False(t, ok)
}

func TestResultCache_Clear(t *testing.T) {
	cache := NewResultCache(time.Minute)
	cache.Set("a", &domain.ResultRecord{Ingredient: "a"})
	cache.Set("b", &domain.ResultRecord{Ingredient: "b"})

	cache.Clear()

	assert.Equal(t, 0, cache.Size())
}
