package cache

import (
	"fmt"
	"strings"
	"sync"
)

// ScoreCache memoizes semantic verification scores per (ingredient, fdcID)
// pair for the lifetime of a run, so retries and overlapping tiers never pay
// for the same LLM judgment twice.
type ScoreCache struct {
	scores map[string]scoredEntry
	mutex  sync.RWMutex
}

type scoredEntry struct {
	Score     float64
	Reasoning string
}

// NewScoreCache creates an empty score cache.
func NewScoreCache() *ScoreCache {
	return &ScoreCache{scores: make(map[string]scoredEntry)}
}

func scoreKey(ingredient string, fdcID int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(ingredient)), fdcID)
}

// Get returns the cached score and reasoning for a pair, if present.
func (c *ScoreCache) Get(ingredient string, fdcID int) (float64, string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.scores[scoreKey(ingredient, fdcID)]
	return entry.Score, entry.Reasoning, ok
}

// Put records a score for a pair.
func (c *ScoreCache) Put(ingredient string, fdcID int, score float64, reasoning string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.scores[scoreKey(ingredient, fdcID)] = scoredEntry{Score: score, Reasoning: reasoning}
}

// Size returns the number of cached pairs.
func (c *ScoreCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.scores)
}
