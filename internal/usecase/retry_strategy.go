package usecase

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
)

// knownVariants lists alternate catalog phrasings for foods that rarely
// appear under their plain name.
var knownVariants = []struct {
	key      string
	variants []string
}{
	{"tzatziki", []string{"tzatziki", "tzatziki dip", "tzatziki sauce"}},
	{"guacamole", []string{"guacamole", "guacamole nfs", "avocado guacamole"}},
	{"chutney", []string{"chutney", "chutney nfs", "mango chutney"}},
	{"brandy", []string{"brandy", "brandy distilled", "alcoholic beverage brandy"}},
	{"sorbet", []string{"sorbet", "sorbet frozen", "fruit sorbet"}},
	{"gelato", []string{"gelato", "gelato ice cream", "italian gelato"}},
}

// retryModifiers are appended one at a time when no known variant applies.
var retryModifiers = []string{"raw", "fresh", "dried", "whole"}

// categoryTerms map ingredient words to a broader category used by the
// last-resort search strategy.
var categoryTerms = []struct {
	key      string
	category string
}{
	{"rice", "grain"},
	{"lentil", "legume"},
	{"pepper", "spice"},
	{"cheese", "dairy"},
	{"oil", "fat"},
	{"vinegar", "condiment"},
	{"herb", "spice"},
	{"spice", "spice"},
}

// RetryStrategist rewrites a failed search plan into a different query for
// the next attempt.
type RetryStrategist struct {
	categoryRetries bool
	log             zerolog.Logger
}

// NewRetryStrategist builds a strategist. When categoryRetries is set,
// attempts beyond the second switch to category-based queries.
func NewRetryStrategist(categoryRetries bool, logger zerolog.Logger) *RetryStrategist {
	return &RetryStrategist{
		categoryRetries: categoryRetries,
		log:             logger.With().Str("component", "retry_strategist").Logger(),
	}
}

// Plan derives the search intent for overall attempt number attempt (2 and
// up). Known catalog variants take precedence over the word-order/plural
// mutation. base is the intent from the first attempt and is never mutated;
// previous holds every query already tried, so the returned plan never
// repeats one.
func (r *RetryStrategist) Plan(ingredient string, attempt int, previous []string, base *domain.SearchIntent) *domain.SearchIntent {
	intent := &domain.SearchIntent{SearchQuery: strings.TrimSpace(ingredient)}
	if base != nil {
		clone := *base
		intent = &clone
	}
	baseQuery := intent.SearchQuery
	if baseQuery == "" {
		baseQuery = ingredient
	}

	words := strings.Fields(strings.ToLower(ingredient))

	if attempt > 2 && r.categoryRetries {
		r.categorySearch(intent, ingredient, words, attempt)
	} else if !r.knownVariant(intent, ingredient, previous, attempt) {
		r.wordOrderOrPlural(intent, words, attempt)
		if containsQuery(previous, intent.SearchQuery) {
			r.modifierOrSimplify(intent, ingredient, baseQuery, words, attempt)
		}
	}

	// Never resubmit a query that already failed.
	if containsQuery(previous, intent.SearchQuery) {
		if len(words) > 1 {
			intent.SearchQuery = words[len(words)-1]
		} else {
			intent.SearchQuery = ingredient
		}
	}

	r.log.Debug().
		Str("ingredient", ingredient).
		Int("attempt", attempt).
		Str("query", intent.SearchQuery).
		Str("reason", intent.RetryReason).
		Msg("retry plan")
	return intent
}

// wordOrderOrPlural reverses multi-word queries and toggles plurality on
// single words.
func (r *RetryStrategist) wordOrderOrPlural(intent *domain.SearchIntent, words []string, attempt int) {
	if len(words) > 1 {
		reversed := make([]string, len(words))
		for i, w := range words {
			reversed[len(words)-1-i] = w
		}
		intent.SearchQuery = strings.Join(reversed, " ")
	} else if len(words) == 1 {
		if strings.HasSuffix(words[0], "s") {
			intent.SearchQuery = strings.TrimSuffix(words[0], "s")
		} else {
			intent.SearchQuery = words[0] + "s"
		}
	}
	intent.RetryReason = fmt.Sprintf("Attempt %d: Trying word order/singular-plural variation", attempt)
}

// knownVariant substitutes the first untried catalog phrasing for a matched
// variant key. Returns false when no variant applies or all are exhausted.
func (r *RetryStrategist) knownVariant(intent *domain.SearchIntent, ingredient string, previous []string, attempt int) bool {
	lower := strings.ToLower(ingredient)
	for _, v := range knownVariants {
		if !strings.Contains(lower, v.key) {
			continue
		}
		for _, variant := range v.variants {
			if !containsQuery(previous, variant) {
				intent.SearchQuery = variant
				intent.RetryReason = fmt.Sprintf("Attempt %d: Trying variation %q", attempt, variant)
				return true
			}
		}
	}
	return false
}

// modifierOrSimplify tacks a form modifier onto the query, then strips the
// query to its first word.
func (r *RetryStrategist) modifierOrSimplify(intent *domain.SearchIntent, ingredient, baseQuery string, words []string, attempt int) {
	lowerBase := strings.ToLower(baseQuery)
	for _, mod := range retryModifiers {
		if !strings.Contains(lowerBase, mod) {
			intent.SearchQuery = baseQuery + " " + mod
			intent.RetryReason = fmt.Sprintf("Attempt %d: Adding modifier %q", attempt, mod)
			return
		}
	}

	if len(words) > 0 {
		intent.SearchQuery = words[0]
	} else {
		intent.SearchQuery = ingredient
	}
	intent.RetryReason = fmt.Sprintf("Attempt %d: Simplifying query", attempt)
}

// categorySearch prefixes a word with its food category, falling back to the
// bare first word.
func (r *RetryStrategist) categorySearch(intent *domain.SearchIntent, ingredient string, words []string, attempt int) {
	for _, word := range words {
		for _, ct := range categoryTerms {
			if strings.Contains(word, ct.key) {
				intent.SearchQuery = ct.category + " " + word
				intent.RetryReason = fmt.Sprintf("Attempt %d: Category-based search (%s)", attempt, ct.category)
				return
			}
		}
	}

	if len(words) > 0 {
		intent.SearchQuery = words[0]
	} else {
		intent.SearchQuery = ingredient
	}
	intent.RetryReason = fmt.Sprintf("Attempt %d: Minimal query (last resort)", attempt)
}

func containsQuery(previous []string, query string) bool {
	for _, p := range previous {
		if p == query {
			return true
		}
	}
	return false
}
