package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
	"github.com/nutrimap/resolver/internal/infrastructure/llm"
)

const intentSystemPrompt = "You are a helpful assistant that returns only valid JSON."

const intentPromptTemplate = `You are a nutrition database expert. Analyze this ingredient and generate search intent for USDA FoodData Central API keyword search.

Ingredient: %q

SEMANTIC UNDERSTANDING:
- "black pepper" = spice (pepper that is black), belongs to spices category. USDA format: "Spices, pepper, black" or "Pepper, black"
- "onion" = vegetable, can be yellow/red/white onion (VALID color types). USDA format: "Onions, raw" or "Onions, yellow"
- "vegetable oil" = generic cooking oil. USDA format: "Oil, vegetable" or "Vegetable oil"
- Color/type AFTER ingredient = VALID modifier (e.g., "Onions, yellow" for "onion")
- Color/type BEFORE ingredient = DIFFERENT variety (e.g., "Green onion" is different from "onion")

USDA API uses keyword search - generate search_query that will return the ingredient itself, not unrelated items.

Return JSON with 5 fields:

1. search_query: Best search terms for USDA keyword search. Be strategic:
   - For "black pepper": use "pepper black" or "spices pepper" (helps find spice category)
   - For "onion": use "onions raw" (plural + form narrows results)
   - For "vegetable oil": use "vegetable oil" (keep as phrase)
   - Goal: Terms that return the actual ingredient, not items containing the word

2. is_phrase: true if multi-word is a compound name (oils, spices). false for single words.

3. preferred_form: Standard form (dairy->"whole", produce->"raw"). Empty if no preference.

4. avoid: Words indicating WRONG matches. Key distinctions:
   - For "onion": Avoid "green", "scallion", "shallot" (different varieties) BUT allow "yellow", "red", "white" (valid color types)
   - For "black pepper": Avoid "beans", "bell pepper" (different items)
   - For animal products: Avoid plant-based alternatives
   - Avoid processed forms when raw expected
   - Avoid compound foods containing ingredient
   - CRITICAL: Color/type words AFTER ingredient are VALID (e.g., "yellow" in "Onions, yellow")
   - Color/type words BEFORE ingredient are NOT OK (e.g., "green" in "Green onion")

5. expected_pattern: Expected USDA description format:
   - "black pepper" -> "Spices, pepper, black" or "Pepper, black"
   - "onion" -> "Onions, raw" or "Onions, yellow"
   - "vegetable oil" -> "Oil, vegetable"

Return ONLY valid JSON.`

// IntentGenerator produces structured search plans for ingredients, consulting
// a persistent cache before the LLM. With no chat client configured every
// ingredient gets the deterministic fallback intent.
type IntentGenerator struct {
	chat  domain.ChatClient
	cache domain.IntentCache
	log   zerolog.Logger
}

// NewIntentGenerator builds an intent generator. chat and cache may each be
// nil.
func NewIntentGenerator(chat domain.ChatClient, cache domain.IntentCache, logger zerolog.Logger) *IntentGenerator {
	return &IntentGenerator{
		chat:  chat,
		cache: cache,
		log:   logger.With().Str("component", "intent_generator").Logger(),
	}
}

// fallbackIntent is the deterministic plan used when no LLM answer is
// available: the ingredient itself, phrase-quoted when multi-word.
func fallbackIntent(ingredient string) *domain.SearchIntent {
	return &domain.SearchIntent{
		SearchQuery: ingredient,
		IsPhrase:    strings.Contains(strings.TrimSpace(ingredient), " "),
	}
}

// Generate returns the search intent for an ingredient. cached reports
// whether the intent came from the persistent cache.
func (g *IntentGenerator) Generate(ctx context.Context, ingredient string) (intent *domain.SearchIntent, cached bool, err error) {
	ingredient = strings.TrimSpace(ingredient)
	if ingredient == "" {
		return nil, false, domain.ErrInvalidIngredient
	}

	if g.cache != nil {
		if hit, ok := g.cache.Get(ingredient); ok {
			return hit, true, nil
		}
	}

	if g.chat == nil {
		return fallbackIntent(ingredient), false, nil
	}

	prompt := fmt.Sprintf(intentPromptTemplate, ingredient)
	reply, err := g.chat.Complete(ctx, intentSystemPrompt, prompt, 0, true)
	if err != nil {
		g.log.Warn().Err(err).Str("ingredient", ingredient).Msg("intent generation failed, using fallback")
		return fallbackIntent(ingredient), false, nil
	}

	intent, parseErr := parseIntentReply(reply, ingredient)
	if parseErr != nil {
		// One re-prompt without the json-object constraint; some backends
		// honor the constraint but still wrap the payload unusably.
		g.log.Warn().Err(parseErr).Str("ingredient", ingredient).Msg("unparseable intent reply, re-prompting without format constraint")
		reply, err = g.chat.Complete(ctx, intentSystemPrompt, prompt, 0, false)
		if err == nil {
			intent, parseErr = parseIntentReply(reply, ingredient)
		}
		if err != nil || parseErr != nil {
			g.log.Warn().Str("ingredient", ingredient).Msg("intent reply still unusable, using fallback")
			return fallbackIntent(ingredient), false, nil
		}
	}

	// Cache only real LLM answers; fallbacks would pin a bad plan forever.
	if g.cache != nil {
		if err := g.cache.Put(ingredient, intent); err != nil {
			g.log.Warn().Err(err).Msg("failed to persist intent")
		}
	}
	return intent, false, nil
}

// parseIntentReply normalizes the model's JSON. The search query may come
// back as a list or a quoted string; both are tolerated.
func parseIntentReply(reply, ingredient string) (*domain.SearchIntent, error) {
	var raw struct {
		SearchQuery     json.RawMessage `json:"search_query"`
		IsPhrase        bool            `json:"is_phrase"`
		PreferredForm   string          `json:"preferred_form"`
		Avoid           []string        `json:"avoid"`
		ExpectedPattern string          `json:"expected_pattern"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	query := decodeSearchQuery(raw.SearchQuery)
	query = strings.Trim(strings.TrimSpace(query), `"'`)
	if query == "" {
		query = ingredient
	}

	return &domain.SearchIntent{
		SearchQuery:     query,
		IsPhrase:        raw.IsPhrase,
		PreferredForm:   raw.PreferredForm,
		Avoid:           raw.Avoid,
		ExpectedPattern: raw.ExpectedPattern,
	}, nil
}

func decodeSearchQuery(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
