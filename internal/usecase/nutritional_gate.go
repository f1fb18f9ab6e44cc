package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nutrimap/resolver/internal/domain"
	"github.com/nutrimap/resolver/internal/infrastructure/llm"
)

// Default weights for the comparison vector. Macros dominate; trace nutrients
// nudge.
var defaultNutrientWeights = map[string]float64{
	"calories":              0.15,
	"calories_from_fat":     0.05,
	"total_fat_g":           0.10,
	"saturated_fat_g":       0.08,
	"trans_fat_g":           0.05,
	"polyunsaturated_fat_g": 0.05,
	"monounsaturated_fat_g": 0.05,
	"cholesterol_mg":        0.05,
	"sodium_mg":             0.08,
	"total_carbs_g":         0.10,
	"dietary_fiber_g":       0.08,
	"total_sugars_g":        0.05,
	"added_sugars_g":        0.03,
	"sugar_alcohols_g":      0.02,
	"protein_g":             0.12,
	"vitamin_a_mcg":         0.03,
	"vitamin_c_mg":          0.03,
	"vitamin_d_mcg":         0.02,
	"calcium_mg":            0.05,
	"iron_mg":               0.05,
	"potassium_mg":          0.05,
}

// Canonical nutrient IDs backing each comparison-vector key.
var comparisonVectorIDs = map[string]string{
	"calories":              "nutrient-calories-energy",
	"total_fat_g":           "nutrient-total-fat",
	"saturated_fat_g":       "nutrient-saturated-fat",
	"trans_fat_g":           "nutrient-trans-fat",
	"polyunsaturated_fat_g": "nutrient-polyunsaturated-fat",
	"monounsaturated_fat_g": "nutrient-monounsaturated-fat",
	"cholesterol_mg":        "nutrient-cholesterol",
	"sodium_mg":             "nutrient-sodium",
	"total_carbs_g":         "nutrient-total-carbohydrates",
	"dietary_fiber_g":       "nutrient-dietary-fiber",
	"total_sugars_g":        "nutrient-total-sugars",
	"added_sugars_g":        "nutrient-added-sugars",
	"sugar_alcohols_g":      "nutrient-sugar-alcohols",
	"protein_g":             "nutrient-protein",
	"vitamin_a_mcg":         "nutrient-vitamin-a-rae",
	"vitamin_c_mg":          "nutrient-vitamin-c-ascorbic-acid",
	"vitamin_d_mcg":         "nutrient-vitamin-d",
	"calcium_mg":            "nutrient-calcium",
	"iron_mg":               "nutrient-iron",
	"potassium_mg":          "nutrient-potassium",
}

const nutritionalSystemPrompt = "You are a helpful assistant that returns only valid JSON arrays. Use web search knowledge for typical nutritional values."

const expectedNutritionSystemPrompt = "You are a helpful assistant that returns only valid JSON."

// GateResult is one candidate that passed through the nutritional gate,
// carrying its similarity judgment and full extracted nutrient set.
type GateResult struct {
	Candidate domain.Candidate
	Score     float64
	Reasoning string
	Detail    *domain.FDCFoodDetail
	Nutrients map[string]*domain.NutrientValue
}

// GateStats counts the external work one gate pass consumed.
type GateStats struct {
	APICalls int
	LLMCalls int
}

// NutritionalGate fetches full records for the semantically verified
// candidates and scores how closely their nutrient profiles match what the
// ingredient should look like.
type NutritionalGate struct {
	catalog    domain.CatalogClient
	chat       domain.ChatClient
	normalizer *NutrientNormalizer
	weights    map[string]float64
	log        zerolog.Logger
}

// NewNutritionalGate builds a gate. weights overrides the default table when
// non-nil; chat may be nil, in which case every candidate scores the neutral
// fallback.
func NewNutritionalGate(catalog domain.CatalogClient, chat domain.ChatClient, normalizer *NutrientNormalizer, weights map[string]float64, logger zerolog.Logger) *NutritionalGate {
	if weights == nil {
		weights = defaultNutrientWeights
	}
	return &NutritionalGate{
		catalog:    catalog,
		chat:       chat,
		normalizer: normalizer,
		weights:    weights,
		log:        logger.With().Str("component", "nutritional_gate").Logger(),
	}
}

// fallbackSimilarityScore is assigned when no comparison basis exists at all.
const fallbackSimilarityScore = 70.0

// Assess fetches detail records for the verified candidates in parallel,
// extracts their nutrient vectors and scores similarity. Results come back
// sorted by similarity, descending. Candidates whose detail fetch or
// extraction fails are dropped.
func (g *NutritionalGate) Assess(ctx context.Context, ingredient string, verified []VerifiedCandidate) ([]GateResult, GateStats, error) {
	var stats GateStats
	if len(verified) == 0 {
		return nil, stats, domain.ErrNoCandidates
	}

	results := make([]*GateResult, len(verified))
	var mu sync.Mutex

	eg, gctx := errgroup.WithContext(ctx)
	for i, vc := range verified {
		eg.Go(func() error {
			detail, err := g.catalog.GetFoodDetail(gctx, vc.Candidate.FdcID)
			mu.Lock()
			stats.APICalls++
			mu.Unlock()
			if err != nil {
				g.log.Warn().Err(err).Int("fdc_id", vc.Candidate.FdcID).Msg("detail fetch failed, dropping candidate")
				return nil
			}
			nutrients, err := g.normalizer.Extract(detail)
			if err != nil {
				g.log.Warn().Err(err).Int("fdc_id", vc.Candidate.FdcID).Msg("nutrient extraction failed, dropping candidate")
				return nil
			}
			results[i] = &GateResult{
				Candidate: vc.Candidate,
				Detail:    detail,
				Nutrients: nutrients,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, stats, err
	}

	kept := make([]GateResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			kept = append(kept, *r)
		}
	}
	if len(kept) == 0 {
		return nil, stats, domain.ErrNoCandidates
	}

	expected := g.expectedNutrition(ctx, ingredient, &stats)
	g.scoreCandidates(ctx, ingredient, kept, expected, &stats)

	sort.SliceStable(kept, func(a, b int) bool {
		return kept[a].Score > kept[b].Score
	})
	return kept, stats, nil
}

// BasicNutrients reduces a full canonical set to the weighted comparison
// vector. calories_from_fat is derived when total fat is known.
func (g *NutritionalGate) BasicNutrients(full map[string]*domain.NutrientValue) map[string]float64 {
	vector := make(map[string]float64)
	for key, id := range comparisonVectorIDs {
		if value := full[id]; value != nil {
			vector[key] = value.Amount
		}
	}
	if fat, ok := vector["total_fat_g"]; ok {
		vector["calories_from_fat"] = fat * 9
	}
	return vector
}

// WeightedSimilarity computes the deterministic similarity between two
// comparison vectors, 0-100.
func (g *NutritionalGate) WeightedSimilarity(expected, actual map[string]float64) (float64, string) {
	if len(expected) == 0 || len(actual) == 0 {
		return 0, "Missing nutritional data for comparison"
	}

	totalWeight := 0.0
	weightedScore := 0.0
	var differences []string

	keys := make([]string, 0, len(g.weights))
	for key := range g.weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		weight := g.weights[key]
		expectedValue, hasExpected := expected[key]
		actualValue, hasActual := actual[key]

		if !hasExpected && !hasActual {
			continue
		}
		if !hasExpected || !hasActual {
			weightedScore += weight * 0.3
			totalWeight += weight
			differences = append(differences, fmt.Sprintf("%s: missing in one", key))
			continue
		}

		var similarity float64
		var relativeDiff float64
		switch {
		case expectedValue == 0 && actualValue == 0:
			similarity = 1.0
		case expectedValue == 0 || actualValue == 0:
			similarity = 0.2
			relativeDiff = 1.0
		default:
			diff := math.Abs(expectedValue - actualValue)
			avg := (expectedValue + actualValue) / 2
			relativeDiff = diff / avg
			similarity = math.Max(0, 1-math.Min(relativeDiff, 2.0))
		}

		weightedScore += weight * similarity
		totalWeight += weight

		if relativeDiff > 0.3 {
			differences = append(differences, fmt.Sprintf("%s: %.1f%% diff", key, relativeDiff*100))
		}
	}

	if totalWeight == 0 {
		return 0, "No comparable nutrients found"
	}

	score := (weightedScore / totalWeight) * 100
	reasoning := fmt.Sprintf("Similarity: %.1f%%", score)
	if len(differences) > 0 {
		limit := len(differences)
		if limit > 3 {
			limit = 3
		}
		reasoning += ". Notable differences: " + strings.Join(differences[:limit], ", ")
	}
	return score, reasoning
}

// expectedNutrition asks the LLM for a typical per-100g profile of the
// ingredient. Returns nil when no LLM is configured or the call fails.
func (g *NutritionalGate) expectedNutrition(ctx context.Context, ingredient string, stats *GateStats) map[string]float64 {
	if g.chat == nil {
		return nil
	}

	prompt := fmt.Sprintf(`You are a nutrition expert. Research and provide typical nutritional values for %q per 100g.

Consider:
- Common form (raw, cooked, etc.)
- Typical variety/type
- Standard preparation

Return JSON with nutritional values (use null if not applicable):
{
    "calories": <kcal>,
    "protein_g": <g>,
    "total_fat_g": <g>,
    "saturated_fat_g": <g>,
    "total_carbs_g": <g>,
    "dietary_fiber_g": <g>,
    "total_sugars_g": <g>,
    "sodium_mg": <mg>,
    "calcium_mg": <mg>,
    "iron_mg": <mg>,
    "vitamin_a_mcg": <mcg>,
    "vitamin_c_mg": <mg>,
    "vitamin_d_mcg": <mcg>,
    "potassium_mg": <mg>
}

Use web knowledge and typical values. Return only valid JSON.`, ingredient)

	stats.LLMCalls++
	reply, err := g.chat.Complete(ctx, expectedNutritionSystemPrompt, prompt, 0.2, true)
	if err != nil {
		g.log.Warn().Err(err).Str("ingredient", ingredient).Msg("expected-nutrition call failed")
		return nil
	}

	var raw map[string]*float64
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &raw); err != nil {
		g.log.Warn().Err(err).Msg("unparseable expected-nutrition reply")
		return nil
	}
	expected := make(map[string]float64, len(raw))
	for key, value := range raw {
		if value != nil {
			expected[key] = *value
		}
	}
	return expected
}

// scoreCandidates assigns similarity scores, preferring the LLM comparison
// and falling back to the deterministic formula, then to the neutral score.
func (g *NutritionalGate) scoreCandidates(ctx context.Context, ingredient string, kept []GateResult, expected map[string]float64, stats *GateStats) {
	if g.chat != nil {
		if scored := g.llmComparison(ctx, ingredient, kept, expected, stats); scored {
			return
		}
	}

	for i := range kept {
		vector := g.BasicNutrients(kept[i].Nutrients)
		if len(expected) > 0 {
			score, reasoning := g.WeightedSimilarity(expected, vector)
			kept[i].Score = score
			kept[i].Reasoning = reasoning
		} else {
			kept[i].Score = fallbackSimilarityScore
			kept[i].Reasoning = "Basic similarity calculation (LLM unavailable)"
		}
	}
}

// llmComparison runs the comparison prompt and reports whether it produced
// usable scores.
func (g *NutritionalGate) llmComparison(ctx context.Context, ingredient string, kept []GateResult, expected map[string]float64, stats *GateStats) bool {
	expectedText := ""
	if len(expected) > 0 {
		pairs := make([]string, 0, len(expected))
		keys := make([]string, 0, len(expected))
		for key := range expected {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %g", key, expected[key]))
		}
		expectedText = fmt.Sprintf("\nEXPECTED VALUES for '%s' (per 100g): %s\n", ingredient, strings.Join(pairs, ", "))
	}

	var lines []string
	for i, r := range kept {
		vector := g.BasicNutrients(r.Nutrients)
		keys := make([]string, 0, len(vector))
		for key := range vector {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(vector))
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %.2f", key, vector[key]))
		}
		lines = append(lines, fmt.Sprintf("%d. %s (FDC %d): %s", i+1, r.Candidate.Description, r.Candidate.FdcID, strings.Join(pairs, ", ")))
	}

	prompt := fmt.Sprintf(`You are a nutrition expert. Analyze nutritional similarity between an ingredient and USDA food results.

INGREDIENT: %q
%s
USDA FOOD RESULTS WITH NUTRITIONAL VALUES (per 100g):
%s

TASK:
1. Compare each USDA result's nutritional profile with expected values for %q
2. Calculate similarity scores (0-100) based on:
   - Core macronutrients (calories, protein, carbs, fat) - HIGH WEIGHT (40%%)
   - Key vitamins/minerals (vitamin A, C, D, calcium, iron, potassium) - MEDIUM WEIGHT (30%%)
   - Other nutrients - LOWER WEIGHT (30%%)
3. Consider acceptable variations (e.g., raw vs cooked, different varieties)
4. Use heavy reasoning: analyze each nutrient difference and its significance

Return JSON array with:
{
    "rank": <rank>,
    "fdc_id": <FDC ID>,
    "nutritional_similarity_score": 0-100,
    "reasoning": "<detailed explanation of nutritional comparison>",
    "key_differences": ["<nutrient1>: <difference>"]
}

Only include results where nutritional_similarity_score >= 50.`,
		ingredient, expectedText, strings.Join(lines, "\n"), ingredient)

	stats.LLMCalls++
	reply, err := g.chat.Complete(ctx, nutritionalSystemPrompt, prompt, 0.2, false)
	if err != nil {
		g.log.Warn().Err(err).Str("ingredient", ingredient).Msg("nutritional comparison call failed")
		return false
	}

	var rows []struct {
		FdcID     int     `json:"fdc_id"`
		Score     float64 `json:"nutritional_similarity_score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSONArray(reply)), &rows); err != nil {
		g.log.Warn().Err(err).Msg("unparseable nutritional comparison reply")
		return false
	}
	if len(rows) == 0 {
		return false
	}

	byID := make(map[int]struct {
		score     float64
		reasoning string
	}, len(rows))
	for _, row := range rows {
		byID[row.FdcID] = struct {
			score     float64
			reasoning string
		}{row.Score, row.Reasoning}
	}

	for i := range kept {
		if judged, ok := byID[kept[i].Candidate.FdcID]; ok {
			kept[i].Score = judged.score
			kept[i].Reasoning = judged.reasoning
		} else {
			// Below the model's 50-point cutoff.
			kept[i].Score = 0
			kept[i].Reasoning = "Excluded by nutritional comparison"
		}
	}
	return true
}
