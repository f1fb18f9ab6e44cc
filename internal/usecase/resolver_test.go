package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimap/resolver/internal/domain"
	"github.com/nutrimap/resolver/internal/infrastructure/cache"
)

// newTestResolver wires a full pipeline over fakes. Chat clients are passed
// per stage so each test controls exactly one conversation; nil disables the
// stage's LLM.
func newTestResolver(t *testing.T, mappings map[string]domain.MappingEntry, catalog *fakeCatalog, intentChat, semChat, gateChat domain.ChatClient, maxAttempts int) *Resolver {
	t.Helper()
	store, err := NewMappingStore(writeMappingFile(t, mappings), zerolog.Nop())
	require.NoError(t, err)
	normalizer, err := NewNutrientNormalizer()
	require.NoError(t, err)

	return NewResolver(
		store,
		NewIntentGenerator(intentChat, newMemIntentCache(), zerolog.Nop()),
		NewRetryStrategist(false, zerolog.Nop()),
		NewTierSearcher(catalog, NewRelevanceScorer(), zerolog.Nop()),
		NewSemanticVerifier(semChat, cache.NewScoreCache(), 3, zerolog.Nop()),
		NewNutritionalGate(catalog, gateChat, normalizer, nil, zerolog.Nop()),
		normalizer,
		catalog,
		maxAttempts,
		zerolog.Nop(),
	)
}

func riceCatalog() *fakeCatalog {
	return &fakeCatalog{
		byFilter: map[string][]domain.FDCFood{
			"Foundation,SR Legacy": {
				{FdcID: 100, Description: "Rice, jasmine, cooked", DataType: domain.DataTypeFoundation},
				{FdcID: 200, Description: "Rice, white, long-grain", DataType: domain.DataTypeSRLegacy},
			},
		},
		details: map[int]*domain.FDCFoodDetail{
			100: detailFixture(100, "Rice, jasmine, cooked", map[string]float64{"Energy": 130, "Protein": 2.7}),
			200: detailFixture(200, "Rice, white, long-grain", map[string]float64{"Energy": 365, "Protein": 7.1}),
		},
	}
}

func TestResolver_CuratedMappingFastPath(t *testing.T) {
	catalog := riceCatalog()
	mappings := map[string]domain.MappingEntry{
		"jasmine rice": {FdcID: 100, Description: "Rice, jasmine, cooked", Verified: true},
	}
	resolver := newTestResolver(t, mappings, catalog, nil, nil, nil, 2)

	record := resolver.Resolve(context.Background(), "jasmine rice")

	require.NotNil(t, record.FdcID)
	assert.Equal(t, 100, *record.FdcID)
	assert.Equal(t, domain.FlagHighConfidence, record.Flag)
	assert.Equal(t, domain.StatusCuratedMapping, record.MappingStatus)
	// Wire value consumed downstream; pinned literally.
	assert.Equal(t, "curated_mapping", record.Source)
	assert.Equal(t, 100.0, *record.SemanticMatchScore)
	assert.Equal(t, 100.0, *record.NutritionalSimilarityScore)
	require.NotNil(t, record.Nutrients["nutrient-calories-energy"])
	assert.Equal(t, 130.0, record.Nutrients["nutrient-calories-energy"].Amount)

	// The fast path never touches search.
	assert.Empty(t, catalog.searches)
	assert.True(t, record.Resolved())
}

func TestResolver_DirectSemanticHigh(t *testing.T) {
	catalog := riceCatalog()
	semChat := &fakeChat{replies: []string{
		`[{"fdc_id": 100, "semantic_match_score": 95, "reasoning": "same variety"}]`,
	}}
	resolver := newTestResolver(t, nil, catalog, nil, semChat, nil, 2)

	record := resolver.Resolve(context.Background(), "jasmine rice")

	require.NotNil(t, record.FdcID)
	assert.Equal(t, 100, *record.FdcID)
	assert.Equal(t, domain.FlagHighConfidence, record.Flag)
	assert.Equal(t, domain.StatusVerifiedSemanticHigh, record.MappingStatus)
	assert.Equal(t, "search", record.Source)
	assert.Equal(t, 95.0, *record.SemanticMatchScore)
	assert.Nil(t, record.NutritionalSimilarityScore)
	assert.Equal(t, 1, record.RetryAttempts)
	assert.Equal(t, []string{"jasmine rice"}, record.SearchQueriesUsed)

	require.NotNil(t, record.Debug)
	assert.Equal(t, 1, record.Debug.Counters.LLMCalls)
	// 4 tier searches plus one detail fetch.
	assert.Equal(t, 5, record.Debug.Counters.APICalls)
	require.Len(t, record.Debug.Attempts, 1)
	assert.True(t, record.Debug.Attempts[0].Success)
}

func TestResolver_DirectFallsBackToNextVerifiedCandidate(t *testing.T) {
	catalog := riceCatalog()
	delete(catalog.details, 100)
	semChat := &fakeChat{replies: []string{`[
		{"fdc_id": 100, "semantic_match_score": 95},
		{"fdc_id": 200, "semantic_match_score": 92}
	]`}}
	resolver := newTestResolver(t, nil, catalog, nil, semChat, nil, 1)

	record := resolver.Resolve(context.Background(), "jasmine rice")

	require.NotNil(t, record.FdcID)
	assert.Equal(t, 200, *record.FdcID)
	assert.Equal(t, domain.StatusVerifiedSemanticHigh, record.MappingStatus)
	assert.Equal(t, 95.0, *record.SemanticMatchScore)
}

func TestResolver_GatedConfidenceLadder(t *testing.T) {
	cases := []struct {
		name       string
		semantic   float64
		similarity float64
		flag       string
		status     string
	}{
		{"strong semantic and nutritional", 85, 92, domain.FlagHighConfidence, domain.StatusVerifiedHigh},
		{"strong semantic, mid nutritional", 85, 84, domain.FlagMidConfidence, domain.StatusVerifiedMid},
		{"weak semantic, strong nutritional", 70, 93, domain.FlagMidConfidence, domain.StatusVerifiedMidSemanticLow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			catalog := riceCatalog()
			semChat := &fakeChat{replies: []string{
				`[{"fdc_id": 100, "semantic_match_score": ` + formatScore(tc.semantic) + `}]`,
			}}
			gateChat := &fakeChat{replies: []string{
				`{"calories": 130, "protein_g": 2.7}`,
				`[{"fdc_id": 100, "nutritional_similarity_score": ` + formatScore(tc.similarity) + `, "reasoning": "profile comparison"}]`,
			}}
			resolver := newTestResolver(t, nil, catalog, nil, semChat, gateChat, 1)

			record := resolver.Resolve(context.Background(), "jasmine rice")

			require.NotNil(t, record.FdcID)
			assert.Equal(t, 100, *record.FdcID)
			assert.Equal(t, tc.flag, record.Flag)
			assert.Equal(t, tc.status, record.MappingStatus)
			assert.Equal(t, tc.semantic, *record.SemanticMatchScore)
			assert.Equal(t, tc.similarity, *record.NutritionalSimilarityScore)
			assert.Equal(t, "profile comparison", record.Reasoning)
			// Semantic + expected + comparison.
			assert.Equal(t, 3, record.Debug.Counters.LLMCalls)
		})
	}
}

func TestResolver_SemanticBandBoundaries(t *testing.T) {
	t.Run("exactly 90 maps directly, gate never consulted", func(t *testing.T) {
		catalog := riceCatalog()
		semChat := &fakeChat{replies: []string{
			`[{"fdc_id": 100, "semantic_match_score": 90}]`,
		}}
		gateChat := &fakeChat{}
		resolver := newTestResolver(t, nil, catalog, nil, semChat, gateChat, 1)

		record := resolver.Resolve(context.Background(), "jasmine rice")

		require.NotNil(t, record.FdcID)
		assert.Equal(t, domain.FlagHighConfidence, record.Flag)
		assert.Equal(t, domain.StatusVerifiedSemanticHigh, record.MappingStatus)
		assert.Equal(t, 90.0, *record.SemanticMatchScore)
		assert.Nil(t, record.NutritionalSimilarityScore)
		assert.Empty(t, gateChat.prompts)
		assert.Equal(t, 1, record.Debug.Counters.LLMCalls)
	})

	t.Run("exactly 80 semantic with exactly 80 nutritional is mid confidence", func(t *testing.T) {
		catalog := riceCatalog()
		semChat := &fakeChat{replies: []string{
			`[{"fdc_id": 100, "semantic_match_score": 80}]`,
		}}
		gateChat := &fakeChat{replies: []string{
			`{"calories": 130, "protein_g": 2.7}`,
			`[{"fdc_id": 100, "nutritional_similarity_score": 80, "reasoning": "profile comparison"}]`,
		}}
		resolver := newTestResolver(t, nil, catalog, nil, semChat, gateChat, 1)

		record := resolver.Resolve(context.Background(), "jasmine rice")

		require.NotNil(t, record.FdcID)
		assert.Equal(t, domain.FlagMidConfidence, record.Flag)
		assert.Equal(t, domain.StatusVerifiedMid, record.MappingStatus)
		assert.Equal(t, 80.0, *record.SemanticMatchScore)
		assert.Equal(t, 80.0, *record.NutritionalSimilarityScore)
	})

	t.Run("exactly 65 semantic needs 90 nutritional", func(t *testing.T) {
		catalog := riceCatalog()
		semChat := &fakeChat{replies: []string{
			`[{"fdc_id": 100, "semantic_match_score": 65}]`,
		}}
		gateChat := &fakeChat{replies: []string{
			`{"calories": 130}`,
			`[{"fdc_id": 100, "nutritional_similarity_score": 89, "reasoning": "close"}]`,
		}}
		resolver := newTestResolver(t, nil, catalog, nil, semChat, gateChat, 1)

		record := resolver.Resolve(context.Background(), "jasmine rice")

		assert.Nil(t, record.FdcID)
		assert.Equal(t, domain.FlagNoMapping, record.Flag)
		assert.Equal(t, domain.StatusNutritionalMismatch, record.MappingStatus)
		assert.Equal(t, 65.0, *record.SemanticMatchScore)
		assert.Equal(t, 89.0, *record.NutritionalSimilarityScore)
	})

	t.Run("just below 65 skips the gate entirely", func(t *testing.T) {
		catalog := riceCatalog()
		semChat := &fakeChat{replies: []string{
			`[{"fdc_id": 100, "semantic_match_score": 64.9}]`,
		}}
		gateChat := &fakeChat{}
		resolver := newTestResolver(t, nil, catalog, nil, semChat, gateChat, 1)

		record := resolver.Resolve(context.Background(), "jasmine rice")

		assert.Nil(t, record.FdcID)
		assert.Equal(t, domain.FlagNoMapping, record.Flag)
		assert.Equal(t, domain.StatusSemanticScoreTooLow, record.MappingStatus)
		assert.Equal(t, 64.9, *record.SemanticMatchScore)
		assert.Nil(t, record.NutritionalSimilarityScore)
		assert.Empty(t, gateChat.prompts)
	})
}

func TestResolver_NutritionalBelowBandThreshold(t *testing.T) {
	// Semantic 70 puts the nutritional threshold at 90; similarity 85 is not
	// enough.
	catalog := riceCatalog()
	semChat := &fakeChat{replies: []string{
		`[{"fdc_id": 100, "semantic_match_score": 70}]`,
	}}
	gateChat := &fakeChat{replies: []string{
		`{"calories": 130}`,
		`[{"fdc_id": 100, "nutritional_similarity_score": 85, "reasoning": "close but not identical"}]`,
	}}
	resolver := newTestResolver(t, nil, catalog, nil, semChat, gateChat, 1)

	record := resolver.Resolve(context.Background(), "jasmine rice")

	assert.Nil(t, record.FdcID)
	assert.Equal(t, domain.FlagNoMapping, record.Flag)
	assert.Equal(t, domain.StatusNutritionalMismatch, record.MappingStatus)
	assert.Equal(t, 70.0, *record.SemanticMatchScore)
	assert.Equal(t, 85.0, *record.NutritionalSimilarityScore)
	assert.False(t, record.Resolved())
}

func TestResolver_SemanticTooLowRetriesWithNewQuery(t *testing.T) {
	catalog := riceCatalog()
	semChat := &fakeChat{replies: []string{
		`[{"fdc_id": 100, "semantic_match_score": 50}]`,
		`[{"fdc_id": 100, "semantic_match_score": 95}]`,
	}}
	resolver := newTestResolver(t, nil, catalog, nil, semChat, nil, 2)

	record := resolver.Resolve(context.Background(), "jasmine rice")

	require.NotNil(t, record.FdcID)
	assert.Equal(t, 100, *record.FdcID)
	assert.Equal(t, 2, record.RetryAttempts)
	assert.Equal(t, []string{"jasmine rice", "rice jasmine"}, record.SearchQueriesUsed)
	require.Len(t, record.Debug.Attempts, 2)
	assert.False(t, record.Debug.Attempts[0].Success)
	assert.True(t, record.Debug.Attempts[1].Success)
}

func TestResolver_SemanticTooLowExhaustsAttempts(t *testing.T) {
	catalog := riceCatalog()
	semChat := &fakeChat{replies: []string{
		`[{"fdc_id": 100, "semantic_match_score": 40}]`,
		`[{"fdc_id": 100, "semantic_match_score": 45}]`,
	}}
	resolver := newTestResolver(t, nil, catalog, nil, semChat, nil, 2)

	record := resolver.Resolve(context.Background(), "jasmine rice")

	assert.Nil(t, record.FdcID)
	assert.Equal(t, domain.FlagNoMapping, record.Flag)
	assert.Equal(t, domain.StatusSemanticScoreTooLow, record.MappingStatus)
	assert.Equal(t, 45.0, *record.SemanticMatchScore)
	assert.Equal(t, 2, record.RetryAttempts)
}

func TestResolver_RetryUsesKnownCatalogVariant(t *testing.T) {
	// Single-word ingredients with a catalog variant list retry under the
	// variant phrasing rather than a plural toggle.
	catalog := &fakeCatalog{
		byFilter: map[string][]domain.FDCFood{
			"Survey (FNDDS)": {
				{FdcID: 300, Description: "Yogurt dip, tzatziki", DataType: domain.DataTypeSurvey},
			},
		},
	}
	semChat := &fakeChat{replies: []string{
		`[{"fdc_id": 300, "semantic_match_score": 55, "reasoning": "related dip"}]`,
		`[{"fdc_id": 300, "semantic_match_score": 58, "reasoning": "related dip"}]`,
	}}
	resolver := newTestResolver(t, nil, catalog, nil, semChat, nil, 2)

	record := resolver.Resolve(context.Background(), "tzatziki")

	assert.Nil(t, record.FdcID)
	assert.Equal(t, domain.FlagNoMapping, record.Flag)
	assert.Equal(t, domain.StatusSemanticScoreTooLow, record.MappingStatus)
	assert.Equal(t, []string{"tzatziki", "tzatziki dip"}, record.SearchQueriesUsed)
	assert.Equal(t, 58.0, *record.SemanticMatchScore)
	assert.Equal(t, 2, record.RetryAttempts)
	assert.Equal(t, "none", record.Source)
}

func TestResolver_NoSearchResults(t *testing.T) {
	catalog := &fakeCatalog{byFilter: map[string][]domain.FDCFood{}}
	resolver := newTestResolver(t, nil, catalog, nil, nil, nil, 2)

	record := resolver.Resolve(context.Background(), "unobtainium")

	assert.Nil(t, record.FdcID)
	assert.Equal(t, domain.FlagNoMapping, record.Flag)
	assert.Equal(t, domain.StatusNoSearchResults, record.MappingStatus)
	assert.Equal(t, "none", record.Source)
	assert.Len(t, record.SearchQueriesUsed, 2)
	// Full nutrient key set is present even on failure.
	assert.NotEmpty(t, record.Nutrients)
	for _, value := range record.Nutrients {
		assert.Nil(t, value)
	}
}

func TestResolver_EmptyIngredient(t *testing.T) {
	resolver := newTestResolver(t, nil, riceCatalog(), nil, nil, nil, 2)

	record := resolver.Resolve(context.Background(), "   ")

	assert.Equal(t, domain.FlagNoMapping, record.Flag)
	assert.Equal(t, domain.StatusException, record.MappingStatus)
}

func TestResolver_PanicBecomesExceptionRecord(t *testing.T) {
	// A curated hit with a nil catalog panics inside the pipeline; the record
	// must still come back.
	mappings := map[string]domain.MappingEntry{
		"olive oil": {FdcID: 500, Description: "Oil, olive"},
	}
	store, err := NewMappingStore(writeMappingFile(t, mappings), zerolog.Nop())
	require.NoError(t, err)
	normalizer, err := NewNutrientNormalizer()
	require.NoError(t, err)
	resolver := NewResolver(
		store,
		NewIntentGenerator(nil, nil, zerolog.Nop()),
		NewRetryStrategist(false, zerolog.Nop()),
		nil, nil, nil,
		normalizer,
		nil,
		1,
		zerolog.Nop(),
	)

	record := resolver.Resolve(context.Background(), "olive oil")

	require.NotNil(t, record)
	assert.Equal(t, domain.FlagNoMapping, record.Flag)
	assert.Equal(t, domain.StatusException, record.MappingStatus)
	assert.Contains(t, record.Reasoning, "internal error")
}

func formatScore(score float64) string {
	// Scores in these fixtures are whole numbers.
	return fmt.Sprintf("%.0f", score)
}
