package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
)

// Semantic-score bands driving the confidence state machine.
const (
	semanticDirectThreshold  = 90.0
	semanticStrongThreshold  = 80.0
	semanticMinimumThreshold = 65.0
)

// Nutritional thresholds applied per semantic band.
const (
	nutritionalDefaultThreshold = 80.0
	nutritionalStrictThreshold  = 90.0
)

// Resolver runs the full resolution pipeline for one ingredient: curated
// lookup, planned multi-tier search, semantic verification, nutritional
// similarity and retry strategies.
type Resolver struct {
	mappings    *MappingStore
	intents     *IntentGenerator
	retries     *RetryStrategist
	searcher    *TierSearcher
	verifier    *SemanticVerifier
	gate        *NutritionalGate
	normalizer  *NutrientNormalizer
	catalog     domain.CatalogClient
	maxAttempts int
	log         zerolog.Logger
}

// NewResolver wires the pipeline stages together. maxAttempts below 1 is
// clamped to 1.
func NewResolver(
	mappings *MappingStore,
	intents *IntentGenerator,
	retries *RetryStrategist,
	searcher *TierSearcher,
	verifier *SemanticVerifier,
	gate *NutritionalGate,
	normalizer *NutrientNormalizer,
	catalog domain.CatalogClient,
	maxAttempts int,
	logger zerolog.Logger,
) *Resolver {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Resolver{
		mappings:    mappings,
		intents:     intents,
		retries:     retries,
		searcher:    searcher,
		verifier:    verifier,
		gate:        gate,
		normalizer:  normalizer,
		catalog:     catalog,
		maxAttempts: maxAttempts,
		log:         logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve maps one ingredient to a catalog food. It never returns an error:
// every outcome, including an internal panic, comes back as a ResultRecord
// whose flag and mapping status explain what happened.
func (r *Resolver) Resolve(ctx context.Context, ingredient string) (record *domain.ResultRecord) {
	start := time.Now()
	debug := &domain.DebugMetadata{TierCounts: make(map[string]int)}
	record = &domain.ResultRecord{
		Ingredient: ingredient,
		Source:     domain.SourceNone,
		Flag:       domain.FlagNoMapping,
		Nutrients:  r.normalizer.EmptySet(),
		Timestamp:  time.Now(),
		Debug:      debug,
	}

	defer func() {
		if cause := recover(); cause != nil {
			r.log.Error().Interface("panic", cause).Str("ingredient", ingredient).Msg("resolution panicked")
			record.Flag = domain.FlagNoMapping
			record.MappingStatus = domain.StatusException
			record.Reasoning = fmt.Sprintf("internal error: %v", cause)
			record.FdcID = nil
			record.Source = domain.SourceNone
		}
		record.ProcessingTime = time.Since(start).Seconds()
		debug.SearchQueriesRun = record.SearchQueriesUsed
	}()

	ingredient = strings.TrimSpace(ingredient)
	record.Ingredient = ingredient
	if ingredient == "" {
		record.MappingStatus = domain.StatusException
		record.Reasoning = "empty ingredient"
		return record
	}

	r.log.Info().Str("ingredient", ingredient).Msg("resolving")

	// Fast path: curated mappings bypass search entirely.
	if entry, ok := r.mappings.Lookup(ingredient); ok {
		if r.resolveCurated(ctx, entry, record) {
			return record
		}
		r.log.Warn().Str("ingredient", ingredient).Int("fdc_id", entry.FdcID).
			Msg("curated mapping unusable, falling back to search")
	}

	var (
		previous   []string
		baseIntent *domain.SearchIntent
	)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		record.RetryAttempts = attempt
		last := attempt == r.maxAttempts

		var intent *domain.SearchIntent
		if attempt == 1 {
			generated, cached, err := r.intents.Generate(ctx, ingredient)
			if err != nil {
				record.MappingStatus = domain.StatusException
				record.Reasoning = err.Error()
				return record
			}
			if cached {
				debug.Counters.CacheHits++
			} else {
				debug.Counters.CacheMisses++
			}
			intent = generated
			baseIntent = generated
		} else {
			intent = r.retries.Plan(ingredient, attempt, previous, baseIntent)
		}

		query := intent.SearchQuery
		previous = append(previous, query)
		record.SearchQueriesUsed = append(record.SearchQueriesUsed, query)
		attemptInfo := domain.AttemptDetail{Query: query}

		searchStart := time.Now()
		searched, err := r.searcher.Search(ctx, query, ingredient)
		debug.Timings.Search += time.Since(searchStart).Seconds()
		if searched != nil {
			debug.Counters.APICalls += searched.APICalls
			for tier, count := range searched.TierCounts {
				debug.TierCounts[tier] += count
			}
		}
		if err != nil || searched == nil || len(searched.Candidates) == 0 {
			debug.Attempts = append(debug.Attempts, attemptInfo)
			record.MappingStatus = domain.StatusNoSearchResults
			record.Reasoning = fmt.Sprintf("No search results found after %d attempts with different queries", attempt)
			if err != nil {
				record.Reasoning = fmt.Sprintf("Search failed: %v", err)
			}
			if last {
				return record
			}
			continue
		}
		debug.TotalCandidates = len(searched.Candidates)

		semanticStart := time.Now()
		verified, llmUsed, err := r.verifier.Verify(ctx, ingredient, searched.Candidates)
		debug.Timings.Semantic += time.Since(semanticStart).Seconds()
		if llmUsed {
			debug.Counters.LLMCalls++
		}
		if err != nil || len(verified) == 0 {
			debug.Attempts = append(debug.Attempts, attemptInfo)
			record.MappingStatus = domain.StatusSemanticMismatch
			record.Reasoning = fmt.Sprintf("No semantically valid matches found after %d attempts", attempt)
			if last {
				return record
			}
			continue
		}

		debug.TopSemantic = topScored(verified)
		bestSemantic := verified[0].Score

		switch {
		case bestSemantic >= semanticDirectThreshold:
			if r.resolveDirect(ctx, ingredient, verified, bestSemantic, attempt, record) {
				attemptInfo.Success = true
				debug.Attempts = append(debug.Attempts, attemptInfo)
				return record
			}
			debug.Attempts = append(debug.Attempts, attemptInfo)
			if last {
				return record
			}

		case bestSemantic >= semanticMinimumThreshold:
			threshold := nutritionalDefaultThreshold
			if bestSemantic < semanticStrongThreshold {
				threshold = nutritionalStrictThreshold
			}
			if r.resolveGated(ctx, ingredient, verified, bestSemantic, threshold, attempt, record) {
				attemptInfo.Success = true
				debug.Attempts = append(debug.Attempts, attemptInfo)
				return record
			}
			debug.Attempts = append(debug.Attempts, attemptInfo)
			if last {
				return record
			}

		default:
			debug.Attempts = append(debug.Attempts, attemptInfo)
			record.MappingStatus = domain.StatusSemanticScoreTooLow
			if bestSemantic >= 0 {
				record.SemanticMatchScore = &bestSemantic
				record.Reasoning = fmt.Sprintf("Semantic score (%.1f%%) below %.0f%% threshold. Skipping nutritional verification.", bestSemantic, semanticMinimumThreshold)
			} else {
				record.Reasoning = "Semantic verification unavailable and no curated mapping exists"
			}
			if last {
				return record
			}
		}
	}

	record.Flag = domain.FlagNoMapping
	record.MappingStatus = domain.StatusAllRetriesExhausted
	record.Reasoning = fmt.Sprintf("Could not find suitable match after %d attempts with different search strategies", r.maxAttempts)
	return record
}

// resolveCurated fills the record from a curated mapping. Reports false when
// the mapped food cannot be fetched or carries no nutrients.
func (r *Resolver) resolveCurated(ctx context.Context, entry domain.MappingEntry, record *domain.ResultRecord) bool {
	detail, err := r.catalog.GetFoodDetail(ctx, entry.FdcID)
	record.Debug.Counters.APICalls++
	if err != nil {
		return false
	}
	extractStart := time.Now()
	nutrients, err := r.normalizer.Extract(detail)
	record.Debug.Timings.Extraction += time.Since(extractStart).Seconds()
	if err != nil {
		return false
	}

	perfect := 100.0
	record.FdcID = &detail.FdcID
	record.Description = detail.Description
	record.DataType = detail.DataType
	record.BrandOwner = detail.BrandOwner
	record.Source = domain.SourceCurated
	record.Flag = domain.FlagHighConfidence
	record.MappingStatus = domain.StatusCuratedMapping
	record.SemanticMatchScore = &perfect
	record.NutritionalSimilarityScore = &perfect
	record.Reasoning = "Found in curated mappings (verified)"
	record.Nutrients = nutrients
	return true
}

// resolveDirect handles the semantic >= 90 band: extract from the best
// verified candidate, walking down the list when a fetch fails.
func (r *Resolver) resolveDirect(ctx context.Context, ingredient string, verified []VerifiedCandidate, bestSemantic float64, attempt int, record *domain.ResultRecord) bool {
	for _, vc := range verified {
		detail, err := r.catalog.GetFoodDetail(ctx, vc.Candidate.FdcID)
		record.Debug.Counters.APICalls++
		if err != nil {
			r.log.Warn().Err(err).Int("fdc_id", vc.Candidate.FdcID).Msg("detail fetch failed, trying next verified candidate")
			record.MappingStatus = domain.StatusFoodDataNotFound
			record.SemanticMatchScore = &bestSemantic
			record.Reasoning = fmt.Sprintf("Semantic score (%.1f%%) was high but could not fetch food data for FDC ID %d", bestSemantic, vc.Candidate.FdcID)
			continue
		}

		extractStart := time.Now()
		nutrients, err := r.normalizer.Extract(detail)
		record.Debug.Timings.Extraction += time.Since(extractStart).Seconds()
		if err != nil {
			record.MappingStatus = domain.StatusNutritionExtractionFailed
			record.SemanticMatchScore = &bestSemantic
			record.Reasoning = fmt.Sprintf("Could not extract nutrition data for FDC ID %d", detail.FdcID)
			continue
		}

		record.FdcID = &detail.FdcID
		record.Description = detail.Description
		record.DataType = detail.DataType
		record.BrandOwner = detail.BrandOwner
		record.Source = domain.SourceSearch
		record.Flag = domain.FlagHighConfidence
		record.MappingStatus = domain.StatusVerifiedSemanticHigh
		record.SemanticMatchScore = &bestSemantic
		record.NutritionalSimilarityScore = nil
		record.Reasoning = fmt.Sprintf("Direct mapping based on high semantic match score (%.1f%%). Nutritional verification was skipped.", bestSemantic)
		record.RetryAttempts = attempt
		record.Nutrients = nutrients
		r.log.Info().Str("ingredient", ingredient).Int("fdc_id", detail.FdcID).Msg("resolved via direct semantic match")
		return true
	}
	return false
}

// resolveGated handles the semantic 65-89 bands: nutritional similarity must
// clear the band's threshold before the mapping is accepted.
func (r *Resolver) resolveGated(ctx context.Context, ingredient string, verified []VerifiedCandidate, bestSemantic, threshold float64, attempt int, record *domain.ResultRecord) bool {
	gateStart := time.Now()
	gated, stats, err := r.gate.Assess(ctx, ingredient, verified)
	record.Debug.Timings.Nutritional += time.Since(gateStart).Seconds()
	record.Debug.Counters.APICalls += stats.APICalls
	record.Debug.Counters.LLMCalls += stats.LLMCalls
	if err != nil || len(gated) == 0 {
		record.MappingStatus = domain.StatusNutritionalMismatch
		record.SemanticMatchScore = &bestSemantic
		record.Reasoning = fmt.Sprintf("No nutritionally similar matches found. Semantic score: %.1f%%", bestSemantic)
		return false
	}

	record.Debug.TopNutritional = topGated(gated)
	best := gated[0]
	bestNutritional := best.Score

	if bestNutritional < threshold {
		record.MappingStatus = domain.StatusNutritionalMismatch
		record.SemanticMatchScore = &bestSemantic
		record.NutritionalSimilarityScore = &bestNutritional
		record.Reasoning = fmt.Sprintf("Best nutritional similarity (%.1f%%) below %.0f%% threshold for semantic score %.1f%%", bestNutritional, threshold, bestSemantic)
		return false
	}

	var flag, status string
	switch {
	case bestNutritional >= 90 && bestSemantic >= semanticStrongThreshold:
		flag = domain.FlagHighConfidence
		status = domain.StatusVerifiedHigh
	case bestNutritional >= 90:
		flag = domain.FlagMidConfidence
		status = domain.StatusVerifiedMidSemanticLow
	case bestNutritional >= 80:
		flag = domain.FlagMidConfidence
		status = domain.StatusVerifiedMid
	default:
		flag = domain.FlagLowConfidence
		status = domain.StatusLowConfidence
	}

	record.FdcID = &best.Detail.FdcID
	record.Description = best.Detail.Description
	record.DataType = best.Detail.DataType
	record.BrandOwner = best.Detail.BrandOwner
	record.Source = domain.SourceSearch
	record.Flag = flag
	record.MappingStatus = status
	record.SemanticMatchScore = &bestSemantic
	record.NutritionalSimilarityScore = &bestNutritional
	record.Reasoning = best.Reasoning
	record.RetryAttempts = attempt
	record.Nutrients = best.Nutrients
	r.log.Info().Str("ingredient", ingredient).Int("fdc_id", best.Detail.FdcID).Str("flag", flag).Msg("resolved via gated match")
	return true
}

func topScored(verified []VerifiedCandidate) []domain.ScoredDescription {
	limit := len(verified)
	if limit > 3 {
		limit = 3
	}
	out := make([]domain.ScoredDescription, 0, limit)
	for _, vc := range verified[:limit] {
		out = append(out, domain.ScoredDescription{Description: vc.Candidate.Description, Score: vc.Score})
	}
	return out
}

func topGated(gated []GateResult) []domain.ScoredDescription {
	limit := len(gated)
	if limit > 3 {
		limit = 3
	}
	out := make([]domain.ScoredDescription, 0, limit)
	for _, g := range gated[:limit] {
		out = append(out, domain.ScoredDescription{Description: g.Candidate.Description, Score: g.Score})
	}
	return out
}
