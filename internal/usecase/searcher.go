package usecase

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nutrimap/resolver/internal/domain"
)

// maxMergedCandidates caps the merged candidate list.
const maxMergedCandidates = 80

// searchTier is one partition of the catalog queried with its own page size.
type searchTier struct {
	DataTypeFilter string
	PageSize       int
}

// The four tiers, most curated data first. The unfiltered tier backstops
// ingredients the filtered partitions miss.
var searchTiers = []searchTier{
	{DataTypeFilter: "Foundation,SR Legacy", PageSize: 30},
	{DataTypeFilter: "Survey (FNDDS)", PageSize: 20},
	{DataTypeFilter: "Branded", PageSize: 20},
	{DataTypeFilter: "", PageSize: 10},
}

// TierSearcher fans a query across the catalog partitions and merges the
// results into one deduplicated candidate list.
type TierSearcher struct {
	catalog domain.CatalogClient
	scorer  *RelevanceScorer
	log     zerolog.Logger
}

// NewTierSearcher builds a tier searcher.
func NewTierSearcher(catalog domain.CatalogClient, scorer *RelevanceScorer, logger zerolog.Logger) *TierSearcher {
	return &TierSearcher{
		catalog: catalog,
		scorer:  scorer,
		log:     logger.With().Str("component", "searcher").Logger(),
	}
}

// SearchResult carries the merged candidates plus per-tier hit counts for
// diagnostics.
type SearchResult struct {
	Candidates []domain.Candidate
	TierCounts map[string]int
	APICalls   int
}

// Search runs all four tiers concurrently and merges in tier order with
// first-seen FDC-ID dedupe. When ingredient is non-empty the merged list is
// re-ranked by relevance against it; otherwise ordering is (tier, fdcID).
func (t *TierSearcher) Search(ctx context.Context, query, ingredient string) (*SearchResult, error) {
	tierFoods := make([][]domain.FDCFood, len(searchTiers))

	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range searchTiers {
		g.Go(func() error {
			resp, err := t.catalog.Search(gctx, query, tier.PageSize, tier.DataTypeFilter)
			if err != nil {
				return err
			}
			tierFoods[i] = resp.Foods
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &SearchResult{
		TierCounts: make(map[string]int, len(searchTiers)),
		APICalls:   len(searchTiers),
	}

	seen := make(map[int]bool)
	for i, foods := range tierFoods {
		tierName := tierLabel(i)
		result.TierCounts[tierName] = len(foods)
		for pos, food := range foods {
			if seen[food.FdcID] {
				continue
			}
			seen[food.FdcID] = true

			candidate := domain.Candidate{
				FdcID:        food.FdcID,
				Description:  food.Description,
				DataType:     food.DataType,
				FoodCategory: food.FoodCategory.Description,
				SearchTier:   i + 1,
			}
			if ingredient != "" {
				candidate.RelevanceScore = t.scorer.Score(food, ingredient, pos)
			}
			result.Candidates = append(result.Candidates, candidate)
		}
	}

	if ingredient != "" {
		sort.SliceStable(result.Candidates, func(a, b int) bool {
			return result.Candidates[a].RelevanceScore > result.Candidates[b].RelevanceScore
		})
	} else {
		sort.SliceStable(result.Candidates, func(a, b int) bool {
			ca, cb := result.Candidates[a], result.Candidates[b]
			if ca.SearchTier != cb.SearchTier {
				return ca.SearchTier < cb.SearchTier
			}
			return ca.FdcID < cb.FdcID
		})
	}

	if len(result.Candidates) > maxMergedCandidates {
		result.Candidates = result.Candidates[:maxMergedCandidates]
	}

	t.log.Debug().
		Str("query", query).
		Int("candidates", len(result.Candidates)).
		Msg("tier search merged")
	return result, nil
}

func tierLabel(index int) string {
	filter := searchTiers[index].DataTypeFilter
	if filter == "" {
		return "all"
	}
	return filter
}
