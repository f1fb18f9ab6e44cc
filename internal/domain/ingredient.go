package domain

import "time"

// Confidence flags attached to every resolved record.
const (
	FlagHighConfidence = "HIGH_CONFIDENCE"
	FlagMidConfidence  = "MID_CONFIDENCE"
	FlagLowConfidence  = "LOW_CONFIDENCE"
	FlagNoMapping      = "NO_MAPPING_FOUND"
)

// Mapping statuses explaining how (or why not) an ingredient resolved.
const (
	StatusCuratedMapping            = "curated_mapping"
	StatusVerifiedSemanticHigh      = "search_verified_semantic_high"
	StatusVerifiedHigh              = "search_verified_high"
	StatusVerifiedMid               = "search_verified_mid"
	StatusVerifiedMidSemanticLow    = "search_verified_mid_semantic_low"
	StatusLowConfidence             = "search_low_confidence"
	StatusNoSearchResults           = "no_search_results"
	StatusSemanticMismatch          = "semantic_mismatch"
	StatusSemanticScoreTooLow       = "semantic_score_too_low"
	StatusNutritionalMismatch       = "nutritional_mismatch"
	StatusNutritionExtractionFailed = "nutrition_extraction_failed"
	StatusFoodDataNotFound          = "food_data_not_found"
	StatusFdcIDNotFound             = "fdc_id_not_found"
	StatusAllRetriesExhausted       = "all_retries_exhausted"
	StatusException                 = "exception"
)

// Source labels tag where a mapping came from. Unresolved records carry
// SourceNone.
const (
	SourceCurated = "curated_mapping"
	SourceSearch  = "search"
	SourceNone    = "none"
)

// Candidate is one scored match surfaced by the tier search.
type Candidate struct {
	FdcID        int    `json:"fdc_id"`
	Description  string `json:"description"`
	DataType     string `json:"data_type"`
	FoodCategory string `json:"food_category,omitempty"`

	// SearchTier is 1..4, matching the tier that first returned this food.
	SearchTier     int     `json:"search_tier"`
	RelevanceScore float64 `json:"relevance_score"`

	SemanticScore     *float64 `json:"semantic_score,omitempty"`
	SemanticReasoning string   `json:"semantic_reasoning,omitempty"`

	NutritionalScore     *float64 `json:"nutritional_score,omitempty"`
	NutritionalReasoning string   `json:"nutritional_reasoning,omitempty"`
}

// SearchIntent is the structured search plan produced for one ingredient.
type SearchIntent struct {
	SearchQuery     string   `json:"search_query"`
	IsPhrase        bool     `json:"is_phrase"`
	PreferredForm   string   `json:"preferred_form,omitempty"`
	Avoid           []string `json:"avoid,omitempty"`
	ExpectedPattern string   `json:"expected_pattern,omitempty"`
	RetryReason     string   `json:"retry_reason,omitempty"`
}

// MappingEntry is one curated ingredient -> FDC assignment.
type MappingEntry struct {
	FdcID       int    `json:"fdc_id"`
	Description string `json:"description"`
	DataType    string `json:"data_type,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// NutrientValue is a resolved per-100g nutrient amount. A nil record for a
// canonical key means the source data did not carry that nutrient.
type NutrientValue struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// ScoredDescription pairs a candidate description with the score it earned,
// used by the top-3 debug lists.
type ScoredDescription struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// AttemptDetail records what a single resolution attempt tried.
type AttemptDetail struct {
	Query   string `json:"query"`
	Success bool   `json:"success"`
}

// TimingBreakdown holds per-phase wall-clock durations in seconds.
type TimingBreakdown struct {
	Search      float64 `json:"search_seconds"`
	Semantic    float64 `json:"semantic_seconds"`
	Nutritional float64 `json:"nutritional_seconds"`
	Extraction  float64 `json:"extraction_seconds"`
}

// CallCounters tracks how much external work one resolution consumed.
type CallCounters struct {
	APICalls    int `json:"api_calls"`
	LLMCalls    int `json:"llm_calls"`
	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`
}

// DebugMetadata is the diagnostic envelope attached to debug output shapes.
type DebugMetadata struct {
	Timings          TimingBreakdown     `json:"timings"`
	TierCounts       map[string]int      `json:"tier_counts"`
	TotalCandidates  int                 `json:"total_candidates"`
	TopSemantic      []ScoredDescription `json:"top_semantic,omitempty"`
	TopNutritional   []ScoredDescription `json:"top_nutritional,omitempty"`
	Counters         CallCounters        `json:"counters"`
	Attempts         []AttemptDetail     `json:"attempts,omitempty"`
	SearchQueriesRun []string            `json:"search_queries_run,omitempty"`
}

// ResultRecord is the full outcome of resolving one ingredient.
type ResultRecord struct {
	Ingredient  string `json:"ingredient"`
	FdcID       *int   `json:"fdc_id"`
	Description string `json:"description,omitempty"`
	DataType    string `json:"data_type,omitempty"`
	BrandOwner  string `json:"brand_owner,omitempty"`

	Source        string `json:"source"`
	Flag          string `json:"flag"`
	MappingStatus string `json:"mapping_status"`

	SemanticMatchScore         *float64 `json:"semantic_match_score,omitempty"`
	NutritionalSimilarityScore *float64 `json:"nutritional_similarity_score,omitempty"`
	Reasoning                  string   `json:"reasoning,omitempty"`

	RetryAttempts     int      `json:"retry_attempts"`
	SearchQueriesUsed []string `json:"search_queries_used,omitempty"`

	// Nutrients always carries the full canonical key set; nil values mean
	// the nutrient was absent from the matched food.
	Nutrients map[string]*NutrientValue `json:"nutrients"`

	Timestamp      time.Time `json:"timestamp"`
	ProcessingTime float64   `json:"processing_time_seconds"`

	Debug *DebugMetadata `json:"debug,omitempty"`
}

// Resolved reports whether the record carries a usable mapping.
func (r *ResultRecord) Resolved() bool {
	return r.FdcID != nil && r.Flag != FlagNoMapping
}
