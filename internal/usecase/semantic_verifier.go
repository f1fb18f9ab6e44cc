package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
	"github.com/nutrimap/resolver/internal/infrastructure/cache"
	"github.com/nutrimap/resolver/internal/infrastructure/llm"
)

const (
	// Scores at or above this are worth keeping even when the model drops
	// the candidate from a later reply.
	semanticKeepFloor = 40.0

	// At most this many candidates go into one verification prompt.
	semanticPromptLimit = 80
)

const semanticSystemPrompt = "You are a helpful assistant that returns only valid JSON arrays."

// VerifiedCandidate pairs a candidate with its semantic judgment.
type VerifiedCandidate struct {
	Candidate domain.Candidate
	Score     float64
	Reasoning string
}

// SemanticVerifier asks the LLM whether candidate descriptions really mean
// the ingredient, with a per-(ingredient, fdcID) score cache for stability
// across attempts.
type SemanticVerifier struct {
	chat   domain.ChatClient
	scores *cache.ScoreCache
	topN   int
	log    zerolog.Logger
}

// NewSemanticVerifier builds a verifier. chat may be nil; verification then
// degrades to passing through the top candidates unscored.
func NewSemanticVerifier(chat domain.ChatClient, scores *cache.ScoreCache, topN int, logger zerolog.Logger) *SemanticVerifier {
	if topN <= 0 {
		topN = 3
	}
	if scores == nil {
		scores = cache.NewScoreCache()
	}
	return &SemanticVerifier{
		chat:   chat,
		scores: scores,
		topN:   topN,
		log:    logger.With().Str("component", "semantic_verifier").Logger(),
	}
}

// Verify scores candidates against the ingredient and returns the top N by
// semantic score, descending. On LLM failure the top N candidates come back
// unscored so the pipeline can fall through to its low-confidence path.
func (v *SemanticVerifier) Verify(ctx context.Context, ingredient string, candidates []domain.Candidate) (verified []VerifiedCandidate, llmUsed bool, err error) {
	if len(candidates) == 0 {
		return nil, false, domain.ErrNoCandidates
	}
	if v.chat == nil {
		return v.passthrough(candidates), false, nil
	}

	limit := len(candidates)
	if limit > semanticPromptLimit {
		limit = semanticPromptLimit
	}
	window := candidates[:limit]

	prompt := v.buildPrompt(ingredient, window)
	reply, err := v.chat.Complete(ctx, semanticSystemPrompt, prompt, 0, false)
	if err != nil {
		v.log.Warn().Err(err).Str("ingredient", ingredient).Msg("semantic verification failed, passing top candidates through")
		return v.passthrough(candidates), false, nil
	}

	parsed, err := parseSemanticReply(reply)
	if err != nil {
		v.log.Warn().Err(err).Str("ingredient", ingredient).Msg("unparseable semantic reply, passing top candidates through")
		return v.passthrough(candidates), true, nil
	}

	byID := make(map[int]domain.Candidate, len(window))
	for _, c := range window {
		byID[c.FdcID] = c
	}

	picked := make(map[int]bool)
	for _, row := range parsed {
		candidate, ok := byID[row.FdcID]
		if !ok {
			continue
		}
		v.scores.Put(ingredient, row.FdcID, row.Score, row.Reasoning)
		verified = append(verified, VerifiedCandidate{
			Candidate: candidate,
			Score:     row.Score,
			Reasoning: row.Reasoning,
		})
		picked[row.FdcID] = true
	}

	// Readmit candidates a previous attempt already scored well, even when
	// this reply omitted them.
	for _, c := range window {
		if picked[c.FdcID] {
			continue
		}
		if score, reasoning, ok := v.scores.Get(ingredient, c.FdcID); ok && score >= semanticKeepFloor {
			if reasoning == "" {
				reasoning = "Cached score from previous attempt"
			}
			verified = append(verified, VerifiedCandidate{Candidate: c, Score: score, Reasoning: reasoning})
		}
	}

	sort.SliceStable(verified, func(a, b int) bool {
		return verified[a].Score > verified[b].Score
	})
	if len(verified) > v.topN {
		verified = verified[:v.topN]
	}
	return verified, true, nil
}

// passthrough returns the first topN candidates without semantic scores.
func (v *SemanticVerifier) passthrough(candidates []domain.Candidate) []VerifiedCandidate {
	limit := len(candidates)
	if limit > v.topN {
		limit = v.topN
	}
	out := make([]VerifiedCandidate, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, VerifiedCandidate{Candidate: c, Score: -1})
	}
	return out
}

func (v *SemanticVerifier) buildPrompt(ingredient string, window []domain.Candidate) string {
	var lines []string
	for i, c := range window {
		if score, _, ok := v.scores.Get(ingredient, c.FdcID); ok {
			lines = append(lines, fmt.Sprintf("%d. FDC ID %d: %s [CACHED: %.1f%%]", i+1, c.FdcID, c.Description, score))
		} else {
			lines = append(lines, fmt.Sprintf("%d. FDC ID %d: %s", i+1, c.FdcID, c.Description))
		}
	}

	return fmt.Sprintf(`You are a nutrition database expert. Analyze if the USDA food descriptions semantically match the ingredient.

INGREDIENT: %q

USDA SEARCH RESULTS:
%s

CRITICAL RULES:
1. Check SEMANTIC MEANING, not just word similarity
   - "jasmine rice" should match "Rice, jasmine" or "Rice, white, jasmine" but NOT "Rice, black"
   - "green lentils" should match "Lentils, green" but NOT "Green onion" or "Green beans"
   - "vanilla bean" should match vanilla-related items, NOT "Beans, cannellini"

2. **FORM VARIATIONS ARE ACCEPTABLE** - Same ingredient in different forms should score HIGH:
   - "cinnamon sticks" vs "Spices, cinnamon, ground" -> Score 85-95%% (same ingredient, different form)
   - "kosher salt" vs "Salt, table" -> Score 80-90%% (same ingredient, different form)
   - "smoked paprika" vs "Spices, paprika" -> Score 80-90%% (same ingredient, flavor variation)
   - "tzatziki" vs "Tzatziki dip" -> Score 90-100%% (same item, different naming)
   - "guacamole" vs "Guacamole, NFS" -> Score 90-100%% (same item, NFS = Not Further Specified)

3. **SURVEY (FNDDS) DATA TYPE**: Many prepared foods, dips, sauces are in Survey (FNDDS) data type.
   - These are valid generic foods (not branded products)
   - DO NOT penalize Survey (FNDDS) items - they are legitimate matches

4. Consider ingredient context:
   - Spices: "black pepper" = spice, not bell pepper
   - Varieties: "basmati rice" = specific rice variety, not just any rice
   - Forms: "cocoa powder" = processed cocoa, not raw cacao beans

5. Reject clearly wrong matches:
   - Different food categories (e.g., "green lentils" vs "green onion")
   - Different varieties (e.g., "jasmine rice" vs "black rice")
   - Different base ingredients (e.g., "vanilla bean" vs "cannellini beans")

6. **SCORING GUIDELINES:**
   - 90-100%%: Exact match or same item with minor naming/form differences
   - 80-89%%: Same ingredient, different form (ground vs whole, kosher vs table salt)
   - 65-79%%: Related ingredient, acceptable match (e.g., "smoked paprika" vs "paprika")
   - 50-64%%: Related but different (e.g., "fresh oregano" vs "dried oregano")
   - <50%%: Different ingredient, reject

Return JSON array with top %d matches, each with:
{
    "rank": 1-%d,
    "fdc_id": <FDC ID>,
    "description": "<USDA description>",
    "semantic_match_score": 0-100,
    "reasoning": "<brief explanation>"
}

**IMPORTANT:** Include results where semantic_match_score >= 40. Be lenient with form variations.`,
		ingredient, strings.Join(lines, "\n"), v.topN, v.topN)
}

type semanticReplyRow struct {
	FdcID     int     `json:"fdc_id"`
	Score     float64 `json:"semantic_match_score"`
	Reasoning string  `json:"reasoning"`
}

func parseSemanticReply(reply string) ([]semanticReplyRow, error) {
	payload := extractJSONArray(reply)

	var rows []semanticReplyRow
	if err := json.Unmarshal([]byte(payload), &rows); err == nil {
		return rows, nil
	}

	// Some models return a single object instead of an array.
	var row semanticReplyRow
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &row); err == nil && row.FdcID != 0 {
		return []semanticReplyRow{row}, nil
	}
	return nil, fmt.Errorf("%w: semantic reply is neither array nor object", domain.ErrMalformedResponse)
}

// extractJSONArray pulls the outermost JSON array out of a possibly fenced
// or prose-wrapped reply.
func extractJSONArray(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
