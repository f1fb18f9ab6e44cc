package usecase

import (
	"strings"

	"github.com/nutrimap/resolver/internal/domain"
)

// maxRelevanceScore normalizes the higher-is-better score into penalty form.
const maxRelevanceScore = 2000.0

// Compound food indicators. A description led by one of these is a food MADE
// WITH the ingredient, not the ingredient itself.
var compoundIndicators = map[string]bool{
	"cheese": true, "crackers": true, "bread": true, "cookies": true,
	"cake": true, "soup": true, "sauce": true, "dressing": true,
	"cereal": true, "bar": true, "drink": true, "juice": true,
	"spread": true, "butter": true, "yogurt": true,
}

// Processed or preserved forms, penalized when the query does not ask for
// them.
var processedForms = []string{
	"dry", "powdered", "powder", "dehydrated", "canned", "frozen",
	"concentrated", "evaporated", "condensed",
}

// RelevanceScorer ranks catalog search rows lexically against a query. Pure
// and deterministic; no network, no LLM.
type RelevanceScorer struct{}

// NewRelevanceScorer creates a relevance scorer.
func NewRelevanceScorer() *RelevanceScorer {
	return &RelevanceScorer{}
}

// Score rates how well a search row matches a query; higher is better.
// position is the row's index in the API response, 0 first.
func (s *RelevanceScorer) Score(food domain.FDCFood, query string, position int) float64 {
	description := strings.ToLower(food.Description)
	queryLower := strings.ToLower(query)
	queryWords := fieldSet(queryLower)

	score := 1000.0

	// The API already orders by relevance, so later rows start worse.
	score -= float64(position) * 10

	queryWordList := strings.Fields(queryLower)
	mainIngredient := ""
	if len(queryWordList) > 0 {
		mainIngredient = queryWordList[len(queryWordList)-1]
	}

	switch {
	case description == queryLower:
		score += 500
	case strings.HasPrefix(description, queryLower):
		score += 300
	case mainIngredient != "" && strings.HasPrefix(description, mainIngredient):
		// "Milk, whole" for query "whole milk": the head word is usually the
		// main ingredient.
		score += 250
		if strings.Contains(description, queryLower) {
			score += 100
		}
	case strings.Contains(description, queryLower):
		score += 200
	}

	descWords := fieldSet(strings.ReplaceAll(description, ",", " "))
	matching := 0
	for w := range queryWords {
		if descWords[w] {
			matching++
		}
	}
	if matching > 0 {
		if matching == len(queryWords) {
			score += 150
		} else {
			score += float64(matching) * 30
		}
	}

	descWordList := strings.Fields(strings.ReplaceAll(description, ",", " "))
	if len(queryWords) <= 2 {
		firstWord := ""
		if len(descWordList) > 0 {
			firstWord = descWordList[0]
		}
		if compoundIndicators[firstWord] {
			score -= 800
		} else if containsAnySubstring(description, compoundIndicatorList) {
			score -= 500
		}

		if !containsAnySubstring(queryLower, processedForms) &&
			containsAnySubstring(description, processedForms) {
			score -= 300
		}

		if len(descWordList) > len(queryWords)+1 {
			score -= 150
		}
	}

	switch food.DataType {
	case domain.DataTypeFoundation:
		score += 100
	case domain.DataTypeSRLegacy:
		score += 50
	case domain.DataTypeSurvey:
		score += 25
	case domain.DataTypeBranded:
		score -= 50
	}

	category := strings.ToLower(food.FoodCategory.Description)
	if strings.Contains(queryLower, "milk") && strings.Contains(category, "dairy") {
		score += 50
	}
	if strings.Contains(queryLower, "fruit") && strings.Contains(category, "fruit") {
		score += 50
	}

	return score
}

// Penalty converts Score into lower-is-better form and layers on avoid-word
// penalties from the search intent. Zero is a perfect match.
func (s *RelevanceScorer) Penalty(food domain.FDCFood, ingredient string, position int, intent *domain.SearchIntent) int {
	penalty := int(maxRelevanceScore - s.Score(food, ingredient, position))

	if intent != nil {
		penalty += avoidWordPenalty(food.Description, ingredient, intent.Avoid)
	}
	return penalty
}

// TypeRank orders data types Foundation < SR Legacy < everything else.
func TypeRank(dataType string) int {
	switch dataType {
	case domain.DataTypeFoundation:
		return 0
	case domain.DataTypeSRLegacy:
		return 1
	default:
		return 2
	}
}

// avoidWordPenalty charges 200 when an avoid word leads the description ahead
// of any ingredient word. An ingredient word in front means the avoid word is
// only a modifier and stays free.
func avoidWordPenalty(description, ingredient string, avoid []string) int {
	descriptionLower := strings.ToLower(description)
	ingredientWords := fieldSet(strings.ToLower(ingredient))

	penalty := 0
	for _, word := range avoid {
		if len(word) < 3 {
			continue
		}
		avoidLower := strings.ToLower(word)
		if !strings.Contains(descriptionLower, avoidLower) {
			continue
		}

		words := strings.Fields(descriptionLower)
		limit := 3
		if len(words) < limit {
			limit = len(words)
		}
		firstThree := make([]string, 0, limit)
		for _, w := range words[:limit] {
			firstThree = append(firstThree, strings.TrimRight(w, ","))
		}

		avoidPos := -1
		for i, w := range firstThree {
			if w == avoidLower {
				avoidPos = i
				break
			}
		}
		if avoidPos < 0 {
			continue
		}

		ingredientInFirstThree := false
		firstIngredientPos := -1
		for i, w := range firstThree {
			if ingredientWords[w] {
				ingredientInFirstThree = true
			}
			if firstIngredientPos < 0 {
				for ing := range ingredientWords {
					if strings.Contains(w, ing) {
						firstIngredientPos = i
						break
					}
				}
			}
		}
		if firstIngredientPos >= 0 && firstIngredientPos < avoidPos {
			// Ingredient leads, avoid word is only a modifier.
			continue
		}
		if !ingredientInFirstThree {
			penalty += 200
		}
	}
	return penalty
}

// compoundIndicatorList mirrors compoundIndicators for substring scans.
var compoundIndicatorList = func() []string {
	list := make([]string, 0, len(compoundIndicators))
	for w := range compoundIndicators {
		list = append(list, w)
	}
	return list
}()

func fieldSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func containsAnySubstring(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
