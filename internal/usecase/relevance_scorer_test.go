package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nutrimap/resolver/internal/domain"
)

func TestRelevanceScorer_Score(t *testing.T) {
	scorer := NewRelevanceScorer()

	t.Run("head word plus full word coverage", func(t *testing.T) {
		food := domain.FDCFood{
			Description: "Milk, whole",
			DataType:    domain.DataTypeFoundation,
		}
		// 1000 base + 250 head word + 150 all words + 100 Foundation
		assert.Equal(t, 1500.0, scorer.Score(food, "whole milk", 0))
	})

	t.Run("category bonus for dairy", func(t *testing.T) {
		food := domain.FDCFood{
			Description:  "Milk, whole",
			DataType:     domain.DataTypeFoundation,
			FoodCategory: domain.FoodCategory{Description: "Dairy and Egg Products"},
		}
		assert.Equal(t, 1550.0, scorer.Score(food, "whole milk", 0))
	})

	t.Run("exact match outranks prefix match", func(t *testing.T) {
		exact := domain.FDCFood{Description: "Tzatziki"}
		prefix := domain.FDCFood{Description: "Tzatziki dip, greek style"}

		assert.Greater(t, scorer.Score(exact, "tzatziki", 0), scorer.Score(prefix, "tzatziki", 0))
	})

	t.Run("position pushes score down", func(t *testing.T) {
		food := domain.FDCFood{Description: "Milk, whole", DataType: domain.DataTypeFoundation}

		first := scorer.Score(food, "whole milk", 0)
		sixth := scorer.Score(food, "whole milk", 5)
		assert.Equal(t, first-50, sixth)
	})

	t.Run("compound head word takes heavy penalty", func(t *testing.T) {
		compound := domain.FDCFood{Description: "Crackers, cheese flavored", DataType: domain.DataTypeBranded}
		base := domain.FDCFood{Description: "Cheese, cheddar", DataType: domain.DataTypeSRLegacy}

		assert.Greater(t, scorer.Score(base, "cheddar cheese", 0), scorer.Score(compound, "cheddar cheese", 0))
	})

	t.Run("processed form penalized for fresh query", func(t *testing.T) {
		fresh := domain.FDCFood{Description: "Milk, whole"}
		powdered := domain.FDCFood{Description: "Milk, dry, powdered"}

		assert.Greater(t, scorer.Score(fresh, "milk", 0), scorer.Score(powdered, "milk", 0))
	})

	t.Run("processed form allowed when query asks for it", func(t *testing.T) {
		powdered := domain.FDCFood{Description: "Milk, dry, powdered"}

		withProcessedQuery := scorer.Score(powdered, "powdered milk", 0)
		withFreshQuery := scorer.Score(powdered, "milk", 0)
		assert.Greater(t, withProcessedQuery, withFreshQuery)
	})

	t.Run("data type ladder", func(t *testing.T) {
		mk := func(dt string) domain.FDCFood {
			return domain.FDCFood{Description: "Spinach, raw", DataType: dt}
		}
		foundation := scorer.Score(mk(domain.DataTypeFoundation), "spinach", 0)
		legacy := scorer.Score(mk(domain.DataTypeSRLegacy), "spinach", 0)
		survey := scorer.Score(mk(domain.DataTypeSurvey), "spinach", 0)
		branded := scorer.Score(mk(domain.DataTypeBranded), "spinach", 0)

		assert.Greater(t, foundation, legacy)
		assert.Greater(t, legacy, survey)
		assert.Greater(t, survey, branded)
	})

	t.Run("long description penalized for short query", func(t *testing.T) {
		short := domain.FDCFood{Description: "Apples, raw"}
		long := domain.FDCFood{Description: "Apples, raw, with skin, gala variety, commercially grown"}

		assert.Greater(t, scorer.Score(short, "apple", 0), scorer.Score(long, "apple", 0))
	})
}

func TestRelevanceScorer_ScoreIsPure(t *testing.T) {
	scorer := NewRelevanceScorer()
	food := domain.FDCFood{Description: "Milk, whole", DataType: domain.DataTypeFoundation}

	first := scorer.Score(food, "whole milk", 0)
	second := scorer.Score(food, "whole milk", 0)
	assert.Equal(t, first, second)
}

func TestRelevanceScorer_Penalty(t *testing.T) {
	scorer := NewRelevanceScorer()

	t.Run("inverts score", func(t *testing.T) {
		food := domain.FDCFood{Description: "Milk, whole", DataType: domain.DataTypeFoundation}
		// Score 1500, penalty 2000 - 1500.
		assert.Equal(t, 500, scorer.Penalty(food, "whole milk", 0, nil))
	})

	t.Run("avoid word ahead of ingredient adds 200", func(t *testing.T) {
		food := domain.FDCFood{Description: "Green onions, raw"}
		intent := &domain.SearchIntent{Avoid: []string{"green"}}

		withIntent := scorer.Penalty(food, "onion", 0, intent)
		without := scorer.Penalty(food, "onion", 0, nil)
		assert.Equal(t, without+200, withIntent)
	})

	t.Run("avoid word behind ingredient is free", func(t *testing.T) {
		food := domain.FDCFood{Description: "Onions, green tops"}
		intent := &domain.SearchIntent{Avoid: []string{"green"}}

		withIntent := scorer.Penalty(food, "onion", 0, intent)
		without := scorer.Penalty(food, "onion", 0, nil)
		assert.Equal(t, without, withIntent)
	})

	t.Run("short avoid words ignored", func(t *testing.T) {
		food := domain.FDCFood{Description: "No cream here"}
		intent := &domain.SearchIntent{Avoid: []string{"no"}}

		assert.Equal(t, scorer.Penalty(food, "cream", 0, nil), scorer.Penalty(food, "cream", 0, intent))
	})
}

func TestTypeRank(t *testing.T) {
	assert.Equal(t, 0, TypeRank(domain.DataTypeFoundation))
	assert.Equal(t, 1, TypeRank(domain.DataTypeSRLegacy))
	assert.Equal(t, 2, TypeRank(domain.DataTypeSurvey))
	assert.Equal(t, 2, TypeRank(domain.DataTypeBranded))
	assert.Equal(t, 2, TypeRank("Experimental"))
}
