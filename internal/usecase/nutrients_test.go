package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimap/resolver/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func TestNutrientNormalizer_LoadsEmbeddedTable(t *testing.T) {
	n, err := NewNutrientNormalizer()

	require.NoError(t, err)
	assert.Len(t, n.AllIDs(), 117)

	def, ok := n.Definition("nutrient-protein")
	require.True(t, ok)
	assert.Equal(t, "Protein", def.Name)
	assert.Equal(t, "g", def.Unit)
}

func TestNutrientNormalizer_ResolveName(t *testing.T) {
	n, err := NewNutrientNormalizer()
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
		found    bool
	}{
		{"exact match", "Protein", "nutrient-protein", true},
		{"exact match with punctuation", "Calcium, Ca", "nutrient-calcium", true},
		{"case insensitive", "ENERGY", "nutrient-calories-energy", true},
		{"atwater energy variant", "Energy (Atwater General Factors)", "nutrient-calories-energy", true},
		{"substring energy", "Energy value, metabolizable", "nutrient-calories-energy", true},
		{"substring fibre", "Crude fibre", "nutrient-dietary-fiber", true},
		{"substring ascorbic", "Ascorbic acid, reduced", "nutrient-vitamin-c-ascorbic-acid", true},
		{"fatty acid shorthand", "18:1", "nutrient-mufa-18-1-oleic", true},
		{"unknown", "Xylitol crystals", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := n.ResolveName(tt.input)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestNutrientNormalizer_Extract(t *testing.T) {
	n, err := NewNutrientNormalizer()
	require.NoError(t, err)

	detail := &domain.FDCFoodDetail{
		FdcID:       328637,
		Description: "Cheese, cheddar",
		Nutrients: []domain.FoodNutrient{
			{Nutrient: domain.NutrientRef{Name: "Energy", UnitName: "kcal"}, Amount: floatPtr(403)},
			{Nutrient: domain.NutrientRef{Name: "Protein", UnitName: "g"}, Amount: floatPtr(22.9)},
			{Nutrient: domain.NutrientRef{Name: "Fiber, total dietary", UnitName: "g"}, Amount: floatPtr(0)},
			{Nutrient: domain.NutrientRef{Name: "Unmapped exotic compound", UnitName: "g"}, Amount: floatPtr(1)},
			{Nutrient: domain.NutrientRef{Name: "Sodium, Na", UnitName: "mg"}}, // no amount
		},
	}

	result, err := n.Extract(detail)
	require.NoError(t, err)

	// Full canonical key set regardless of what the record carried.
	assert.Len(t, result, 117)

	require.NotNil(t, result["nutrient-calories-energy"])
	assert.InDelta(t, 403, result["nutrient-calories-energy"].Amount, 0.001)
	assert.Equal(t, "kcal", result["nutrient-calories-energy"].Unit)

	// Zero is a measurement, not a gap.
	require.NotNil(t, result["nutrient-dietary-fiber"])
	assert.Equal(t, 0.0, result["nutrient-dietary-fiber"].Amount)

	// Missing amount stays nil.
	assert.Nil(t, result["nutrient-sodium"])
	assert.Nil(t, result["nutrient-potassium"])
}

func TestNutrientNormalizer_ExtractConvertsKilojoules(t *testing.T) {
	n, err := NewNutrientNormalizer()
	require.NoError(t, err)

	detail := &domain.FDCFoodDetail{
		Nutrients: []domain.FoodNutrient{
			{Nutrient: domain.NutrientRef{Name: "Energy", UnitName: "kJ"}, Amount: floatPtr(1686)},
		},
	}

	result, err := n.Extract(detail)
	require.NoError(t, err)

	require.NotNil(t, result["nutrient-calories-energy"])
	assert.InDelta(t, 402.96, result["nutrient-calories-energy"].Amount, 0.01)
	assert.Equal(t, "kcal", result["nutrient-calories-energy"].Unit)
}

func TestNutrientNormalizer_ExtractPrefersFirstEnergyRow(t *testing.T) {
	n, err := NewNutrientNormalizer()
	require.NoError(t, err)

	detail := &domain.FDCFoodDetail{
		Nutrients: []domain.FoodNutrient{
			{Nutrient: domain.NutrientRef{Name: "Energy", UnitName: "kcal"}, Amount: floatPtr(403)},
			{Nutrient: domain.NutrientRef{Name: "Energy", UnitName: "kJ"}, Amount: floatPtr(1686)},
		},
	}

	result, err := n.Extract(detail)
	require.NoError(t, err)

	assert.InDelta(t, 403, result["nutrient-calories-energy"].Amount, 0.001)
}

func TestNutrientNormalizer_ExtractEmptyDetail(t *testing.T) {
	n, err := NewNutrientNormalizer()
	require.NoError(t, err)

	_, err = n.Extract(&domain.FDCFoodDetail{})
	assert.ErrorIs(t, err, domain.ErrEmptyNutrients)

	_, err = n.Extract(nil)
	assert.ErrorIs(t, err, domain.ErrEmptyNutrients)
}

func TestNutrientNormalizer_ExtractSearchRowShape(t *testing.T) {
	n, err := NewNutrientNormalizer()
	require.NoError(t, err)

	// Search responses flatten nutrient fields.
	detail := &domain.FDCFoodDetail{
		Nutrients: []domain.FoodNutrient{
			{NutrientName: "Protein", UnitName: "g", Value: floatPtr(3.3)},
		},
	}

	result, err := n.Extract(detail)
	require.NoError(t, err)

	require.NotNil(t, result["nutrient-protein"])
	assert.InDelta(t, 3.3, result["nutrient-protein"].Amount, 0.001)
}
