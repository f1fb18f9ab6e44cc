package domain

import "encoding/json"

// FDC data-type partitions, in decreasing order of generic-ness.
const (
	DataTypeFoundation = "Foundation"
	DataTypeSRLegacy   = "SR Legacy"
	DataTypeSurvey     = "Survey (FNDDS)"
	DataTypeBranded    = "Branded"
)

// FDCFood is one row of the FDC search response `foods` array.
type FDCFood struct {
	FdcID        int            `json:"fdcId"`
	Description  string         `json:"description"`
	DataType     string         `json:"dataType"`
	FoodCategory FoodCategory   `json:"foodCategory,omitempty"`
	Nutrients    []FoodNutrient `json:"foodNutrients,omitempty"`
}

// FDCSearchResponse is the envelope returned by GET /foods/search.
type FDCSearchResponse struct {
	Foods       []FDCFood `json:"foods"`
	TotalHits   int       `json:"totalHits"`
	CurrentPage int       `json:"currentPage"`
	TotalPages  int       `json:"totalPages"`
}

// FDCFoodDetail is the full record returned by GET /food/{fdcId}.
type FDCFoodDetail struct {
	FdcID        int            `json:"fdcId"`
	Description  string         `json:"description"`
	DataType     string         `json:"dataType"`
	BrandOwner   string         `json:"brandOwner,omitempty"`
	FoodCategory FoodCategory   `json:"foodCategory,omitempty"`
	Nutrients    []FoodNutrient `json:"foodNutrients"`
}

// FoodNutrient is one member of a detail record's foodNutrients array.
// Search rows flatten the same data, so both shapes are accepted.
type FoodNutrient struct {
	Nutrient NutrientRef `json:"nutrient"`
	Amount   *float64    `json:"amount,omitempty"`

	// Flattened fields used by search responses.
	NutrientName string   `json:"nutrientName,omitempty"`
	UnitName     string   `json:"unitName,omitempty"`
	Value        *float64 `json:"value,omitempty"`
}

// NutrientRef identifies a nutrient within a detail record.
type NutrientRef struct {
	ID       int    `json:"id,omitempty"`
	Number   string `json:"number,omitempty"`
	Name     string `json:"name"`
	UnitName string `json:"unitName"`
}

// Name returns the nutrient name regardless of which response shape carried it.
func (n FoodNutrient) Name() string {
	if n.Nutrient.Name != "" {
		return n.Nutrient.Name
	}
	return n.NutrientName
}

// Unit returns the unit name regardless of which response shape carried it.
func (n FoodNutrient) Unit() string {
	if n.Nutrient.UnitName != "" {
		return n.Nutrient.UnitName
	}
	return n.UnitName
}

// AmountValue returns the per-100g amount, or nil when the catalog omitted it.
func (n FoodNutrient) AmountValue() *float64 {
	if n.Amount != nil {
		return n.Amount
	}
	return n.Value
}

// FoodCategory absorbs the two shapes FDC uses for food categories: a plain
// string in search rows and an object with a description in detail records.
type FoodCategory struct {
	Description string
}

func (c *FoodCategory) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Description = s
		return nil
	}
	var obj struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Description = obj.Description
	return nil
}

func (c FoodCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Description)
}
