package usecase

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/nutrimap/resolver/internal/domain"
)

//go:embed nutrient_definitions.csv
var nutrientDefinitionsCSV []byte

// kJ per kcal, used when a record reports energy in kilojoules.
const kjPerKcal = 4.184

// NutrientDefinition is one row of the canonical nutrient table.
type NutrientDefinition struct {
	ID       string
	Name     string
	Category string
	Unit     string
}

// Catalog nutrient names mapped to canonical IDs. Names are as the FDC API
// reports them.
var catalogNutrientNames = map[string]string{
	"Energy":                             "nutrient-calories-energy",
	"Energy (Atwater General Factors)":   "nutrient-calories-energy",
	"Energy (Atwater Specific Factors)":  "nutrient-calories-energy",
	"Protein":                            "nutrient-protein",
	"Total lipid (fat)":                  "nutrient-total-fat",
	"Carbohydrate, by difference":        "nutrient-total-carbohydrates",
	"Fiber, total dietary":               "nutrient-dietary-fiber",
	"Sugars, total including NLEA":       "nutrient-total-sugars",
	"Sugars, added":                      "nutrient-added-sugars",
	"Water":                              "nutrient-water",
	"Fatty acids, total saturated":       "nutrient-saturated-fat",
	"Fatty acids, total trans":           "nutrient-trans-fat",
	"Fatty acids, total monounsaturated": "nutrient-monounsaturated-fat",
	"Fatty acids, total polyunsaturated": "nutrient-polyunsaturated-fat",
	"Cholesterol":                        "nutrient-cholesterol",
	"Alcohol, ethyl":                     "nutrient-alcohol",
	"Caffeine":                           "nutrient-caffeine",
	"Theobromine":                        "nutrient-theobromine",
	"Ash":                                "nutrient-ash",
	"Vitamin A, RAE":                     "nutrient-vitamin-a-rae",
	"Retinol":                            "nutrient-retinol",
	"Vitamin D (D2 + D3)":                "nutrient-vitamin-d",
	"Vitamin E (alpha-tocopherol)":       "nutrient-vitamin-e-alpha-tocopherol",
	"Vitamin K (phylloquinone)":          "nutrient-vitamin-k-phylloquinone",
	"Vitamin K (Menaquinone-4)":          "nutrient-vitamin-k-menaquinone-4",
	"Vitamin K (Dihydrophylloquinone)":   "nutrient-vitamin-k-dihydrophylloquinone",
	"Thiamin":                            "nutrient-thiamin-b1",
	"Riboflavin":                         "nutrient-riboflavin-b2",
	"Niacin":                             "nutrient-niacin-b3",
	"Pantothenic acid":                   "nutrient-vitamin-b5-pantothenic-acid",
	"Vitamin B-6":                        "nutrient-vitamin-b6",
	"Folate, total":                      "nutrient-folate-folic-acid",
	"Folic acid":                         "nutrient-folate-folic-acid",
	"Folate, DFE":                        "nutrient-folate-dfe",
	"Folate, food":                       "nutrient-folate-food",
	"Vitamin B-12":                       "nutrient-vitamin-b12",
	"Choline, total":                     "nutrient-choline",
	"Betaine":                            "nutrient-betaine",
	"Vitamin C, total ascorbic acid":     "nutrient-vitamin-c-ascorbic-acid",
	"Calcium, Ca":                        "nutrient-calcium",
	"Magnesium, Mg":                      "nutrient-magnesium",
	"Phosphorus, P":                      "nutrient-phosphorus",
	"Potassium, K":                       "nutrient-potassium",
	"Sodium, Na":                         "nutrient-sodium",
	"Iron, Fe":                           "nutrient-iron",
	"Zinc, Zn":                           "nutrient-zinc",
	"Copper, Cu":                         "nutrient-copper",
	"Selenium, Se":                       "nutrient-selenium",
	"Manganese, Mn":                      "nutrient-manganese",
	"Fluoride, F":                        "nutrient-fluoride",
	"Iodine, I":                          "nutrient-iodine",
	"Beta-carotene":                      "nutrient-beta-carotene",
	"Alpha-carotene":                     "nutrient-alpha-carotene",
	"Cryptoxanthin, beta":                "nutrient-cryptoxanthin",
	"Lycopene":                           "nutrient-lycopene",
	"Lutein + zeaxanthin":                "nutrient-lutein-zeaxanthin",
	"Phytosterols":                       "nutrient-phytosterols",
	"Beta-sitosterol":                    "nutrient-beta-sitosterol",
	"Campesterol":                        "nutrient-campesterol",
	"Stigmasterol":                       "nutrient-stigmasterol",
	"Sucrose":                            "nutrient-sucrose",
	"Glucose":                            "nutrient-glucose",
	"Fructose":                           "nutrient-fructose",
	"Lactose":                            "nutrient-lactose",
	"Maltose":                            "nutrient-maltose",
	"Galactose":                          "nutrient-galactose",
	"Starch":                             "nutrient-starch",
	"4:0":                                "nutrient-sfa-4-0-butyric",
	"6:0":                                "nutrient-sfa-6-0-caproic",
	"8:0":                                "nutrient-sfa-8-0-caprylic",
	"10:0":                               "nutrient-sfa-10-0-capric",
	"12:0":                               "nutrient-sfa-12-0-lauric",
	"14:0":                               "nutrient-sfa-14-0-myristic",
	"15:0":                               "nutrient-sfa-15-0",
	"16:0":                               "nutrient-sfa-16-0-palmitic",
	"17:0":                               "nutrient-sfa-17-0",
	"18:0":                               "nutrient-sfa-18-0-stearic",
	"20:0":                               "nutrient-sfa-20-0",
	"22:0":                               "nutrient-sfa-22-0-behenic",
	"24:0":                               "nutrient-sfa-24-0-lignoceric",
	"14:1":                               "nutrient-mufa-14-1",
	"16:1":                               "nutrient-mufa-16-1-palmitoleic",
	"18:1":                               "nutrient-mufa-18-1-oleic",
	"20:1":                               "nutrient-mufa-20-1",
	"22:1":                               "nutrient-mufa-22-1",
	"24:1 c":                             "nutrient-mufa-24-1",
	"18:2 n-6 c,c":                       "nutrient-pufa-18-2-linoleic",
	"18:3 n-3 c,c,c (ALA)":               "nutrient-pufa-18-3-alpha-linolenic",
	"18:4":                               "nutrient-pufa-18-4",
	"20:2 n-6 c,c":                       "nutrient-pufa-20-2",
	"20:4 n-6":                           "nutrient-pufa-20-4-arachidonic",
	"20:5 n-3 (EPA)":                     "nutrient-pufa-20-5-epa",
	"22:5 n-3 (DPA)":                     "nutrient-pufa-22-5-dpa",
	"22:6 n-3 (DHA)":                     "nutrient-pufa-22-6-dha",
	"Tryptophan":                         "nutrient-tryptophan",
	"Threonine":                          "nutrient-threonine",
	"Isoleucine":                         "nutrient-isoleucine",
	"Leucine":                            "nutrient-leucine",
	"Lysine":                             "nutrient-lysine",
	"Methionine":                         "nutrient-methionine",
	"Phenylalanine":                      "nutrient-phenylalanine",
	"Valine":                             "nutrient-valine",
	"Arginine":                           "nutrient-arginine",
	"Histidine":                          "nutrient-histidine",
	"Cystine":                            "nutrient-cystine",
	"Tyrosine":                           "nutrient-tyrosine",
	"Alanine":                            "nutrient-alanine",
	"Aspartic acid":                      "nutrient-aspartic-acid",
	"Glutamic acid":                      "nutrient-glutamic-acid",
	"Glycine":                            "nutrient-glycine",
	"Proline":                            "nutrient-proline",
	"Serine":                             "nutrient-serine",
	"Hydroxyproline":                     "nutrient-hydroxyproline",
}

// NutrientNormalizer maps raw catalog nutrient rows onto the canonical
// nutrient key set.
type NutrientNormalizer struct {
	definitions map[string]NutrientDefinition
	ids         []string
	lowerNames  map[string]string
}

// NewNutrientNormalizer builds a normalizer from the embedded definition
// table.
func NewNutrientNormalizer() (*NutrientNormalizer, error) {
	return newNormalizerFromReader(bytes.NewReader(nutrientDefinitionsCSV))
}

// NewNutrientNormalizerFromFile builds a normalizer from an external
// definition table, overriding the embedded one.
func NewNutrientNormalizerFromFile(path string) (*NutrientNormalizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open nutrient definitions: %w", err)
	}
	defer f.Close()
	return newNormalizerFromReader(f)
}

func newNormalizerFromReader(r io.Reader) (*NutrientNormalizer, error) {
	reader := csv.NewReader(r)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse nutrient definitions: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("nutrient definitions table is empty")
	}

	n := &NutrientNormalizer{
		definitions: make(map[string]NutrientDefinition, len(rows)-1),
		lowerNames:  make(map[string]string, len(catalogNutrientNames)),
	}
	for _, row := range rows[1:] {
		if len(row) < 4 {
			continue
		}
		def := NutrientDefinition{
			ID:       strings.TrimSpace(row[0]),
			Name:     strings.TrimSpace(row[1]),
			Category: strings.TrimSpace(row[2]),
			Unit:     strings.TrimSpace(row[3]),
		}
		if def.ID == "" {
			continue
		}
		n.definitions[def.ID] = def
		n.ids = append(n.ids, def.ID)
	}
	sort.Strings(n.ids)

	for name, id := range catalogNutrientNames {
		n.lowerNames[strings.ToLower(name)] = id
	}
	return n, nil
}

// AllIDs returns every canonical nutrient ID, sorted.
func (n *NutrientNormalizer) AllIDs() []string {
	ids := make([]string, len(n.ids))
	copy(ids, n.ids)
	return ids
}

// Definition returns the table row for a canonical ID.
func (n *NutrientNormalizer) Definition(id string) (NutrientDefinition, bool) {
	def, ok := n.definitions[id]
	return def, ok
}

// ResolveName maps a catalog nutrient name to a canonical ID. Resolution is
// exact, then case-insensitive, then a conservative substring fallback for
// the common nutrients.
func (n *NutrientNormalizer) ResolveName(catalogName string) (string, bool) {
	if id, ok := catalogNutrientNames[catalogName]; ok {
		return id, true
	}

	lower := strings.ToLower(catalogName)
	if id, ok := n.lowerNames[lower]; ok {
		return id, true
	}

	switch {
	case strings.Contains(lower, "energy") || strings.Contains(lower, "calorie"):
		return "nutrient-calories-energy", true
	case strings.Contains(lower, "protein"):
		return "nutrient-protein", true
	case strings.Contains(lower, "fat") && strings.Contains(lower, "total"):
		return "nutrient-total-fat", true
	case strings.Contains(lower, "carbohydrate"):
		return "nutrient-total-carbohydrates", true
	case strings.Contains(lower, "fiber") || strings.Contains(lower, "fibre"):
		return "nutrient-dietary-fiber", true
	case strings.Contains(lower, "sugar"):
		return "nutrient-total-sugars", true
	case strings.Contains(lower, "sodium"):
		return "nutrient-sodium", true
	case strings.Contains(lower, "calcium"):
		return "nutrient-calcium", true
	case strings.Contains(lower, "iron"):
		return "nutrient-iron", true
	case strings.Contains(lower, "vitamin c") || strings.Contains(lower, "ascorbic"):
		return "nutrient-vitamin-c-ascorbic-acid", true
	}
	return "", false
}

// EmptySet returns the full canonical key set with every value nil.
func (n *NutrientNormalizer) EmptySet() map[string]*domain.NutrientValue {
	result := make(map[string]*domain.NutrientValue, len(n.ids))
	for _, id := range n.ids {
		result[id] = nil
	}
	return result
}

// Extract maps a detail record's nutrient rows onto the canonical key set.
// Unrecognized rows are dropped; canonical keys the record lacks stay nil.
// A zero amount is a real measurement and is kept.
func (n *NutrientNormalizer) Extract(detail *domain.FDCFoodDetail) (map[string]*domain.NutrientValue, error) {
	if detail == nil || len(detail.Nutrients) == 0 {
		return nil, domain.ErrEmptyNutrients
	}

	result := n.EmptySet()
	for _, row := range detail.Nutrients {
		amount := row.AmountValue()
		if amount == nil {
			continue
		}
		id, ok := n.ResolveName(row.Name())
		if !ok {
			continue
		}
		if _, known := result[id]; !known {
			continue
		}

		value := *amount
		unit := row.Unit()
		if id == "nutrient-calories-energy" && strings.EqualFold(unit, "kJ") {
			value = value / kjPerKcal
			unit = "kcal"
		}

		// First match wins so Energy in kcal is not clobbered by a later
		// Atwater or kJ row.
		if result[id] == nil {
			result[id] = &domain.NutrientValue{Amount: value, Unit: unit}
		}
	}
	return result, nil
}
