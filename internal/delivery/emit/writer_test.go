package emit

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrimap/resolver/internal/domain"
)

func sampleRecords() []*domain.ResultRecord {
	fdcID := 100
	semantic := 95.0
	ts := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	resolved := &domain.ResultRecord{
		Ingredient:         "jasmine rice",
		FdcID:              &fdcID,
		Description:        "Rice, jasmine, cooked",
		DataType:           domain.DataTypeFoundation,
		Source:             domain.SourceSearch,
		Flag:               domain.FlagHighConfidence,
		MappingStatus:      domain.StatusVerifiedSemanticHigh,
		SemanticMatchScore: &semantic,
		Reasoning:          `matched "jasmine" variety`,
		RetryAttempts:      1,
		SearchQueriesUsed:  []string{"jasmine rice"},
		Nutrients: map[string]*domain.NutrientValue{
			"nutrient-calories-energy": {Amount: 130, Unit: "kcal"},
			"nutrient-protein":         {Amount: 2.7, Unit: "g"},
			"nutrient-zinc":            nil,
		},
		Timestamp:      ts,
		ProcessingTime: 1.5,
		Debug: &domain.DebugMetadata{
			TierCounts:      map[string]int{"Foundation,SR Legacy": 2, "Branded": 1},
			TotalCandidates: 3,
			TopSemantic:     []domain.ScoredDescription{{Description: "Rice, jasmine, cooked", Score: 95}},
			Counters:        domain.CallCounters{APICalls: 5, LLMCalls: 1},
			Attempts:        []domain.AttemptDetail{{Query: "jasmine rice", Success: true}},
		},
	}
	unresolved := &domain.ResultRecord{
		Ingredient:    "unobtainium",
		Flag:          domain.FlagNoMapping,
		MappingStatus: domain.StatusNoSearchResults,
		RetryAttempts: 2,
		Nutrients: map[string]*domain.NutrientValue{
			"nutrient-calories-energy": nil,
			"nutrient-protein":         nil,
			"nutrient-zinc":            nil,
		},
		Timestamp: ts,
	}
	return []*domain.ResultRecord{resolved, unresolved}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteResults_CSVStandard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, WriteResults(sampleRecords(), path, FormatCSV))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)

	header := rows[0]
	// 15 metadata columns then sorted nutrient IDs.
	require.Len(t, header, 15+3)
	assert.Equal(t, "ingredient", header[0])
	assert.Equal(t, "processing_time_seconds", header[14])
	assert.Equal(t, []string{"nutrient-calories-energy", "nutrient-protein", "nutrient-zinc"}, header[15:])

	resolved := rows[1]
	assert.Equal(t, "jasmine rice", resolved[0])
	assert.Equal(t, "100", resolved[1])
	assert.Equal(t, domain.FlagHighConfidence, resolved[6])
	assert.Equal(t, "95", resolved[8])
	// Double quotes are folded to single quotes.
	assert.Equal(t, "matched 'jasmine' variety", resolved[10])
	assert.Equal(t, "130 kcal", resolved[15])
	assert.Equal(t, "2.7 g", resolved[16])
	assert.Equal(t, "", resolved[17])

	unresolved := rows[2]
	assert.Equal(t, "unobtainium", unresolved[0])
	assert.Equal(t, "", unresolved[1])
	assert.Equal(t, "", unresolved[15])
}

func TestWriteResults_CSVDebugColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, WriteResults(sampleRecords(), path, FormatCSVDebug))

	rows := readCSV(t, path)
	header := rows[0]
	require.Len(t, header, 15+len(debugColumns)+3)

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %q", name)
		return -1
	}

	resolved := rows[1]
	assert.Equal(t, "2", resolved[col("tier_1_count")])
	assert.Equal(t, "1", resolved[col("tier_3_count")])
	assert.Equal(t, "3", resolved[col("total_search_results")])
	assert.Equal(t, "95", resolved[col("top_semantic_score_1")])
	assert.Equal(t, "Rice, jasmine, cooked", resolved[col("top_semantic_desc_1")])
	assert.Equal(t, "5", resolved[col("api_calls_count")])
	assert.Equal(t, "jasmine rice", resolved[col("attempt_1_query")])
	assert.Equal(t, "true", resolved[col("attempt_1_success")])
	assert.Equal(t, "", resolved[col("attempt_2_query")])
}

func TestWriteResults_JSONCleanDropsEmptyNutrients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	require.NoError(t, WriteResults(sampleRecords(), path, FormatJSONClean))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var clean []map[string]any
	require.NoError(t, json.Unmarshal(data, &clean))
	require.Len(t, clean, 2)

	nutrients := clean[0]["nutrients"].(map[string]any)
	assert.Len(t, nutrients, 2)
	_, hasZinc := nutrients["nutrient-zinc"]
	assert.False(t, hasZinc)

	// Clean shape carries no debug payload.
	_, hasDebug := clean[0]["debug"]
	assert.False(t, hasDebug)
}

func TestWriteResults_JSONDebugKeepsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	require.NoError(t, WriteResults(sampleRecords(), path, FormatJSONDebug))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var full []map[string]any
	require.NoError(t, json.Unmarshal(data, &full))
	require.Len(t, full, 2)
	assert.Contains(t, full[0], "debug")
	assert.Contains(t, full[0], "nutrients")
}

func TestWriteResults_JSONBatchSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	require.NoError(t, WriteResults(sampleRecords(), path, FormatJSONBatch))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var batch struct {
		Summary struct {
			Total      int `json:"total"`
			Successful int `json:"successful"`
			Failed     int `json:"failed"`
		} `json:"summary"`
		Results           []json.RawMessage `json:"results"`
		FailedIngredients []string          `json:"failed_ingredients"`
		Timestamp         time.Time         `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &batch))
	assert.Equal(t, 2, batch.Summary.Total)
	assert.Equal(t, 1, batch.Summary.Successful)
	assert.Equal(t, 1, batch.Summary.Failed)
	assert.Len(t, batch.Results, 2)
	assert.Equal(t, []string{"unobtainium"}, batch.FailedIngredients)

	// Envelope is stamped at write time, not with a record's resolve time.
	assert.WithinDuration(t, time.Now(), batch.Timestamp, time.Minute)
}

func TestWriteResults_UnsupportedFormat(t *testing.T) {
	err := WriteResults(sampleRecords(), filepath.Join(t.TempDir(), "out.xml"), "xml")
	assert.Error(t, err)
}

func TestWriteResults_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "out.csv")

	require.NoError(t, WriteResults(sampleRecords(), path, FormatCSV))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestTimestampedPath(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 15, 0, time.UTC)

	assert.Equal(t, "out/nutrition_20250314_093015.csv", TimestampedPath("out/nutrition.csv", now))
	assert.Equal(t, "results_20250314_093015.json", TimestampedPath("results.json", now))
}

func TestFailedPath(t *testing.T) {
	assert.Equal(t, "out/nutrition_failed.txt", FailedPath("out/nutrition.csv"))
	assert.Equal(t, "results_failed.txt", FailedPath("results.json"))
}

func TestWriteFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.txt")

	require.NoError(t, WriteFailed([]string{"a", "b"}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestWriteFailed_EmptyListWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.txt")

	require.NoError(t, WriteFailed(nil, path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
