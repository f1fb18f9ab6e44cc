package emit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nutrimap/resolver/internal/domain"
)

// Output formats. The bare "csv" and "json" aliases map to csv-standard and
// json-debug respectively.
const (
	FormatCSV       = "csv"
	FormatCSVDebug  = "csv-debug"
	FormatJSON      = "json"
	FormatJSONDebug = "json-debug"
	FormatJSONClean = "json-clean"
	FormatJSONBatch = "json-batch"
)

// TimestampedPath inserts a timestamp before the extension, so repeated runs
// never clobber each other.
func TimestampedPath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%s%s", base, now.Format("20060102_150405"), ext)
}

// FailedPath derives the companion file listing unresolved ingredients.
func FailedPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + "_failed.txt"
}

// WriteResults writes records to path in the requested format.
func WriteResults(records []*domain.ResultRecord, path, format string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	switch format {
	case FormatCSV, "csv-standard":
		return writeCSV(records, path, false)
	case FormatCSVDebug:
		return writeCSV(records, path, true)
	case FormatJSON, FormatJSONDebug:
		return writeJSON(records, path)
	case FormatJSONClean:
		return writeJSONClean(records, path)
	case FormatJSONBatch:
		return writeJSONBatch(records, path)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteFailed writes the unresolved ingredient list, one per line. Nothing
// is written when the list is empty.
func WriteFailed(failed []string, path string) error {
	if len(failed) == 0 {
		return nil
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.Join(failed, "\n")+"\n"), 0o644)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

var metadataColumns = []string{
	"ingredient", "fdc_id", "description", "data_type", "brand_owner", "source",
	"flag", "mapping_status", "semantic_match_score", "nutritional_similarity_score",
	"reasoning", "retry_attempts", "search_queries_used", "timestamp", "processing_time_seconds",
}

var debugColumns = []string{
	"search_time_seconds", "semantic_verification_time_seconds",
	"nutritional_scoring_time_seconds", "extraction_time_seconds",
	"tier_1_count", "tier_2_count", "tier_3_count", "tier_4_count",
	"total_search_results", "semantic_verified_count",
	"top_semantic_score_1", "top_semantic_desc_1",
	"top_semantic_score_2", "top_semantic_desc_2",
	"top_semantic_score_3", "top_semantic_desc_3",
	"top_nutritional_score_1", "top_nutritional_desc_1",
	"top_nutritional_score_2", "top_nutritional_desc_2",
	"top_nutritional_score_3", "top_nutritional_desc_3",
	"api_calls_count", "llm_calls_count", "cache_hits", "cache_misses",
	"attempt_1_query", "attempt_1_success", "attempt_2_query", "attempt_2_success",
}

// tierColumnLabels maps the searcher's tier labels to debug column order.
var tierColumnLabels = []string{"Foundation,SR Legacy", "Survey (FNDDS)", "Branded", "all"}

func writeCSV(records []*domain.ResultRecord, path string, debug bool) error {
	nutrientIDs := collectNutrientIDs(records)

	header := append([]string{}, metadataColumns...)
	if debug {
		header = append(header, debugColumns...)
	}
	header = append(header, nutrientIDs...)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}

	for _, record := range records {
		if record == nil {
			continue
		}
		row := metadataRow(record)
		if debug {
			row = append(row, debugRow(record)...)
		}
		for _, id := range nutrientIDs {
			row = append(row, nutrientCell(record.Nutrients[id]))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func metadataRow(r *domain.ResultRecord) []string {
	return []string{
		r.Ingredient,
		intPtrCell(r.FdcID),
		r.Description,
		r.DataType,
		r.BrandOwner,
		r.Source,
		r.Flag,
		r.MappingStatus,
		floatPtrCell(r.SemanticMatchScore),
		floatPtrCell(r.NutritionalSimilarityScore),
		csvSafe(r.Reasoning),
		strconv.Itoa(r.RetryAttempts),
		csvSafe(strings.Join(r.SearchQueriesUsed, ", ")),
		r.Timestamp.Format(time.RFC3339),
		floatCell(r.ProcessingTime),
	}
}

func debugRow(r *domain.ResultRecord) []string {
	d := r.Debug
	if d == nil {
		d = &domain.DebugMetadata{}
	}

	row := []string{
		floatCell(d.Timings.Search),
		floatCell(d.Timings.Semantic),
		floatCell(d.Timings.Nutritional),
		floatCell(d.Timings.Extraction),
	}
	for _, label := range tierColumnLabels {
		row = append(row, strconv.Itoa(d.TierCounts[label]))
	}
	row = append(row,
		strconv.Itoa(d.TotalCandidates),
		strconv.Itoa(len(d.TopSemantic)),
	)
	row = append(row, scoredCells(d.TopSemantic)...)
	row = append(row, scoredCells(d.TopNutritional)...)
	row = append(row,
		strconv.Itoa(d.Counters.APICalls),
		strconv.Itoa(d.Counters.LLMCalls),
		strconv.Itoa(d.Counters.CacheHits),
		strconv.Itoa(d.Counters.CacheMisses),
	)
	for i := 0; i < 2; i++ {
		if i < len(d.Attempts) {
			row = append(row, csvSafe(d.Attempts[i].Query), strconv.FormatBool(d.Attempts[i].Success))
		} else {
			row = append(row, "", "")
		}
	}
	return row
}

func scoredCells(scored []domain.ScoredDescription) []string {
	cells := make([]string, 0, 6)
	for i := 0; i < 3; i++ {
		if i < len(scored) {
			cells = append(cells, floatCell(scored[i].Score), csvSafe(scored[i].Description))
		} else {
			cells = append(cells, "", "")
		}
	}
	return cells
}

func nutrientCell(value *domain.NutrientValue) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(floatCell(value.Amount) + " " + value.Unit)
}

func collectNutrientIDs(records []*domain.ResultRecord) []string {
	seen := make(map[string]bool)
	for _, record := range records {
		if record == nil {
			continue
		}
		for id := range record.Nutrients {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func csvSafe(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

func floatCell(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func floatPtrCell(f *float64) string {
	if f == nil {
		return ""
	}
	return floatCell(*f)
}

func intPtrCell(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func writeJSON(records []*domain.ResultRecord, path string) error {
	data, err := json.MarshalIndent(compact(records), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// cleanRecord is the minimal payload shape for downstream consumers.
type cleanRecord struct {
	Ingredient    string                           `json:"ingredient"`
	FdcID         *int                             `json:"fdc_id"`
	Description   string                           `json:"description"`
	DataType      string                           `json:"data_type"`
	Flag          string                           `json:"flag"`
	MappingStatus string                           `json:"mapping_status"`
	Nutrients     map[string]*domain.NutrientValue `json:"nutrients"`
	Timestamp     time.Time                        `json:"timestamp"`
}

func cleanRecords(records []*domain.ResultRecord) []cleanRecord {
	out := make([]cleanRecord, 0, len(records))
	for _, r := range compact(records) {
		nutrients := make(map[string]*domain.NutrientValue)
		for id, value := range r.Nutrients {
			if value != nil {
				nutrients[id] = value
			}
		}
		out = append(out, cleanRecord{
			Ingredient:    r.Ingredient,
			FdcID:         r.FdcID,
			Description:   r.Description,
			DataType:      r.DataType,
			Flag:          r.Flag,
			MappingStatus: r.MappingStatus,
			Nutrients:     nutrients,
			Timestamp:     r.Timestamp,
		})
	}
	return out
}

func writeJSONClean(records []*domain.ResultRecord, path string) error {
	data, err := json.MarshalIndent(cleanRecords(records), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func writeJSONBatch(records []*domain.ResultRecord, path string) error {
	kept := compact(records)

	successful := 0
	totalTime := 0.0
	var failed []string
	for _, r := range kept {
		totalTime += r.ProcessingTime
		switch r.Flag {
		case domain.FlagHighConfidence, domain.FlagMidConfidence:
			successful++
		default:
			failed = append(failed, r.Ingredient)
		}
	}

	batch := struct {
		Summary struct {
			Total          int     `json:"total"`
			Successful     int     `json:"successful"`
			Failed         int     `json:"failed"`
			ProcessingTime float64 `json:"processing_time_seconds"`
		} `json:"summary"`
		Results           []cleanRecord `json:"results"`
		FailedIngredients []string      `json:"failed_ingredients"`
		Timestamp         time.Time     `json:"timestamp"`
	}{
		Results:           cleanRecords(records),
		FailedIngredients: failed,
		// Envelope timestamp is the write time, not any record's resolve time.
		Timestamp: time.Now(),
	}
	batch.Summary.Total = len(kept)
	batch.Summary.Successful = successful
	batch.Summary.Failed = len(kept) - successful
	batch.Summary.ProcessingTime = totalTime

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func compact(records []*domain.ResultRecord) []*domain.ResultRecord {
	out := make([]*domain.ResultRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
