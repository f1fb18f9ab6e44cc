package emit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Column and field names probed when looking for ingredient values in
// structured input.
var ingredientFieldNames = []string{"ingredient", "name", "food", "item", "ingredients"}

// LoadIngredients reads an ingredient list from path. format is "csv",
// "txt", "json" or "auto"; auto detection goes by extension first, then by
// content.
func LoadIngredients(path, format string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	if format == "" || format == "auto" {
		format = detectFormat(path, data)
	}

	switch format {
	case "csv":
		return parseCSV(data)
	case "txt":
		return parseTXT(data), nil
	case "json":
		return parseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported input format %q", format)
	}
}

func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".txt", ".text":
		return "txt"
	case ".json":
		return "json"
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		if json.Valid(data) {
			return "json"
		}
	}
	firstLine, _, _ := strings.Cut(trimmed, "\n")
	if strings.Contains(firstLine, ",") {
		return "csv"
	}
	return "txt"
}

// parseCSV pulls ingredients out of the best-matching column: a header named
// like an ingredient column, or the first column as a fallback.
func parseCSV(data []byte) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV input: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	column := 0
	found := false
	for _, want := range ingredientFieldNames {
		for i, field := range header {
			if strings.EqualFold(strings.TrimSpace(field), want) {
				column = i
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found && len(header) == 0 {
		return nil, fmt.Errorf("could not find ingredient column in CSV input")
	}

	var ingredients []string
	for _, row := range rows[1:] {
		if column >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[column]); v != "" {
			ingredients = append(ingredients, v)
		}
	}
	return ingredients, nil
}

// parseTXT reads one ingredient per line, skipping a leading header line,
// blank lines and comments.
func parseTXT(data []byte) []string {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	start := 0
	if len(lines) > 0 {
		first := strings.ToLower(strings.TrimSpace(lines[0]))
		for _, name := range ingredientFieldNames {
			if first == name {
				start = 1
				break
			}
		}
	}

	var ingredients []string
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line != "" {
			ingredients = append(ingredients, line)
		}
	}
	return ingredients
}

// parseJSON accepts a bare string array, an array of objects with an
// ingredient-like field, or an object wrapping either under a known key.
func parseJSON(data []byte) ([]string, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse JSON input: %w", err)
	}

	switch v := root.(type) {
	case []any:
		return ingredientsFromList(v), nil
	case map[string]any:
		for _, key := range []string{"ingredients", "data", "items", "foods", "names", "list"} {
			if list, ok := v[key].([]any); ok {
				return ingredientsFromList(list), nil
			}
		}
		return nil, fmt.Errorf("JSON input has no recognizable ingredient list")
	default:
		return nil, fmt.Errorf("JSON input must be an array or object")
	}
}

func ingredientsFromList(list []any) []string {
	var ingredients []string
	for _, item := range list {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				ingredients = append(ingredients, s)
			}
		case map[string]any:
			if s := ingredientFromObject(v); s != "" {
				ingredients = append(ingredients, s)
			}
		}
	}
	return ingredients
}

func ingredientFromObject(obj map[string]any) string {
	for _, want := range ingredientFieldNames {
		for key, value := range obj {
			if !strings.EqualFold(key, want) {
				continue
			}
			if s, ok := value.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
