package us

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadCSVSymbols reads the "symbol" column (matched case-insensitively,
// falling back to the first column) from a CSV file with a header row.
// Symbols are upper-cased and deduplicated in file order. A positive limit
// keeps only the first limit symbols.
func LoadCSVSymbols(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}

	symbolIdx := 0
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "symbol") {
			symbolIdx = i
			break
		}
	}

	var raw []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV %s: %w", path, err)
		}
		if len(record) > symbolIdx {
			raw = append(raw, record[symbolIdx])
		}
	}
	return NormalizeSymbols(raw, limit), nil
}

// NormalizeSymbols trims, upper-cases and deduplicates symbols, keeping
// their order. A positive limit keeps only the first limit symbols.
func NormalizeSymbols(symbols []string, limit int) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
