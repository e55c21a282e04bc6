package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// CSVOptions holds options for CSV loading.
type CSVOptions struct {
	IDColumn         string   // Partition identifier column (required)
	ResponseColumn   string   // Response column (required)
	PredictorColumns []string // Predictor columns (at least one)
	NAAction         NAAction // Missing-data policy (default: omit)
	Delimiter        rune     // Field delimiter (default: ',')
}

// naTokens are cell values treated as missing.
var naTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"na":   true,
	"NaN":  true,
	"nan":  true,
	"null": true,
	"NULL": true,
}

// LoadCSV loads a dataset from a CSV file with a header row.
func LoadCSV(filename string, opts CSVOptions) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadCSVFromReader(file, opts)
}

// LoadCSVFromReader loads a dataset from an io.Reader.
func LoadCSVFromReader(r io.Reader, opts CSVOptions) (*Dataset, error) {
	if opts.IDColumn == "" || opts.ResponseColumn == "" {
		return nil, errors.New("id and response columns are required")
	}
	if len(opts.PredictorColumns) == 0 {
		return nil, errors.New("at least one predictor column is required")
	}
	if opts.NAAction == "" {
		opts.NAAction = NAOmit
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.TrimSpace(h)] = i
	}
	lookup := func(name string) (int, error) {
		i, ok := columns[name]
		if !ok {
			return -1, fmt.Errorf("column %q not found in header", name)
		}
		return i, nil
	}

	idIdx, err := lookup(opts.IDColumn)
	if err != nil {
		return nil, err
	}
	respIdx, err := lookup(opts.ResponseColumn)
	if err != nil {
		return nil, err
	}
	predIdx := make([]int, len(opts.PredictorColumns))
	for j, name := range opts.PredictorColumns {
		if predIdx[j], err = lookup(name); err != nil {
			return nil, err
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := Row{
			ID:         strings.TrimSpace(record[idIdx]),
			Predictors: make([]float64, len(predIdx)),
		}
		if row.Response, err = parseValue(record[respIdx]); err != nil {
			return nil, fmt.Errorf("line %d, column %q: %w", line, opts.ResponseColumn, err)
		}
		for j, idx := range predIdx {
			if row.Predictors[j], err = parseValue(record[idx]); err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, opts.PredictorColumns[j], err)
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.New("no data rows found")
	}

	return New(opts.IDColumn, opts.ResponseColumn, opts.PredictorColumns, rows, opts.NAAction)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if naTokens[s] {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
