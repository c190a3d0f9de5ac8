package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrMissingColumns is returned when the CSV header does not name all three
// feature columns.
var ErrMissingColumns = errors.New("csv header must name weekly_self_study_hours, attendance_percentage and class_participation")

// CSVResult holds the students read from an upload.
type CSVResult struct {
	Inputs  []Input
	Skipped int
}

// ReadCSV reads student rows. The first non-blank row must be a header naming
// the three feature columns; a student_id column is optional and defaults to
// the 1-based row number. Rows with missing or unreadable numbers are skipped
// and counted.
func ReadCSV(r io.Reader) (*CSVResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		columns  map[string]int
		result   = &CSVResult{}
		rowIndex int
	)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(record) == 0 || blank(record) {
			continue
		}

		if columns == nil {
			columns = detectColumns(record)
			if !complete(columns) {
				return nil, ErrMissingColumns
			}
			continue
		}

		rowIndex++
		in, ok := rowInput(record, columns, rowIndex)
		if !ok {
			result.Skipped++
			continue
		}
		result.Inputs = append(result.Inputs, in)
	}

	if columns == nil {
		return nil, ErrMissingColumns
	}
	return result, nil
}

func detectColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for idx, cell := range header {
		name, ok := CanonicalColumn(cell)
		if !ok {
			continue
		}
		if _, dup := cols[name]; !dup {
			cols[name] = idx
		}
	}
	return cols
}

func complete(cols map[string]int) bool {
	for _, name := range featureOrder {
		if _, ok := cols[name]; !ok {
			return false
		}
	}
	return true
}

func rowInput(record []string, cols map[string]int, rowIndex int) (Input, bool) {
	rec := make(Record, len(featureOrder))
	for _, name := range featureOrder {
		idx := cols[name]
		if idx >= len(record) {
			return Input{}, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Input{}, false
		}
		rec[name] = v
	}

	id := rowIndex
	if idx, ok := cols["student_id"]; ok && idx < len(record) {
		if parsed, err := strconv.Atoi(strings.TrimSpace(record[idx])); err == nil {
			id = parsed
		}
	}
	return InputFromRecord(id, rec), true
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
