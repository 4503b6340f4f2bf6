package parser

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVParser treats each record of a CSV file as a contents row.
type CSVParser struct{}

func (p *CSVParser) Rows(r io.Reader, filename string) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	var rows [][]string
	for _, rec := range records {
		rows = appendRow(rows, rec)
	}
	return rows, nil
}
