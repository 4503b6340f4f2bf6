package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"
)

// DOCXParser reads the rows of every table in a .docx file.
type DOCXParser struct{}

func (p *DOCXParser) Rows(r io.Reader, filename string) ([][]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	doc, err := docx.Parse(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	var rows [][]string
	for _, item := range doc.Document.Body.Items {
		tbl, ok := item.(*docx.Table)
		if !ok {
			continue
		}
		for _, tr := range tbl.TableRows {
			cells := make([]string, 0, len(tr.TableCells))
			for _, tc := range tr.TableCells {
				cells = append(cells, docxCellText(tc))
			}
			rows = appendRow(rows, cells)
		}
	}
	return rows, nil
}

func docxCellText(tc *docx.WTableCell) string {
	parts := make([]string, 0, len(tc.Paragraphs))
	for _, para := range tc.Paragraphs {
		if t := strings.TrimSpace(para.String()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
