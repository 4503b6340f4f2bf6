package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for outline sources with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported outline format")

// RowParser reads the table-of-contents table of a document as rows of
// cell text.
type RowParser interface {
	Rows(r io.Reader, filename string) ([][]string, error)
}

// SupportedExtensions lists file extensions an outline can be read from.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (RowParser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// ReadRows parses r with the parser registered for filename.
func ReadRows(r io.Reader, filename string) ([][]string, error) {
	p, err := ForFile(filename)
	if err != nil {
		return nil, err
	}
	rows, err := p.Rows(r, filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(filename), err)
	}
	return rows, nil
}

func appendRow(rows [][]string, cells []string) [][]string {
	row := make([]string, 0, len(cells))
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			row = append(row, c)
		}
	}
	if len(row) == 0 {
		return rows
	}
	return append(rows, row)
}
