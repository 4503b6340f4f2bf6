package parser

import (
	"bufio"
	"io"
	"regexp"
)

// cellSepRe splits a plain-text contents line into cells: a tab, or a run
// of two or more spaces as left by column-aligned text exports.
var cellSepRe = regexp.MustCompile(`\t+|\s{2,}`)

// TextParser reads one contents row per non-blank line.
type TextParser struct{}

func (p *TextParser) Rows(r io.Reader, filename string) ([][]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rows [][]string
	for scanner.Scan() {
		rows = appendRow(rows, cellSepRe.Split(scanner.Text(), -1))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
