package parser

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// tableJoinDistance bounds how far past the first <table> a closing tag
// may sit and still belong to the contents table. Contents tables that
// span two printed pages are split into two <table> elements.
const tableJoinDistance = 5000

var (
	tocMarkerRe      = regexp.MustCompile(`(?i)table of contents`)
	contentsMarkerRe = regexp.MustCompile(`(?i)contents`)
	tableCloseRe     = regexp.MustCompile(`(?i)</table>`)
)

// HTMLParser reads the contents table of an HTML filing.
type HTMLParser struct{}

func (p *HTMLParser) Rows(r io.Reader, filename string) ([][]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	fragment := filterContents(string(raw))
	if fragment == "" {
		return nil, nil
	}

	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			case "tr":
				rows = appendRow(rows, cellTexts(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows, nil
}

// filterContents returns the part of an HTML document holding the
// contents table: everything after the contents marker, from the first
// <table> through the last </table> that closes within
// tableJoinDistance bytes.
func filterContents(s string) string {
	parts := tocMarkerRe.Split(s, -1)
	if len(parts) == 1 {
		parts = contentsMarkerRe.Split(s, -1)
	}
	remaining := strings.Join(parts[1:], "")

	start := strings.Index(remaining, "<table")
	if start < 0 {
		return ""
	}
	remaining = remaining[start:]

	end := -1
	for _, loc := range tableCloseRe.FindAllStringIndex(remaining, -1) {
		if loc[0] < tableJoinDistance {
			end = loc[0]
		}
	}
	if end >= 0 {
		return remaining[:min(end+10, len(remaining))]
	}
	return remaining[:min(tableJoinDistance, len(remaining))]
}

func cellTexts(tr *html.Node) []string {
	var cells []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "td" {
			cells = append(cells, cleanCell(textContent(n)))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(tr)
	return cells
}

// cleanCell drops non-ASCII characters and folds newlines into spaces.
func cleanCell(s string) string {
	s = strings.Map(func(r rune) rune {
		if r > 0x7f {
			return -1
		}
		if r == '\n' {
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}
