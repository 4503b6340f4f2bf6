package outline

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	romanTokens = []string{"II", "III", "IV", "VII", "VIII", "IX", "XI", "XII"}

	subsectionRe   = regexp.MustCompile(`(\d)+\.(\d)+`)
	zeroSectionRe  = regexp.MustCompile(`\d\.0`)
	splitNumberRe  = regexp.MustCompile(`\d\.\d+`)
	swappedSpaceRe = regexp.MustCompile(`\.(\d\d) \n\d`)
	swappedBreakRe = regexp.MustCompile(`\.(\d\d)(\n)+\d`)
	swappedTitleRe = regexp.MustCompile(`\.(\d)+ [\D]+ \d\.`)
)

// Extract builds an outline from TOC rows. Rows are first reduced to the
// modal row length, numbering typos are repaired, and each row is then
// classified as a section, a subsection, or noise.
func Extract(rows [][]string) *Outline {
	rows = FilterByMode(rows)
	out := &Outline{Roman: DetectRoman(rows)}

	section, subsection := 1, 1
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		cells := append([]string(nil), row...)
		cells[0] = NormalizeNumbering(cells[0])
		first := cells[0]

		if !isSubsection(first) {
			numbering := strconv.Itoa(section)
			if out.Roman {
				numbering = ToRoman(section)
			}
			if !strings.Contains(first, numbering) {
				continue
			}
			title := first
			if len(cells) > 1 && !isInt(cells[1]) {
				title += " " + cells[1]
			}
			out.Sections = append(out.Sections, Section{Number: section, Numbering: numbering, Title: title})
			section++
			subsection = 1
			continue
		}

		// A two-cell row with d.d numbering is a section written in
		// subsection style.
		if len(cells) == 2 {
			out.Sections = append(out.Sections, Section{
				Number:    section,
				Numbering: splitNumberRe.FindString(first),
				Title:     splitAroundNumbers(first) + " " + cells[1],
			})
			section++
			continue
		}

		parent, ok := out.Section(section - 1)
		if !ok {
			out.Sections = append(out.Sections, Section{Number: section - 1, Title: MiscTitle})
			parent = &out.Sections[len(out.Sections)-1]
		}
		parent.Subsections = append(parent.Subsections, Subsection{
			Number: subsection,
			Title:  subsectionRe.FindString(first) + " " + strings.Join(cells[1:], " "),
		})
		subsection++
	}
	return out
}

// FilterByMode keeps only the rows whose length is the unique most common
// row length. Without a unique mode the rows are returned as is.
func FilterByMode(rows [][]string) [][]string {
	if len(rows) == 0 {
		return rows
	}
	counts := make(map[int]int)
	for _, r := range rows {
		counts[len(r)]++
	}
	mode, best, tied := 0, 0, false
	for length, n := range counts {
		switch {
		case n > best:
			mode, best, tied = length, n, false
		case n == best:
			tied = true
		}
	}
	if tied {
		return rows
	}
	out := make([][]string, 0, best)
	for _, r := range rows {
		if len(r) == mode {
			out = append(out, r)
		}
	}
	return out
}

// DetectRoman reports whether the TOC numbers its sections in roman
// numerals: at least two non-subsection rows carrying a roman token
// before the first subsection row.
func DetectRoman(rows [][]string) bool {
	count := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if subsectionRe.MatchString(row[0]) {
			break
		}
		for _, tok := range romanTokens {
			if strings.Contains(row[0], tok) {
				count++
				break
			}
		}
		if count >= 2 {
			return true
		}
	}
	return false
}

// NormalizeNumbering repairs first cells whose section number was split
// from its title and reordered by the table export.
func NormalizeNumbering(cell string) string {
	if swappedSpaceRe.MatchString(cell) {
		cell = pySlice(cell, -2, 0, false) + pySlice(cell, 1, 3, true)
	}
	if swappedBreakRe.MatchString(cell) {
		cell = pySlice(cell, -2, 0, false) + pySlice(cell, 1, 3, true)
	}
	if swappedTitleRe.MatchString(cell) {
		cell = pySlice(cell, -2, 0, false) + pySlice(cell, 1, -2, true)
	}
	return cell
}

func isSubsection(cell string) bool {
	return subsectionRe.MatchString(cell) && !zeroSectionRe.MatchString(cell)
}

func isInt(s string) bool {
	_, err := strconv.Atoi(strings.TrimSpace(s))
	return err == nil
}

// splitAroundNumbers separates every d.d numbering from the surrounding
// text with single spaces.
func splitAroundNumbers(s string) string {
	var parts []string
	last := 0
	for _, loc := range splitNumberRe.FindAllStringIndex(s, -1) {
		parts = append(parts, s[last:loc[0]], s[loc[0]:loc[1]])
		last = loc[1]
	}
	parts = append(parts, s[last:])
	return strings.TrimSpace(strings.Join(parts, " "))
}

// pySlice returns s[start:end] over runes with negative indices counting
// from the end. When hasEnd is false the slice runs to the end of s.
func pySlice(s string, start, end int, hasEnd bool) string {
	r := []rune(s)
	n := len(r)
	norm := func(i int) int {
		if i < 0 {
			i += n
		}
		return max(0, min(i, n))
	}
	lo, hi := norm(start), n
	if hasEnd {
		hi = norm(end)
	}
	if lo >= hi {
		return ""
	}
	return string(r[lo:hi])
}
