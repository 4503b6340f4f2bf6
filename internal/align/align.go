// Package align walks outline labels and merged OCR lines in lockstep,
// matching each label to the line, or adjacent pair of lines, that
// carries its heading.
package align

import (
	"regexp"
	"strings"

	"github.com/mumose/contract-labeling-with-TOC/internal/fuzzy"
	"github.com/mumose/contract-labeling-with-TOC/internal/lines"
)

var tocPageRe = regexp.MustCompile(`(table of contents|tableof(?:contents)?|(?:table\s)?of*conten|contents?)`)

// Thresholds are percentages (0..100) applied to the match predicates.
type Thresholds struct {
	// Subset is the minimum partial ratio of the label against the candidate.
	Subset int `json:"subset_match_threshold" yaml:"subset_match_threshold"`
	// LineLen is the minimum candidate length as a percentage of the label length.
	LineLen int `json:"line_len_match_threshold" yaml:"line_len_match_threshold"`
	// Beg is the minimum partial ratio against the beginning of the candidate.
	Beg int `json:"beg_line_match_threshold" yaml:"beg_line_match_threshold"`
	// First is the minimum partial ratio of the label against the first
	// line of a two-line candidate. Subset also gates the comparison of
	// the first two words of each side.
	First int `json:"first_line_match_threshold" yaml:"first_line_match_threshold"`
}

// Match records where a label was found.
type Match struct {
	Label string `json:"label"`
	// Lines are the indices of the matched merged lines: one, or two adjacent.
	Lines     []int        `json:"lines"`
	Text      string       `json:"text"`
	LineTexts []string     `json:"line_texts"`
	Words     []lines.Word `json:"-"`
	Page      int          `json:"page"`
	YMin      float64      `json:"ymin"`
	YMax      float64      `json:"ymax"`
	Score     int          `json:"score"`
	Pointer   int          `json:"pointer"`
}

// Result is the outcome of aligning one label sequence.
type Result struct {
	TOCPage   int      `json:"toc_page"`
	Matches   []Match  `json:"matches"`
	Unmatched []string `json:"unmatched"`
	Pointer   int      `json:"pointer"`
}

// Aligner matches labels against merged lines.
type Aligner struct {
	th     Thresholds
	scorer fuzzy.Scorer
}

// New returns an Aligner. A nil scorer selects fuzzy.Default.
func New(th Thresholds, scorer fuzzy.Scorer) *Aligner {
	if scorer == nil {
		scorer = fuzzy.Default
	}
	return &Aligner{th: th, scorer: scorer}
}

// TOCPage returns the page of the first line that reads like a table of
// contents heading, or -1.
func TOCPage(in []lines.Line) int {
	for _, l := range in {
		if tocPageRe.MatchString(strings.ToLower(l.Text())) {
			return l.Page
		}
	}
	return -1
}

type candidate struct {
	idx   []int
	text  string
	first string
	next  int
}

// Align matches labels in order. A pointer into in only moves forward:
// each label is searched from the line after the previous match, so
// matches never go back up the document. Labels that cannot be matched
// are reported in Result.Unmatched and leave the pointer in place.
func (a *Aligner) Align(labels []string, in []lines.Line) Result {
	res := Result{TOCPage: TOCPage(in), Matches: []Match{}, Unmatched: []string{}}
	folded := make([]string, len(in))
	for i, l := range in {
		folded[i] = fuzzy.Fold(l.Text())
	}

	pointer := 0
	for _, label := range labels {
		if pointer >= len(in) {
			res.Unmatched = append(res.Unmatched, label)
			continue
		}
		m, ok := a.scan(label, in, folded, pointer, res.TOCPage)
		if !ok {
			res.Unmatched = append(res.Unmatched, label)
			continue
		}
		pointer = m.Pointer
		res.Matches = append(res.Matches, m)
	}
	res.Pointer = pointer
	return res
}

func (a *Aligner) scan(label string, in []lines.Line, folded []string, from, tocPage int) (Match, bool) {
	l := fuzzy.Fold(label)
	for i := from; i < len(in); i++ {
		cands := []candidate{{idx: []int{i}, text: folded[i], first: folded[i], next: i + 1}}
		if i+1 < len(in) {
			cands = append(cands,
				candidate{idx: []int{i + 1}, text: folded[i+1], first: folded[i+1], next: i + 2},
				candidate{idx: []int{i, i + 1}, text: folded[i] + " " + folded[i+1], first: folded[i], next: i + 2},
			)
		}
		for _, c := range cands {
			if !a.eligible(c, in, tocPage) {
				continue
			}
			if score, ok := a.accept(l, c); ok {
				return a.record(label, c, in, score), true
			}
		}
	}
	return Match{}, false
}

func (a *Aligner) eligible(c candidate, in []lines.Line, tocPage int) bool {
	page := in[c.idx[0]].Page
	for _, i := range c.idx {
		if in[i].Page != page {
			return false
		}
		if tocPage >= 0 && in[i].Page == tocPage {
			return false
		}
	}
	return true
}

// accept evaluates the match predicates and returns the candidate's
// partial ratio against the label.
func (a *Aligner) accept(label string, c candidate) (int, bool) {
	score := a.scorer.Partial(label, c.text)
	if score < a.th.Subset {
		return score, false
	}
	labelLen, textLen := len([]rune(label)), len([]rune(c.text))
	if textLen*100 < labelLen*a.th.LineLen {
		return score, false
	}
	if a.scorer.Partial(label, prefix(c.text, 2*labelLen)) < a.th.Beg {
		return score, false
	}
	if len(c.idx) == 2 && a.scorer.Partial(label, c.first) < a.th.First {
		return score, false
	}
	if a.scorer.Partial(firstWords(label, 2), firstWords(c.text, 2)) < a.th.Subset {
		return score, false
	}
	return score, true
}

func (a *Aligner) record(label string, c candidate, in []lines.Line, score int) Match {
	m := Match{
		Label:   label,
		Lines:   c.idx,
		Page:    in[c.idx[0]].Page,
		YMin:    in[c.idx[0]].YMin,
		YMax:    in[c.idx[0]].YMax,
		Score:   score,
		Pointer: c.next,
	}
	for _, i := range c.idx {
		l := in[i]
		m.LineTexts = append(m.LineTexts, l.Text())
		m.Words = append(m.Words, l.Words...)
		m.YMin = min(m.YMin, l.YMin)
		m.YMax = max(m.YMax, l.YMax)
	}
	m.Text = strings.Join(m.LineTexts, " ")
	return m
}

func prefix(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[:n])
}

func firstWords(s string, n int) string {
	f := strings.Fields(s)
	if len(f) > n {
		f = f[:n]
	}
	return strings.Join(f, " ")
}
