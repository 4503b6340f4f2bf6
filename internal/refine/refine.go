// Package refine narrows an aligned candidate line to the run of words
// that carries the label, and reports the covering box.
package refine

import (
	"math"
	"strings"

	"github.com/mumose/contract-labeling-with-TOC/internal/align"
	"github.com/mumose/contract-labeling-with-TOC/internal/detection"
	"github.com/mumose/contract-labeling-with-TOC/internal/fuzzy"
	"github.com/mumose/contract-labeling-with-TOC/internal/lines"
)

// Span is a refined match: the exact words of a heading and their box.
type Span struct {
	Label       string        `json:"label"`
	Text        string        `json:"text"`
	Page        int           `json:"page"`
	Box         detection.Box `json:"box"`
	PixelBox    *PixelBox     `json:"pixel_box,omitempty"`
	Score       int           `json:"score"`
	WindowScore int           `json:"window_score"`
	Lines       []int         `json:"lines"`
}

// PixelBox is a box in page pixels.
type PixelBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// ToPixels scales a normalized box to a width x height page, rounding the
// min corner down and the max corner up so the box never shrinks.
func ToPixels(b detection.Box, width, height int) PixelBox {
	w, h := float64(width), float64(height)
	return PixelBox{
		X1: int(math.Floor(b.XMin * w)),
		Y1: int(math.Floor(b.YMin * h)),
		X2: int(math.Ceil(b.XMax * w)),
		Y2: int(math.Ceil(b.YMax * h)),
	}
}

// Refiner picks the word window of a match that best carries its label.
type Refiner struct {
	scorer fuzzy.Scorer
}

// New returns a Refiner. A nil scorer selects fuzzy.Default.
func New(scorer fuzzy.Scorer) *Refiner {
	if scorer == nil {
		scorer = fuzzy.Default
	}
	return &Refiner{scorer: scorer}
}

// Refine slides non-overlapping windows, as wide as the label has words,
// across the match's words. The first window scoring at least the
// match's own score wins; otherwise the best window is kept. For
// two-line matches the box always spans both lines.
func (r *Refiner) Refine(m align.Match, in []lines.Line) Span {
	words := make([]lines.Word, 0, len(m.Words))
	for _, w := range m.Words {
		if strings.TrimSpace(w.Text) != "" {
			words = append(words, w)
		}
	}
	span := Span{Label: m.Label, Page: m.Page, Score: m.Score, Lines: m.Lines}

	k := max(1, len(strings.Fields(m.Label)))
	bestScore, bestStart, bestEnd := 0, 0, 0
	for start := 0; start < len(words); start += k {
		end := min(start+k, len(words))
		s := r.scorer.TokenSet(joinWords(words[start:end]), m.Label)
		if s >= m.Score {
			bestScore, bestStart, bestEnd = s, start, end
			break
		}
		if s > bestScore {
			bestScore, bestStart, bestEnd = s, start, end
		}
	}

	if bestScore == 0 {
		span.Text = joinWords(words)
		span.Box, _ = detection.UnionAll(wordBoxes(words))
	} else {
		span.Text = joinWords(words[bestStart:bestEnd])
		span.WindowScore = bestScore
		if len(m.Lines) > 1 {
			span.Box, _ = detection.UnionAll(wordBoxes(words))
		} else {
			span.Box, _ = detection.UnionAll(wordBoxes(words[bestStart:bestEnd]))
		}
	}

	if len(m.Lines) > 0 && m.Lines[0] < len(in) {
		l := in[m.Lines[0]]
		if l.PageWidth > 0 && l.PageHeight > 0 {
			px := ToPixels(span.Box, l.PageWidth, l.PageHeight)
			span.PixelBox = &px
		}
	}
	return span
}

// RefineAll refines every match of an alignment in order.
func (r *Refiner) RefineAll(matches []align.Match, in []lines.Line) []Span {
	out := make([]Span, 0, len(matches))
	for _, m := range matches {
		out = append(out, r.Refine(m, in))
	}
	return out
}

func joinWords(ws []lines.Word) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

func wordBoxes(ws []lines.Word) []detection.Box {
	out := make([]detection.Box, len(ws))
	for i, w := range ws {
		out[i] = w.Box
	}
	return out
}
