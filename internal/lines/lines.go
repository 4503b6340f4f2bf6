// Package lines merges raw detected lines that share the same vertical
// band on a page into single visual lines.
package lines

import (
	"sort"
	"strings"

	"github.com/mumose/contract-labeling-with-TOC/internal/detection"
)

// Word is one detected word with its normalized box.
type Word struct {
	Text string        `json:"text"`
	Box  detection.Box `json:"box"`
}

// Line is a (possibly merged) visual line on one page.
type Line struct {
	Page       int     `json:"page"`
	YMin       float64 `json:"ymin"`
	YMax       float64 `json:"ymax"`
	Words      []Word  `json:"words"`
	PageWidth  int     `json:"page_width"`
	PageHeight int     `json:"page_height"`

	// Sources are the indices of the raw lines this line was built from.
	Sources []int `json:"sources"`
}

// Text joins the line's words with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// Boxes returns the word boxes in order.
func (l Line) Boxes() []detection.Box {
	out := make([]detection.Box, len(l.Words))
	for i, w := range l.Words {
		out[i] = w.Box
	}
	return out
}

// Flatten walks pages, blocks and lines of a detection result in order
// and returns one Line per detected line. A nil result has no lines.
func Flatten(res *detection.Result) []Line {
	if res == nil {
		return nil
	}
	var out []Line
	for _, p := range res.Pages {
		for _, b := range p.Blocks {
			for _, l := range b.Lines {
				words := make([]Word, 0, len(l.Words))
				for _, w := range l.Words {
					words = append(words, Word{Text: w.Value, Box: w.Geometry})
				}
				out = append(out, Line{
					Page:       p.Index,
					YMin:       l.Geometry.YMin,
					YMax:       l.Geometry.YMax,
					Words:      words,
					PageWidth:  p.Width(),
					PageHeight: p.Height(),
					Sources:    []int{len(out)},
				})
			}
		}
	}
	return out
}

// VerticalIOU is the overlap of the two y-extents divided by their
// combined extent. Disjoint or degenerate extents give 0.
func VerticalIOU(a, b Line) float64 {
	inter := min(a.YMax, b.YMax) - max(a.YMin, b.YMin)
	if inter < 0 {
		return 0
	}
	union := max(a.YMax, b.YMax) - min(a.YMin, b.YMin)
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Merge groups lines on the same page whose vertical IOU exceeds
// threshold, transitively. Each group keeps its members' words in input
// order and spans their combined y-extent. The result is ordered by page,
// then by ymin.
func Merge(in []Line, threshold float64) []Line {
	set := newDisjointSet(len(in))
	for i := range in {
		for j := i + 1; j < len(in); j++ {
			if in[i].Page != in[j].Page {
				continue
			}
			if VerticalIOU(in[i], in[j]) > threshold {
				set.union(i, j)
			}
		}
	}

	groups := make(map[int]int)
	var out []Line
	for i, l := range in {
		root := set.find(i)
		gi, ok := groups[root]
		if !ok {
			groups[root] = len(out)
			out = append(out, Line{
				Page:       l.Page,
				YMin:       l.YMin,
				YMax:       l.YMax,
				Words:      append([]Word(nil), l.Words...),
				PageWidth:  l.PageWidth,
				PageHeight: l.PageHeight,
				Sources:    append([]int(nil), l.Sources...),
			})
			continue
		}
		g := &out[gi]
		g.Words = append(g.Words, l.Words...)
		g.Sources = append(g.Sources, l.Sources...)
		g.YMin = min(g.YMin, l.YMin)
		g.YMax = max(g.YMax, l.YMax)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].YMin < out[j].YMin
	})
	return out
}

type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	s := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range s.parent {
		s.parent[i] = i
	}
	return s
}

func (s *disjointSet) find(x int) int {
	for s.parent[x] != x {
		s.parent[x] = s.parent[s.parent[x]]
		x = s.parent[x]
	}
	return x
}

func (s *disjointSet) union(a, b int) {
	ra, rb := s.find(a), s.find(b)
	if ra == rb {
		return
	}
	switch {
	case s.rank[ra] < s.rank[rb]:
		s.parent[ra] = rb
	case s.rank[ra] > s.rank[rb]:
		s.parent[rb] = ra
	default:
		s.parent[rb] = ra
		s.rank[ra]++
	}
}
