package detection

import (
	"fmt"
	"io"
	"math"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// Letter size in points, used when a page carries no MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// FromPDF builds detections from the text layer of a born-digital PDF.
// Each page becomes a single block, each text row a line, and runs of
// glyphs separated by whitespace or a visible gap become words.
func FromPDF(r io.ReaderAt, size int64) (*Result, error) {
	reader, err := pdflib.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	res := &Result{}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		width, height := mediaBox(page.V)
		out := Page{
			Index:      i - 1,
			Dimensions: [2]int{int(math.Round(height)), int(math.Round(width))},
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("read text rows of page %d: %w", i, err)
		}
		var block Block
		for _, row := range rows {
			words := groupWords(row.Content, width, height)
			if len(words) == 0 {
				continue
			}
			boxes := make([]Box, len(words))
			for j, w := range words {
				boxes[j] = w.Geometry
			}
			geom, _ := UnionAll(boxes)
			block.Lines = append(block.Lines, Line{Geometry: geom, Words: words})
		}
		if len(block.Lines) > 0 {
			lineBoxes := make([]Box, len(block.Lines))
			for j, l := range block.Lines {
				lineBoxes[j] = l.Geometry
			}
			block.Geometry, _ = UnionAll(lineBoxes)
			out.Blocks = []Block{block}
		}
		res.Pages = append(res.Pages, out)
	}

	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// groupWords joins positioned glyph runs of one text row into words with
// page-normalized boxes. PDF y grows upward, so boxes are flipped.
func groupWords(texts []pdflib.Text, width, height float64) []Word {
	var (
		words []Word
		cur   strings.Builder
		box   Box
		lastX float64
		open  bool
	)
	flush := func() {
		if open && strings.TrimSpace(cur.String()) != "" {
			words = append(words, Word{Value: cur.String(), Confidence: 1, Geometry: box})
		}
		cur.Reset()
		open = false
	}

	for _, t := range texts {
		if strings.TrimSpace(t.S) == "" {
			flush()
			continue
		}
		if open && t.X-lastX > 0.25*t.FontSize {
			flush()
		}
		b := Box{
			XMin: clamp01(t.X / width),
			YMin: clamp01((height - t.Y - t.FontSize) / height),
			XMax: clamp01((t.X + t.W) / width),
			YMax: clamp01((height - t.Y) / height),
		}
		if open {
			box = box.Union(b)
		} else {
			box = b
			open = true
		}
		cur.WriteString(t.S)
		lastX = t.X + t.W
	}
	flush()
	return words
}

// mediaBox returns the page size in points, following inherited
// attributes up the page tree.
func mediaBox(v pdflib.Value) (width, height float64) {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		mb := node.Key("MediaBox")
		if mb.Len() == 4 {
			w := mb.Index(2).Float64() - mb.Index(0).Float64()
			h := mb.Index(3).Float64() - mb.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
	}
	return defaultPageWidth, defaultPageHeight
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
