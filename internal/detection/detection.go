// Package detection holds the raw text detections of a scanned document:
// pages of blocks of lines of words, each with a page-normalized box.
package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformedGeometry reports a box whose max corner lies before its
// min corner, or one with non-finite coordinates.
var ErrMalformedGeometry = errors.New("malformed geometry")

// Box is an axis-aligned rectangle in page-normalized [0,1] coordinates.
type Box struct {
	XMin, YMin, XMax, YMax float64
}

// Validate checks the ordering and finiteness of the box corners.
func (b Box) Validate() error {
	for _, v := range [...]float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %v", ErrMalformedGeometry, b)
		}
	}
	if b.XMax < b.XMin || b.YMax < b.YMin {
		return fmt.Errorf("%w: max corner before min corner in %v", ErrMalformedGeometry, b)
	}
	return nil
}

// Union returns the smallest box covering b and o.
func (b Box) Union(o Box) Box {
	return Box{
		XMin: math.Min(b.XMin, o.XMin),
		YMin: math.Min(b.YMin, o.YMin),
		XMax: math.Max(b.XMax, o.XMax),
		YMax: math.Max(b.YMax, o.YMax),
	}
}

// UnionAll returns the union of boxes. It reports false for an empty slice.
func UnionAll(boxes []Box) (Box, bool) {
	if len(boxes) == 0 {
		return Box{}, false
	}
	u := boxes[0]
	for _, b := range boxes[1:] {
		u = u.Union(b)
	}
	return u, true
}

// MarshalJSON encodes the box as [[xmin, ymin], [xmax, ymax]].
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([2][2]float64{{b.XMin, b.YMin}, {b.XMax, b.YMax}})
}

// UnmarshalJSON accepts a two-point box or a polygon. A polygon is
// reduced to its bounding envelope.
func (b *Box) UnmarshalJSON(data []byte) error {
	var pts [][]float64
	if err := json.Unmarshal(data, &pts); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	for _, p := range pts {
		if len(p) != 2 {
			return fmt.Errorf("%w: point with %d coordinates", ErrMalformedGeometry, len(p))
		}
	}
	switch {
	case len(pts) == 2:
		*b = Box{XMin: pts[0][0], YMin: pts[0][1], XMax: pts[1][0], YMax: pts[1][1]}
	case len(pts) > 2:
		env := Box{XMin: pts[0][0], YMin: pts[0][1], XMax: pts[0][0], YMax: pts[0][1]}
		for _, p := range pts[1:] {
			env = env.Union(Box{XMin: p[0], YMin: p[1], XMax: p[0], YMax: p[1]})
		}
		*b = env
	default:
		return fmt.Errorf("%w: %d points", ErrMalformedGeometry, len(pts))
	}
	return nil
}

// Result is a whole document's detections.
type Result struct {
	Pages []Page `json:"pages"`
}

// Page is one page of detections. Dimensions are (height, width) in pixels.
type Page struct {
	Index      int     `json:"page_idx"`
	Dimensions [2]int  `json:"dimensions"`
	Blocks     []Block `json:"blocks"`
}

// Height of the page in pixels.
func (p Page) Height() int { return p.Dimensions[0] }

// Width of the page in pixels.
func (p Page) Width() int { return p.Dimensions[1] }

type Block struct {
	Geometry Box    `json:"geometry"`
	Lines    []Line `json:"lines"`
}

type Line struct {
	Geometry Box    `json:"geometry"`
	Words    []Word `json:"words"`
}

type Word struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Geometry   Box     `json:"geometry"`
}

// Validate checks every line and word box of the result.
func (r *Result) Validate() error {
	for _, p := range r.Pages {
		for bi, b := range p.Blocks {
			for li, l := range b.Lines {
				if err := l.Geometry.Validate(); err != nil {
					return fmt.Errorf("page %d block %d line %d: %w", p.Index, bi, li, err)
				}
				for wi, w := range l.Words {
					if err := w.Geometry.Validate(); err != nil {
						return fmt.Errorf("page %d block %d line %d word %d: %w", p.Index, bi, li, wi, err)
					}
				}
			}
		}
	}
	return nil
}

// Decode reads a detection export in JSON form and validates it.
func Decode(r io.Reader) (*Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

// IsSupportedExtension reports whether Load can read the file.
func IsSupportedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".pdf":
		return true
	}
	return false
}

// Parse decodes detections from data, choosing the reader by extension:
// JSON exports directly, PDFs through their text layer.
func Parse(data []byte, filename string) (*Result, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		return Decode(bytes.NewReader(data))
	case ".pdf":
		return FromPDF(bytes.NewReader(data), int64(len(data)))
	default:
		return nil, fmt.Errorf("unsupported detection format: %s", ext)
	}
}

// Load reads detections from a file on disk.
func Load(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read detections: %w", err)
	}
	return Parse(data, path)
}
