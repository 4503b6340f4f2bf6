package detection

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `{
  "pages": [{
    "page_idx": 0,
    "dimensions": [1100, 850],
    "blocks": [{
      "geometry": [[0.1, 0.1], [0.9, 0.2]],
      "lines": [{
        "geometry": [[0.1, 0.1], [0.5, 0.12]],
        "words": [
          {"value": "1.", "confidence": 0.99, "geometry": [[0.1, 0.1], [0.12, 0.12]]},
          {"value": "Scope", "confidence": 0.97, "geometry": [[0.13, 0.1], [0.2, 0.12]]}
        ]
      }]
    }]
  }]
}`

func TestDecode(t *testing.T) {
	res, err := Decode(strings.NewReader(sampleExport))
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)

	page := res.Pages[0]
	assert.Equal(t, 1100, page.Height())
	assert.Equal(t, 850, page.Width())
	words := page.Blocks[0].Lines[0].Words
	require.Len(t, words, 2)
	assert.Equal(t, "Scope", words[1].Value)
	assert.Equal(t, Box{XMin: 0.13, YMin: 0.1, XMax: 0.2, YMax: 0.12}, words[1].Geometry)
}

func TestDecodeRejectsInvertedBox(t *testing.T) {
	bad := strings.Replace(sampleExport, `[[0.13, 0.1], [0.2, 0.12]]`, `[[0.13, 0.1], [0.2, 0.05]]`, 1)
	_, err := Decode(strings.NewReader(bad))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedGeometry), "got %v", err)
}

func TestDecodeRejectsBadPoint(t *testing.T) {
	bad := strings.Replace(sampleExport, `[[0.13, 0.1], [0.2, 0.12]]`, `[[0.13], [0.2, 0.12]]`, 1)
	_, err := Decode(strings.NewReader(bad))
	assert.ErrorIs(t, err, ErrMalformedGeometry)
}

func TestBoxPolygonEnvelope(t *testing.T) {
	var b Box
	require.NoError(t, json.Unmarshal([]byte(`[[0.2,0.3],[0.6,0.25],[0.65,0.4],[0.15,0.45]]`), &b))
	assert.Equal(t, Box{XMin: 0.15, YMin: 0.25, XMax: 0.65, YMax: 0.45}, b)

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `[[0.15,0.25],[0.65,0.45]]`, string(out))
}

func TestUnionAll(t *testing.T) {
	_, ok := UnionAll(nil)
	assert.False(t, ok)

	u, ok := UnionAll([]Box{
		{XMin: 0.1, YMin: 0.2, XMax: 0.3, YMax: 0.25},
		{XMin: 0.4, YMin: 0.18, XMax: 0.6, YMax: 0.24},
	})
	require.True(t, ok)
	assert.Equal(t, Box{XMin: 0.1, YMin: 0.18, XMax: 0.6, YMax: 0.25}, u)
}

func TestGroupWords(t *testing.T) {
	glyphs := []pdflib.Text{
		{S: "1", X: 72, Y: 700, W: 6, FontSize: 12},
		{S: ".", X: 78, Y: 700, W: 3, FontSize: 12},
		{S: " ", X: 81, Y: 700, W: 3, FontSize: 12},
		{S: "Sco", X: 84, Y: 700, W: 18, FontSize: 12},
		{S: "pe", X: 102, Y: 700, W: 12, FontSize: 12},
		{S: "Terms", X: 200, Y: 700, W: 30, FontSize: 12},
	}
	words := groupWords(glyphs, 612, 792)
	require.Len(t, words, 3)
	assert.Equal(t, "1.", words[0].Value)
	assert.Equal(t, "Scope", words[1].Value)
	assert.Equal(t, "Terms", words[2].Value)

	b := words[1].Geometry
	assert.InDelta(t, 84.0/612, b.XMin, 1e-9)
	assert.InDelta(t, 114.0/612, b.XMax, 1e-9)
	assert.InDelta(t, 80.0/792, b.YMin, 1e-9)
	assert.InDelta(t, 92.0/792, b.YMax, 1e-9)
	assert.NoError(t, b.Validate())
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse([]byte("x"), "scan.tiff")
	assert.Error(t, err)
	assert.True(t, IsSupportedExtension("scan.JSON"))
	assert.False(t, IsSupportedExtension("scan.png"))
}
