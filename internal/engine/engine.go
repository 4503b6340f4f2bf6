// Package engine chains outline extraction, line merging, alignment and
// span refinement for one contract at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mumose/contract-labeling-with-TOC/internal/align"
	"github.com/mumose/contract-labeling-with-TOC/internal/detection"
	"github.com/mumose/contract-labeling-with-TOC/internal/fuzzy"
	"github.com/mumose/contract-labeling-with-TOC/internal/lines"
	"github.com/mumose/contract-labeling-with-TOC/internal/outline"
	"github.com/mumose/contract-labeling-with-TOC/internal/parser"
	"github.com/mumose/contract-labeling-with-TOC/internal/refine"
)

// Stage names reported to the stage observer.
const (
	StageOutline = "outline"
	StageMerge   = "merge"
	StageAlign   = "align"
	StageRefine  = "refine"
)

// Params are the tunable matching parameters.
type Params struct {
	MergeIOU           float64          `json:"line_merge_iou_threshold" yaml:"line_merge_iou_threshold"`
	Thresholds         align.Thresholds `json:"thresholds" yaml:"thresholds"`
	IncludeSubsections bool             `json:"include_subsections" yaml:"include_subsections"`
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		MergeIOU: 0.65,
		Thresholds: align.Thresholds{
			Subset:  80,
			LineLen: 70,
			Beg:     80,
			First:   60,
		},
		IncludeSubsections: true,
	}
}

func (p Params) Validate() error {
	if p.MergeIOU < 0 || p.MergeIOU >= 1 {
		return fmt.Errorf("line merge iou threshold %v outside [0,1)", p.MergeIOU)
	}
	for name, v := range map[string]int{
		"subset_match_threshold":     p.Thresholds.Subset,
		"line_len_match_threshold":   p.Thresholds.LineLen,
		"beg_line_match_threshold":   p.Thresholds.Beg,
		"first_line_match_threshold": p.Thresholds.First,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s %d outside 0..100", name, v)
		}
	}
	return nil
}

// Document is one contract: its contents table rows and its OCR output.
type Document struct {
	ID         string
	Rows       [][]string
	Detections *detection.Result
}

// Stats summarizes a run.
type Stats struct {
	Sections    int `json:"sections"`
	Labels      int `json:"labels"`
	Matched     int `json:"matched"`
	Unmatched   int `json:"unmatched"`
	RawLines    int `json:"raw_lines"`
	MergedLines int `json:"merged_lines"`
}

// Result is the alignment of one document.
type Result struct {
	DocID     string           `json:"doc_id"`
	Outline   *outline.Outline `json:"outline"`
	Labels    []string         `json:"labels"`
	TOCPage   int              `json:"toc_page"`
	Matches   []refine.Span    `json:"matches"`
	Unmatched []string         `json:"unmatched"`
	Stats     Stats            `json:"stats"`
	Error     string           `json:"error,omitempty"`
}

// Engine runs the alignment pipeline with fixed parameters.
type Engine struct {
	params  Params
	scorer  fuzzy.Scorer
	observe func(stage string, d time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer replaces the default fuzzy scorer.
func WithScorer(s fuzzy.Scorer) Option {
	return func(e *Engine) {
		if s != nil {
			e.scorer = s
		}
	}
}

// WithStageObserver registers fn to receive the duration of every stage.
func WithStageObserver(fn func(stage string, d time.Duration)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.observe = fn
		}
	}
}

// New validates params and returns an Engine.
func New(params Params, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		params:  params,
		scorer:  fuzzy.Default,
		observe: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the parameters the engine was built with.
func (e *Engine) Params() Params { return e.params }

// Run aligns one document. Unmatched labels are part of the result, not
// an error; errors are reserved for bad input and cancellation.
func (e *Engine) Run(ctx context.Context, doc Document) (*Result, error) {
	return e.RunWithProgress(ctx, doc, nil)
}

// RunWithProgress is Run, calling progress with each stage name as the
// stage starts.
func (e *Engine) RunWithProgress(ctx context.Context, doc Document, progress func(stage string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if doc.Detections == nil {
		return nil, errors.New("document has no detections")
	}
	if err := doc.Detections.Validate(); err != nil {
		return nil, err
	}
	res := &Result{DocID: doc.ID}

	progress(StageOutline)
	start := time.Now()
	res.Outline = outline.Extract(doc.Rows)
	res.Labels = res.Outline.Labels(e.params.IncludeSubsections)
	e.observe(StageOutline, time.Since(start))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(StageMerge)
	start = time.Now()
	raw := lines.Flatten(doc.Detections)
	merged := lines.Merge(raw, e.params.MergeIOU)
	e.observe(StageMerge, time.Since(start))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(StageAlign)
	start = time.Now()
	aligned := align.New(e.params.Thresholds, e.scorer).Align(res.Labels, merged)
	e.observe(StageAlign, time.Since(start))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress(StageRefine)
	start = time.Now()
	res.Matches = refine.New(e.scorer).RefineAll(aligned.Matches, merged)
	e.observe(StageRefine, time.Since(start))

	res.TOCPage = aligned.TOCPage
	res.Unmatched = aligned.Unmatched
	res.Stats = Stats{
		Sections:    res.Outline.Len(),
		Labels:      len(res.Labels),
		Matched:     len(res.Matches),
		Unmatched:   len(res.Unmatched),
		RawLines:    len(raw),
		MergedLines: len(merged),
	}
	return res, nil
}

// RunBatch aligns docs with at most concurrency documents in flight.
// Results are in input order. A failing document records its error on
// its own result; only cancellation aborts the batch.
func (e *Engine) RunBatch(ctx context.Context, docs []Document, concurrency int) ([]*Result, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]*Result, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Run(gctx, doc)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				res = &Result{DocID: doc.ID, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Load reads a document from an outline source file and a detection file.
func Load(id, outlinePath, detectionPath string) (Document, error) {
	f, err := os.Open(outlinePath)
	if err != nil {
		return Document{}, fmt.Errorf("open outline: %w", err)
	}
	defer f.Close()

	rows, err := parser.ReadRows(f, outlinePath)
	if err != nil {
		return Document{}, err
	}
	det, err := detection.Load(detectionPath)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Rows: rows, Detections: det}, nil
}
