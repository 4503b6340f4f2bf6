package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/mumose/contract-labeling-with-TOC/internal/detection"
	"github.com/mumose/contract-labeling-with-TOC/internal/engine"
	"github.com/mumose/contract-labeling-with-TOC/internal/metrics"
	"github.com/mumose/contract-labeling-with-TOC/internal/parser"
)

// ResultStore receives finished alignments.
type ResultStore interface {
	PutResult(ctx context.Context, docID string, value any) error
}

var stageStatus = map[string]JobStatus{
	engine.StageOutline: StatusParsing,
	engine.StageMerge:   StatusMerging,
	engine.StageAlign:   StatusAligning,
	engine.StageRefine:  StatusRefining,
}

// Worker processes a single alignment job.
type Worker struct {
	engine  func() *engine.Engine
	store   ResultStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewWorker returns a worker. engineFn is called once per job so that
// parameter reloads apply to the next job. store may be nil.
func NewWorker(engineFn func() *engine.Engine, store ResultStore, m *metrics.Metrics, log *slog.Logger) *Worker {
	return &Worker{
		engine:  engineFn,
		store:   store,
		metrics: m,
		log:     log,
	}
}

// Process runs the full alignment pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)
	defer job.releaseInputs()

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "reading inputs")
	outlineData, detectionData := job.Inputs()

	rows, err := parser.ReadRows(bytes.NewReader(outlineData), job.OutlineFile)
	if err != nil {
		w.fail(log, job, "parsing", fmt.Errorf("outline: %w", err))
		return
	}
	det, err := detection.Parse(detectionData, job.DetectionFile)
	if err != nil {
		w.fail(log, job, "parsing", fmt.Errorf("detections: %w", err))
		return
	}
	log.Info("parsed inputs", "rows", len(rows), "pages", len(det.Pages))

	// Phase 2: Outline, merge, align and refine
	doc := engine.Document{ID: job.DocID, Rows: rows, Detections: det}
	res, err := w.engine().RunWithProgress(ctx, doc, func(stage string) {
		job.SetStatus(stageStatus[stage], stage)
	})
	if err != nil {
		w.fail(log, job, "aligning", err)
		return
	}
	job.SetResult(res)
	w.metrics.LabelsAligned(res.Stats.Matched, res.Stats.Unmatched)
	for _, label := range res.Unmatched {
		log.Debug("label not found", "label", label)
	}
	log.Info("aligned document",
		"labels", res.Stats.Labels,
		"matched", res.Stats.Matched,
		"unmatched", res.Stats.Unmatched,
		"toc_page", res.TOCPage,
	)

	// Phase 3: Store
	if w.store != nil {
		job.SetStatus(StatusStoring, "storing")
		if err := w.store.PutResult(ctx, job.DocID, res); err != nil {
			w.fail(log, job, "storing", fmt.Errorf("store: %w", err))
			return
		}
		job.MarkStored()
	}

	job.SetStatus(StatusCompleted, "done")
	w.metrics.DocumentDone(string(StatusCompleted))
}

func (w *Worker) fail(log *slog.Logger, job *Job, phase string, err error) {
	log.Error("job failed", "phase", phase, "error", err)
	job.AddError(err.Error())
	job.SetStatus(StatusFailed, phase)
	w.metrics.DocumentDone(string(StatusFailed))
}
