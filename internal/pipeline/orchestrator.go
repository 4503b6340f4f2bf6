package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mumose/contract-labeling-with-TOC/internal/config"
	"github.com/mumose/contract-labeling-with-TOC/internal/engine"
	"github.com/mumose/contract-labeling-with-TOC/internal/metrics"
)

// Orchestrator manages the document alignment pipeline.
type Orchestrator struct {
	jobs    *JobStore
	queue   chan *Job
	store   ResultStore
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     config.Config
	engine  atomic.Pointer[engine.Engine]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. store may be nil to keep results
// in memory only.
func NewOrchestrator(cfg config.Config, store ResultStore, m *metrics.Metrics, log *slog.Logger) (*Orchestrator, error) {
	if m == nil {
		m = metrics.New(time.Hour)
	}
	o := &Orchestrator{
		jobs:    NewJobStore(cfg.JobTTL),
		queue:   make(chan *Job, cfg.MaxQueueSize),
		store:   store,
		metrics: m,
		log:     log,
		cfg:     cfg,
	}
	if err := o.SetParams(cfg.EngineParams()); err != nil {
		return nil, err
	}
	return o, nil
}

// SetParams swaps the matching parameters. Jobs already running keep
// the parameters they started with.
func (o *Orchestrator) SetParams(p engine.Params) error {
	e, err := engine.New(p, engine.WithStageObserver(o.metrics.ObserveStage))
	if err != nil {
		return fmt.Errorf("engine params: %w", err)
	}
	o.engine.Store(e)
	return nil
}

// Params returns the matching parameters new jobs run with.
func (o *Orchestrator) Params() engine.Params {
	return o.engine.Load().Params()
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.engine.Load, o.store, o.metrics, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.metrics.SetQueueDepth(len(o.queue))
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.metrics.SetQueueDepth(len(o.queue))
		return nil
	default:
		job.AddError("queue full")
		job.SetStatus(StatusFailed, "queue_full")
		o.metrics.DocumentDone(string(StatusFailed))
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
