package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mumose/contract-labeling-with-TOC/internal/engine"
)

// JobStatus represents the state of an alignment job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusParsing   JobStatus = "parsing"
	StatusMerging   JobStatus = "merging"
	StatusAligning  JobStatus = "aligning"
	StatusRefining  JobStatus = "refining"
	StatusStoring   JobStatus = "storing"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job tracks the state of a single document alignment.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	DocID string `json:"doc_id"`

	Status        JobStatus `json:"status"`
	Phase         string    `json:"phase"`
	OutlineFile   string    `json:"outline_file"`
	DetectionFile string    `json:"detection_file"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	outlineData   []byte
	detectionData []byte
	result        *engine.Result
	errors        []string
}

// Progress tracks alignment counts.
type Progress struct {
	Labels    int      `json:"labels"`
	Matched   int      `json:"matched"`
	Unmatched int      `json:"unmatched"`
	Lines     int      `json:"lines"`
	Stored    bool     `json:"stored"`
	Errors    []string `json:"errors"`
}

// NewJob creates a queued job for one outline/detection pair. Without a
// docID the document is named after its content hash.
func NewJob(docID, outlineFile string, outline []byte, detectionFile string, detections []byte) *Job {
	now := time.Now()
	hash := ContentHashHex(append(append([]byte{}, outline...), detections...))
	if docID == "" {
		docID = hash[:16]
	}
	return &Job{
		ID:            uuid.NewString(),
		DocID:         docID,
		Status:        StatusQueued,
		Phase:         "queued",
		OutlineFile:   outlineFile,
		DetectionFile: detectionFile,
		ContentHash:   hash,
		CreatedAt:     now,
		UpdatedAt:     now,
		outlineData:   outline,
		detectionData: detections,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetResult records the alignment and its counts.
func (j *Job) SetResult(res *engine.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.Progress.Labels = res.Stats.Labels
	j.Progress.Matched = res.Stats.Matched
	j.Progress.Unmatched = res.Stats.Unmatched
	j.Progress.Lines = res.Stats.MergedLines
	j.UpdatedAt = time.Now()
}

// Result returns the alignment, or nil before the aligner has run.
func (j *Job) Result() *engine.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// MarkStored records that the result reached the result store.
func (j *Job) MarkStored() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Stored = true
	j.UpdatedAt = time.Now()
}

// Inputs returns the raw outline and detection bytes.
func (j *Job) Inputs() (outline, detections []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outlineData, j.detectionData
}

// releaseInputs drops the raw uploads once they are no longer needed.
func (j *Job) releaseInputs() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outlineData = nil
	j.detectionData = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID            string    `json:"job_id"`
	DocID         string    `json:"doc_id"`
	Status        JobStatus `json:"status"`
	Phase         string    `json:"phase"`
	OutlineFile   string    `json:"outline_file"`
	DetectionFile string    `json:"detection_file"`
	Progress      Progress  `json:"progress"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress := j.Progress
	progress.Errors = append([]string{}, j.Progress.Errors...)
	return JobSnapshot{
		ID:            j.ID,
		DocID:         j.DocID,
		Status:        j.Status,
		Phase:         j.Phase,
		OutlineFile:   j.OutlineFile,
		DetectionFile: j.DetectionFile,
		Progress:      progress,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
