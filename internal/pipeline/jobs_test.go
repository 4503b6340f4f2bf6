package pipeline

import (
	"testing"
	"time"

	"github.com/mumose/contract-labeling-with-TOC/internal/engine"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestNewJob_DefaultsDocIDToContentHash(t *testing.T) {
	job := NewJob("", "toc.csv", []byte("hello "), "ocr.json", []byte("world"))
	if job.DocID != "b94d27b9934d3e08" {
		t.Errorf("expected doc id from content hash, got %q", job.DocID)
	}
	if job.Status != StatusQueued {
		t.Errorf("expected status %q, got %q", StatusQueued, job.Status)
	}
	if len(job.ID) != 36 {
		t.Errorf("expected uuid job id, got %q", job.ID)
	}

	named := NewJob("acme", "toc.csv", nil, "ocr.json", nil)
	if named.DocID != "acme" {
		t.Errorf("expected doc id %q, got %q", "acme", named.DocID)
	}
	if named.ID == job.ID {
		t.Error("expected distinct job ids")
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := &Job{
		ID:        "test-1",
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusParsing, "reading inputs"},
		{StatusMerging, "merge"},
		{StatusAligning, "align"},
		{StatusRefining, "refine"},
		{StatusStoring, "storing"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("outline: unsupported")
	job.AddError("store: status 500")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "outline: unsupported" {
		t.Errorf("expected first error %q, got %q", "outline: unsupported", snap.Progress.Errors[0])
	}
}

func TestJob_SetResult(t *testing.T) {
	job := &Job{ID: "result-test", UpdatedAt: time.Now()}
	if job.Result() != nil {
		t.Fatal("expected no result before alignment")
	}
	job.SetResult(&engine.Result{Stats: engine.Stats{Labels: 5, Matched: 4, Unmatched: 1, MergedLines: 80}})

	snap := job.Snapshot()
	if snap.Progress.Labels != 5 || snap.Progress.Matched != 4 || snap.Progress.Unmatched != 1 {
		t.Errorf("unexpected progress %+v", snap.Progress)
	}
	if snap.Progress.Lines != 80 {
		t.Errorf("expected 80 lines, got %d", snap.Progress.Lines)
	}
	if job.Result() == nil {
		t.Error("expected result to be kept")
	}
}

func TestJob_InputsReleased(t *testing.T) {
	job := NewJob("d", "toc.csv", []byte("rows"), "ocr.json", []byte("{}"))
	outline, det := job.Inputs()
	if string(outline) != "rows" || string(det) != "{}" {
		t.Fatalf("unexpected inputs %q %q", outline, det)
	}
	job.releaseInputs()
	outline, det = job.Inputs()
	if outline != nil || det != nil {
		t.Error("expected inputs to be released")
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", UpdatedAt: time.Now()}
	store.Put(job)

	got := store.Get("store-1")
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != "store-1" {
		t.Errorf("expected ID %q, got %q", "store-1", got.ID)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 job, got %d", store.Len())
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := NewJobStore(time.Hour)
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(time.Hour)

	expired := &Job{ID: "old", UpdatedAt: time.Now().Add(-2 * time.Hour)}
	store.Put(expired)
	fresh := &Job{ID: "new", UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestJobStore_CleanupEmpty(t *testing.T) {
	store := NewJobStore(time.Hour)
	store.Cleanup()
}
