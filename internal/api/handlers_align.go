package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mumose/contract-labeling-with-TOC/internal/detection"
	"github.com/mumose/contract-labeling-with-TOC/internal/outline"
	"github.com/mumose/contract-labeling-with-TOC/internal/parser"
	"github.com/mumose/contract-labeling-with-TOC/internal/pipeline"
)

// uploadError carries the HTTP status a rejected upload should map to.
type uploadError struct {
	code int
	msg  string
}

func (e *uploadError) Error() string { return e.msg }

func (s *Server) handleAlign(w http.ResponseWriter, r *http.Request) {
	// Two files per request, plus form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	outlineFH := firstFile(r.MultipartForm, "outline")
	if outlineFH == nil {
		jsonError(w, "outline file is required", http.StatusBadRequest)
		return
	}
	detectionFH := firstFile(r.MultipartForm, "detection")
	if detectionFH == nil {
		jsonError(w, "detection file is required", http.StatusBadRequest)
		return
	}

	outlineName, outlineData, err := s.readUpload(outlineFH, parser.IsSupportedExtension)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	detectionName, detectionData, err := s.readUpload(detectionFH, detection.IsSupportedExtension)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	job := pipeline.NewJob(r.FormValue("doc_id"), outlineName, outlineData, detectionName, detectionData)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"doc_id":   snap.DocID,
		"status":   snap.Status,
		"poll_url": pollURL(snap.ID),
	})
}

// handleBatchAlign accepts repeated outline and detection files, paired
// by position. doc_id values, when given, pair the same way.
func (s *Server) handleBatchAlign(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*20+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	outlines := r.MultipartForm.File["outline"]
	detections := r.MultipartForm.File["detection"]
	if len(outlines) == 0 {
		jsonError(w, "at least one outline/detection pair is required", http.StatusBadRequest)
		return
	}
	if len(outlines) != len(detections) {
		jsonError(w, fmt.Sprintf("got %d outline files and %d detection files", len(outlines), len(detections)), http.StatusBadRequest)
		return
	}
	docIDs := r.MultipartForm.Value["doc_id"]

	results := make([]map[string]any, 0, len(outlines))
	for i := range outlines {
		entry := map[string]any{
			"outline_file":   sanitizeFilename(outlines[i].Filename),
			"detection_file": sanitizeFilename(detections[i].Filename),
		}

		outlineName, outlineData, err := s.readUpload(outlines[i], parser.IsSupportedExtension)
		if err != nil {
			entry["error"] = err.Error()
			results = append(results, entry)
			continue
		}
		detectionName, detectionData, err := s.readUpload(detections[i], detection.IsSupportedExtension)
		if err != nil {
			entry["error"] = err.Error()
			results = append(results, entry)
			continue
		}

		var docID string
		if i < len(docIDs) {
			docID = docIDs[i]
		}
		job := pipeline.NewJob(docID, outlineName, outlineData, detectionName, detectionData)
		if err := s.orchestrator.Submit(job); err != nil {
			entry["error"] = err.Error()
			results = append(results, entry)
			continue
		}

		entry["job_id"] = job.ID
		entry["doc_id"] = job.DocID
		entry["status"] = pipeline.StatusQueued
		entry["poll_url"] = pollURL(job.ID)
		results = append(results, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"jobs": results})
}

func (s *Server) handleAlignStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"doc_id":   snap.DocID,
		"status":   snap.Status,
		"phase":    snap.Phase,
		"progress": snap.Progress,
	})
}

// handleAlignResult returns the alignment once a job has one. A job that
// failed only at the storing phase still has its result.
func (s *Server) handleAlignResult(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	res := job.Result()
	if res == nil {
		snap := job.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "result not available",
			"status": snap.Status,
			"phase":  snap.Phase,
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// handleOutline extracts the outline from an uploaded contents file
// synchronously. ?subsections=false limits labels to section titles.
func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh := firstFile(r.MultipartForm, "outline")
	if fh == nil {
		jsonError(w, "outline file is required", http.StatusBadRequest)
		return
	}
	name, data, err := s.readUpload(fh, parser.IsSupportedExtension)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	include := s.orchestrator.Params().IncludeSubsections
	if v := r.URL.Query().Get("subsections"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, "invalid subsections value: "+v, http.StatusBadRequest)
			return
		}
		include = b
	}

	rows, err := parser.ReadRows(bytes.NewReader(data), name)
	if err != nil {
		jsonError(w, "failed to read outline: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	o := outline.Extract(rows)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"outline": o,
		"labels":  o.Labels(include),
	})
}

// readUpload reads one uploaded file, enforcing the extension check and
// the configured size limit.
func (s *Server) readUpload(fh *multipart.FileHeader, supported func(string) bool) (string, []byte, error) {
	filename := sanitizeFilename(fh.Filename)
	if !supported(filename) {
		return filename, nil, &uploadError{http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename))}
	}

	f, err := fh.Open()
	if err != nil {
		return filename, nil, &uploadError{http.StatusInternalServerError, "failed to open file"}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return filename, nil, &uploadError{http.StatusInternalServerError, "failed to read file"}
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return filename, nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("%s exceeds max size (%d bytes)", filename, s.cfg.MaxUploadBytes)}
	}
	return filename, data, nil
}

func writeUploadError(w http.ResponseWriter, err error) {
	if ue, ok := err.(*uploadError); ok {
		jsonError(w, ue.msg, ue.code)
		return
	}
	jsonError(w, err.Error(), http.StatusInternalServerError)
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if files := form.File[field]; len(files) > 0 {
		return files[0]
	}
	return nil
}

func pollURL(jobID string) string {
	return fmt.Sprintf("/api/align/%s/status", jobID)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Keep only the base name.
	name = filepath.Base(name)
	name = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
