package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumose/contract-labeling-with-TOC/internal/config"
	"github.com/mumose/contract-labeling-with-TOC/internal/detection"
	"github.com/mumose/contract-labeling-with-TOC/internal/metrics"
	"github.com/mumose/contract-labeling-with-TOC/internal/pipeline"
)

const (
	testKey    = "secret"
	outlineCSV = "1.,Definitions,1\n2.,Term,2\n"
)

type fakeResults struct {
	docs map[string]json.RawMessage
	err  error
}

func (f *fakeResults) GetResult(_ context.Context, docID string) (json.RawMessage, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.docs[docID]
	return v, ok, nil
}

func detectionJSON(t *testing.T) []byte {
	t.Helper()
	mk := func(idx int, texts ...string) detection.Page {
		p := detection.Page{Index: idx, Dimensions: [2]int{1100, 850}}
		var b detection.Block
		for i, text := range texts {
			y := 0.1 + float64(i)*0.1
			l := detection.Line{Geometry: detection.Box{XMin: 0.1, YMin: y, XMax: 0.9, YMax: y + 0.02}}
			for j, w := range strings.Fields(text) {
				x := 0.1 + float64(j)*0.1
				l.Words = append(l.Words, detection.Word{Value: w, Geometry: detection.Box{XMin: x, YMin: y, XMax: x + 0.08, YMax: y + 0.02}})
			}
			b.Lines = append(b.Lines, l)
		}
		p.Blocks = []detection.Block{b}
		return p
	}
	data, err := json.Marshal(detection.Result{Pages: []detection.Page{
		mk(0, "Contents", "1. Definitions 1", "2. Term 2"),
		mk(1, "1. Definitions", "Words used in this agreement"),
		mk(2, "2. Term", "The term is five years"),
	}})
	require.NoError(t, err)
	return data
}

func newTestServer(t *testing.T, results ResultReader) (*Server, *pipeline.Orchestrator) {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = testKey
	cfg.WorkerCount = 1
	cfg.MaxUploadBytes = 1 << 20

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(time.Hour)
	orch, err := pipeline.NewOrchestrator(cfg, nil, m, log)
	require.NoError(t, err)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	return NewServer(orch, m, results, log, cfg), orch
}

type upload struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, target string, values map[string][]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, vs := range values {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testKey)
	return req
}

func authed(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tocalign_queue_depth")
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/latency", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/latency", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAlignLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := multipartRequest(t, "/api/align", map[string][]string{"doc_id": {"acme"}},
		upload{"outline", "toc.csv", []byte(outlineCSV)},
		upload{"detection", "ocr.json", detectionJSON(t)},
	)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	accepted := decode(t, rec)
	assert.Equal(t, "acme", accepted["doc_id"])
	jobID, _ := accepted["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, fmt.Sprintf("/api/align/%s/status", jobID), accepted["poll_url"])

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, authed(http.MethodGet, "/api/align/"+jobID+"/status"))
		var body struct {
			Status string `json:"status"`
		}
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &body) != nil {
			return false
		}
		return body.Status == string(pipeline.StatusCompleted)
	}, 5*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/align/"+jobID+"/result"))
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		DocID   string `json:"doc_id"`
		TOCPage int    `json:"toc_page"`
		Matches []struct {
			Label string `json:"label"`
			Page  int    `json:"page"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "acme", result.DocID)
	assert.Equal(t, 0, result.TOCPage)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, "1. Definitions", result.Matches[0].Label)
	assert.Equal(t, 2, result.Matches[1].Page)
}

func TestAlignRejectsBadUploads(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name  string
		files []upload
		code  int
	}{
		{"missing detection", []upload{{"outline", "toc.csv", []byte(outlineCSV)}}, http.StatusBadRequest},
		{"missing outline", []upload{{"detection", "ocr.json", []byte("{}")}}, http.StatusBadRequest},
		{"unsupported outline", []upload{{"outline", "toc.exe", []byte("x")}, {"detection", "ocr.json", []byte("{}")}}, http.StatusBadRequest},
		{"unsupported detection", []upload{{"outline", "toc.csv", []byte(outlineCSV)}, {"detection", "ocr.xml", []byte("<x/>")}}, http.StatusBadRequest},
		{"too large", []upload{{"outline", "toc.csv", bytes.Repeat([]byte("a"), 1<<20+1)}, {"detection", "ocr.json", []byte("{}")}}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, multipartRequest(t, "/api/align", nil, tt.files...))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestAlignResultBeforeCompletion(t *testing.T) {
	srv, orch := newTestServer(t, nil)

	// Malformed detections fail the job before any result exists.
	job := pipeline.NewJob("bad", "toc.csv", []byte(outlineCSV), "ocr.json", []byte("not json"))
	require.NoError(t, orch.Submit(job))
	require.Eventually(t, func() bool {
		return job.Snapshot().Status == pipeline.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/align/"+job.ID+"/result"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pipeline.StatusFailed), decode(t, rec)["status"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/align/nope/result"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchAlign(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	det := detectionJSON(t)

	req := multipartRequest(t, "/api/align/batch", map[string][]string{"doc_id": {"one", "two"}},
		upload{"outline", "a.csv", []byte(outlineCSV)},
		upload{"outline", "b.exe", []byte("x")},
		upload{"detection", "a.json", det},
		upload{"detection", "b.json", det},
	)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobs, ok := decode(t, rec)["jobs"].([]any)
	require.True(t, ok)
	require.Len(t, jobs, 2)

	first := jobs[0].(map[string]any)
	assert.Equal(t, "one", first["doc_id"])
	assert.NotEmpty(t, first["job_id"])

	second := jobs[1].(map[string]any)
	assert.Contains(t, second["error"], "unsupported file type")
	assert.Nil(t, second["job_id"])
}

func TestBatchAlignMismatchedPairs(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := multipartRequest(t, "/api/align/batch", nil,
		upload{"outline", "a.csv", []byte(outlineCSV)},
		upload{"outline", "b.csv", []byte(outlineCSV)},
		upload{"detection", "a.json", []byte("{}")},
	)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutlineEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	csv := "1.,Definitions,1\n1.1,Defined Terms,1\n2.,Term,2\n"

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/api/outline", nil, upload{"outline", "toc.csv", []byte(csv)}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"1. Definitions", "1.1 Defined Terms 1", "2. Term"}, decode(t, rec)["labels"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/api/outline?subsections=false", nil, upload{"outline", "toc.csv", []byte(csv)}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"1. Definitions", "2. Term"}, decode(t, rec)["labels"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/api/outline?subsections=maybe", nil, upload{"outline", "toc.csv", []byte(csv)}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoredResult(t *testing.T) {
	results := &fakeResults{docs: map[string]json.RawMessage{"acme": json.RawMessage(`{"doc_id":"acme"}`)}}
	srv, _ := newTestServer(t, results)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/results/acme"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"doc_id":"acme"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/results/other"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	results.err = errors.New("upstream down")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/results/acme"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStoredResultWithoutStore(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/results/acme"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLatencyStats(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/api/stats/latency"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "queue_depth")
	assert.Contains(t, body, "stages")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "toc.csv", sanitizeFilename("../../etc/toc.csv"))
	assert.Equal(t, "unnamed", sanitizeFilename(""))
	assert.Equal(t, "a_b.csv", sanitizeFilename("a..b.csv"))
}
