package resultstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutResultRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/kv/alignments/acme-msa", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "k", WithRetry(3, time.Millisecond))
	defer c.Close()

	err := c.PutResult(context.Background(), "acme-msa", map[string]int{"matched": 3})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.JSONEq(t, `{"value":{"matched":3},"source":"tocalign"}`, string(gotBody))
}

func TestPutResultGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetry(2, time.Millisecond))
	err := c.PutResult(context.Background(), "doc", "x")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPutResultDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithRetry(5, time.Millisecond))
	err := c.PutResult(context.Background(), "doc", "x")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kv/alignments/known" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"key_path": "alignments/known", "value": map[string]int{"matched": 2}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	val, ok, err := c.GetResult(context.Background(), "known")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"matched":2}`, string(val))

	_, ok, err = c.GetResult(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyEscapesDocID(t *testing.T) {
	assert.Equal(t, "alignments/a%2Fb", Key("a/b"))
}
