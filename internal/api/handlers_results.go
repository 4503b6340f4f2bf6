package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleStoredResult serves an alignment from the result store, which
// outlives the in-memory job table.
func (s *Server) handleStoredResult(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		jsonError(w, "result store not configured", http.StatusServiceUnavailable)
		return
	}
	docID := chi.URLParam(r, "docID")
	value, ok, err := s.results.GetResult(r.Context(), docID)
	if err != nil {
		s.log.Error("result store lookup failed", "doc_id", docID, "error", err)
		jsonError(w, "failed to read result: "+err.Error(), http.StatusBadGateway)
		return
	}
	if !ok {
		jsonError(w, "result not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(value)
}
