package api

import "net/http"

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListStatus(r.Context(), int64QueryPtr(r, "cluster_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type statusSummaryResponse struct {
	Summary string `json:"summary"`
}

// handleStatusSummary is the one HTTP surface for the optional LLM adjunct
// (C12). Its absence degrades to a 501-style response, never an error on
// /api/v1/status itself (§10.6).
func (s *Server) handleStatusSummary(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil || !s.llm.Configured() {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "llm_not_configured"})
		return
	}

	entries, err := s.store.ListStatus(r.Context(), int64QueryPtr(r, "cluster_id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	summary, err := s.llm.Summarize(r.Context(), entries)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "llm_request_failed"})
		return
	}
	writeJSON(w, http.StatusOK, statusSummaryResponse{Summary: summary})
}
