package api

import "net/http"

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	offset := intQuery(r, "offset", 0)

	events, err := s.store.ListEvents(r.Context(), int64QueryPtr(r, "device_id"), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
