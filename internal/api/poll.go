package api

import (
	"net/http"
	"time"
)

type pollRequest struct {
	DeviceID  *int64  `json:"device_id"`
	TimeoutS  float64 `json:"timeout_s"`
}

type pollResponse struct {
	OK      int         `json:"ok"`
	Fail    int         `json:"fail"`
	Results interface{} `json:"results"`
}

// handlePoll executes exactly one fan-out pass synchronously through the
// same bounded pool the periodic scheduler uses (§4.5).
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeInvalid(w, "invalid_request")
			return
		}
	}

	timeout := 2 * time.Second
	if req.TimeoutS > 0 {
		timeout = time.Duration(req.TimeoutS * float64(time.Second))
	}

	results := s.scheduler.RunOnce(r.Context(), req.DeviceID, timeout)

	ok, fail := 0, 0
	for _, res := range results {
		if res.Success {
			ok++
		} else {
			fail++
		}
	}

	writeJSON(w, http.StatusOK, pollResponse{OK: ok, Fail: fail, Results: results})
}
