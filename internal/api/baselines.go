package api

import (
	"net/http"

	"github.com/xxrust/device-version-manager/internal/store"
)

type upsertBaselineRequest struct {
	ClusterID           int64    `json:"cluster_id"`
	Vendor              string   `json:"vendor"`
	Model               string   `json:"model"`
	ExpectedMainVersion string   `json:"expected_main_version"`
	AllowedMainGlobs    []string `json:"allowed_main_globs"`
	Note                string   `json:"note"`
	EffectiveFrom       string   `json:"effective_from"`
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	baselines, err := s.store.ListBaselines(r.Context(), int64QueryPtr(r, "cluster_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, baselines)
}

func (s *Server) handleUpsertBaseline(w http.ResponseWriter, r *http.Request) {
	var req upsertBaselineRequest
	if err := decodeJSON(r, &req); err != nil || req.ExpectedMainVersion == "" {
		writeInvalid(w, "invalid_request")
		return
	}
	baseline, err := s.store.UpsertBaseline(r.Context(), &store.Baseline{
		ClusterID: req.ClusterID, Vendor: req.Vendor, Model: req.Model,
		ExpectedMainVersion: req.ExpectedMainVersion, AllowedMainGlobs: req.AllowedMainGlobs,
		Note: req.Note, EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, baseline)
}

func (s *Server) handleDeleteBaseline(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeInvalid(w, "invalid_baseline_id")
		return
	}
	if err := s.store.DeleteBaseline(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
