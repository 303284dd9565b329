package api

import (
	"net/http"

	"github.com/xxrust/device-version-manager/internal/store"
)

type upsertRuleRequest struct {
	ClusterID int64    `json:"cluster_id"`
	Vendor    string   `json:"vendor"`
	Model     string   `json:"model"`
	Paths     []string `json:"paths"`
	Mode      string   `json:"mode"`
	MaxBytes  int      `json:"max_bytes"`
	Note      string   `json:"note"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListControlledFileRules(r.Context(), int64QueryPtr(r, "cluster_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var req upsertRuleRequest
	if err := decodeJSON(r, &req); err != nil || len(req.Paths) == 0 {
		writeInvalid(w, "invalid_request")
		return
	}
	if req.Mode == "" {
		req.Mode = string(store.ModeAuto)
	}
	if req.MaxBytes < 0 || req.MaxBytes > 2_000_000 {
		writeInvalid(w, "max_bytes_out_of_range")
		return
	}
	rule, err := s.store.UpsertControlledFileRule(r.Context(), &store.ControlledFileRule{
		ClusterID: req.ClusterID, Vendor: req.Vendor, Model: req.Model, Paths: req.Paths,
		Mode: store.RuleMode(req.Mode), MaxBytes: req.MaxBytes, Note: req.Note,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeInvalid(w, "invalid_rule_id")
		return
	}
	if err := s.store.DeleteControlledFileRule(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
