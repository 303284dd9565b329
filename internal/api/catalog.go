package api

import (
	"net/http"

	"github.com/xxrust/device-version-manager/internal/store"
)

type upsertCatalogRequest struct {
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	MainVersion string `json:"main_version"`
	ChangelogMD string `json:"changelog_md"`
	ReleasedAt  string `json:"released_at"`
	RiskLevel   string `json:"risk_level"`
	Checksum    string `json:"checksum"`
}

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	var vendor, model *string
	if v := r.URL.Query().Get("vendor"); v != "" {
		vendor = &v
	}
	if m := r.URL.Query().Get("model"); m != "" {
		model = &m
	}
	entries, err := s.store.ListVersionCatalog(r.Context(), vendor, model)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUpsertCatalogEntry(w http.ResponseWriter, r *http.Request) {
	var req upsertCatalogRequest
	if err := decodeJSON(r, &req); err != nil || req.MainVersion == "" {
		writeInvalid(w, "invalid_request")
		return
	}
	entry, err := s.store.UpsertVersionCatalogEntry(r.Context(), &store.VersionCatalogEntry{
		Vendor: req.Vendor, Model: req.Model, MainVersion: req.MainVersion,
		ChangelogMD: req.ChangelogMD, ReleasedAt: req.ReleasedAt, RiskLevel: req.RiskLevel, Checksum: req.Checksum,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
