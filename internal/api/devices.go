package api

import (
	"net/http"
	"sort"

	"github.com/xxrust/device-version-manager/internal/store"
)

type createDeviceRequest struct {
	ClusterID int64  `json:"cluster_id"`
	DeviceKey string `json:"device_key"`
	Vendor    string `json:"vendor"`
	Model     string `json:"model"`
	LineNo    string `json:"line_no"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Protocol  string `json:"protocol"`
	Path      string `json:"path"`
	AuthType  string `json:"auth_type"`
	AuthToken string `json:"auth_token"`
	Enabled   bool   `json:"enabled"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context(), int64QueryPtr(r, "cluster_id"), r.URL.Query().Get("enabled_only") == "true")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeInvalid(w, "invalid_device_id")
		return
	}
	device, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := decodeJSON(r, &req); err != nil || req.DeviceKey == "" || req.IP == "" {
		writeInvalid(w, "invalid_request")
		return
	}
	if req.Protocol == "" {
		req.Protocol = "dvp1-http"
	}
	if req.Path == "" {
		req.Path = "/.well-known/device-version"
	}
	if req.AuthType == "" {
		req.AuthType = string(store.AuthNone)
	}

	device, err := s.store.CreateDevice(r.Context(), &store.Device{
		ClusterID: req.ClusterID, DeviceKey: req.DeviceKey, Vendor: req.Vendor, Model: req.Model,
		LineNo: req.LineNo, IP: req.IP, Port: req.Port, Protocol: req.Protocol, Path: req.Path,
		AuthType: store.DeviceAuthType(req.AuthType), AuthToken: req.AuthToken, Enabled: req.Enabled,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

type updateDeviceRequest struct {
	ClusterID *int64             `json:"cluster_id"`
	DeviceKey *string            `json:"device_key"`
	Vendor    *string            `json:"vendor"`
	Model     *string            `json:"model"`
	LineNo    *string            `json:"line_no"`
	IP        *string            `json:"ip"`
	Port      *int               `json:"port"`
	Protocol  *string            `json:"protocol"`
	Path      *string            `json:"path"`
	AuthType  *store.DeviceAuthType `json:"auth_type"`
	AuthToken *string            `json:"auth_token"`
	Enabled   *bool              `json:"enabled"`
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeInvalid(w, "invalid_device_id")
		return
	}
	var req updateDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalid(w, "invalid_request")
		return
	}
	device, err := s.store.UpdateDevice(r.Context(), id, store.DeviceUpdate{
		ClusterID: req.ClusterID, DeviceKey: req.DeviceKey, Vendor: req.Vendor, Model: req.Model,
		LineNo: req.LineNo, IP: req.IP, Port: req.Port, Protocol: req.Protocol, Path: req.Path,
		AuthType: req.AuthType, AuthToken: req.AuthToken, Enabled: req.Enabled,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeInvalid(w, "invalid_device_id")
		return
	}
	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type versionHistoryEntry struct {
	MainVersion string  `json:"main_version"`
	FirstSeen   string  `json:"first_seen"`
	LastSeen    string  `json:"last_seen"`
	SampleCount int     `json:"sample_count"`
	ChangelogMD string  `json:"changelog_md,omitempty"`
	ReleasedAt  string  `json:"released_at,omitempty"`
	RiskLevel   string  `json:"risk_level,omitempty"`
	Checksum    string  `json:"checksum,omitempty"`
}

// handleDeviceVersionHistory groups every recorded snapshot by main_version,
// newest-observed group first, enriched with the matching catalog entry.
func (s *Server) handleDeviceVersionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeInvalid(w, "invalid_device_id")
		return
	}
	device, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	snaps, err := s.store.ListSnapshots(r.Context(), id, 10_000, 0, true)
	if err != nil {
		writeErr(w, err)
		return
	}

	groups := map[string]*versionHistoryEntry{}
	order := []string{}
	for _, snap := range snaps {
		if snap.MainVersion == "" {
			continue
		}
		g, exists := groups[snap.MainVersion]
		if !exists {
			g = &versionHistoryEntry{MainVersion: snap.MainVersion, FirstSeen: snap.ObservedAt.Format(timeLayout), LastSeen: snap.ObservedAt.Format(timeLayout)}
			groups[snap.MainVersion] = g
			order = append(order, snap.MainVersion)
		}
		g.SampleCount++
		observed := snap.ObservedAt.Format(timeLayout)
		if observed < g.FirstSeen {
			g.FirstSeen = observed
		}
		if observed > g.LastSeen {
			g.LastSeen = observed
		}
	}

	out := make([]*versionHistoryEntry, 0, len(order))
	for _, v := range order {
		g := groups[v]
		if entry, err := s.store.GetVersionCatalogEntry(r.Context(), device.Vendor, device.Model, v); err == nil {
			g.ChangelogMD = entry.ChangelogMD
			g.ReleasedAt = entry.ReleasedAt
			g.RiskLevel = entry.RiskLevel
			g.Checksum = entry.Checksum
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen > out[j].LastSeen })

	writeJSON(w, http.StatusOK, out)
}

const timeLayout = "2006-01-02T15:04:05Z"
