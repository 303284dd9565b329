package api

import (
	"net/http"
	"time"

	"github.com/xxrust/device-version-manager/internal/auth"
	"github.com/xxrust/device-version-manager/internal/discovery"
	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/store"
)

type registerRequest struct {
	RegistrationToken string `json:"registration_token"`
	ClusterID         int64  `json:"cluster_id"`
	DeviceKey         string `json:"device_serial"`
	Vendor            string `json:"supplier"`
	Model             string `json:"device_type"`
	IP                string `json:"ip"`
	Port              int    `json:"port"`
	Path              string `json:"path"`
	AuthType          string `json:"auth_type"`
	AuthToken         string `json:"auth_token"`
}

type registerResponse struct {
	DeviceID int64  `json:"device_id"`
	Action   string `json:"action"`
}

// handleRegister lets a device (or an admin on its behalf) self-register.
// When no registration token is configured, the caller must be an admin
// session instead. When identity fields are missing, the server probes the
// device itself and infers identity from the DVP payload (§4.7).
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalid(w, "invalid_request")
		return
	}

	if s.regToken != "" {
		token := req.RegistrationToken
		if token == "" {
			token = r.Header.Get("X-Registration-Token")
		}
		if token != s.regToken {
			writeInvalid(w, "invalid_registration_token")
			return
		}
	} else {
		p, ok := s.gate.Authenticate(r)
		if !ok || p.Role != auth.RoleAdmin {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}

	if req.IP == "" {
		writeInvalid(w, "ip_required")
		return
	}
	if req.Port == 0 {
		req.Port = 443
	}
	if req.Path == "" {
		req.Path = "/.well-known/device-version"
	}
	if req.AuthType == "" {
		req.AuthType = string(store.AuthNone)
	}

	var result dvp.PollResult
	haveResult := false
	if req.DeviceKey == "" {
		result = s.dvp.Poll(r.Context(), dvp.Target{
			Protocol: dvp.ProtocolDVP1HTTP, IP: req.IP, Port: req.Port, Path: req.Path,
			AuthType: req.AuthType, AuthToken: req.AuthToken,
		})
		haveResult = true
		if !result.Success {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "probe_failed:" + result.Error})
			return
		}
		serial, vendor, model := discovery.InferIdentity(result.Payload)
		if serial == "" {
			writeInvalid(w, "missing_device_identity")
			return
		}
		req.DeviceKey, req.Vendor, req.Model = serial, vendor, model
	}

	id, action, err := s.store.UpsertDeviceByKey(r.Context(), &store.Device{
		ClusterID: req.ClusterID, DeviceKey: req.DeviceKey, Vendor: req.Vendor, Model: req.Model,
		IP: req.IP, Port: req.Port, Protocol: dvp.ProtocolDVP1HTTP, Path: req.Path,
		AuthType: store.DeviceAuthType(req.AuthType), AuthToken: req.AuthToken, Enabled: true,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	if haveResult {
		snap := &store.Snapshot{
			DeviceID: id, ObservedAt: time.Now().UTC(), Success: true, HTTPStatus: result.HTTPStatus,
			LatencyMS: result.LatencyMS, ProtocolVersion: result.ProtocolVersion, MainVersion: result.MainVersion,
			FirmwareVersion: result.FirmwareVersion,
		}
		if _, err := s.store.RecordSnapshot(r.Context(), nil, snap); err != nil {
			s.log.Warn("register: failed to record probe snapshot", "device_id", id, "error", err)
		}
	}

	status := http.StatusOK
	if action == "created" {
		status = http.StatusCreated
	}
	writeJSON(w, status, registerResponse{DeviceID: id, Action: action})
}
