package api

import (
	"net/http"

	"github.com/xxrust/device-version-manager/internal/discovery"
	"github.com/xxrust/device-version-manager/internal/store"
)

type discoverRequest struct {
	CIDR      string   `json:"cidr"`
	Hosts     []string `json:"hosts"`
	Port      int      `json:"port"`
	Path      string   `json:"path"`
	AuthType  string   `json:"auth_type"`
	AuthToken string   `json:"auth_token"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalid(w, "invalid_request")
		return
	}
	if req.CIDR == "" && len(req.Hosts) == 0 {
		writeInvalid(w, "cidr_or_hosts_required")
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

	var targets []discovery.Target
	if req.CIDR != "" {
		expanded, err := discovery.ExpandCIDR(req.CIDR, req.Port)
		if err != nil {
			writeInvalid(w, "invalid_cidr")
			return
		}
		targets = expanded
	} else {
		targets = discovery.ExpandHosts(req.Hosts, req.Port)
	}

	outcomes := s.discoverer.Run(r.Context(), targets, req.Path, req.AuthType, req.AuthToken)
	writeJSON(w, http.StatusOK, outcomes)
}
