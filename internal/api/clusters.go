package api

import "net/http"

type createClusterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.store.ListClusters(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	var req createClusterRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeInvalid(w, "invalid_request")
		return
	}
	cluster, err := s.store.CreateCluster(r.Context(), req.Name, req.Description)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cluster)
}
