package server

import (
	"encoding/json"
	"net/http"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/gorilla/mux"
)

type createLinkRequest struct {
	DeviceA       string  `json:"device_a"`
	DeviceB       string  `json:"device_b"`
	LatencyMs     int     `json:"latency_ms"`
	BandwidthMbps float64 `json:"bandwidth_mbps"`
	LossPct       float64 `json:"loss_pct"`
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.ErrInvalidArgument, "malformed request body", err))
		return
	}
	if req.DeviceA == "" || req.DeviceB == "" {
		writeError(w, model.NewError(model.ErrInvalidArgument, "device_a and device_b are required", nil))
		return
	}

	link, err := s.topology.AddLink(r.Context(), req.DeviceA, req.DeviceB, req.LatencyMs, req.BandwidthMbps, req.LossPct)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.linksTotal.Inc()
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	_, links := s.topology.Snapshot()
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.topology.RemoveLink(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.linksTotal.Dec()
	w.WriteHeader(http.StatusNoContent)
}
