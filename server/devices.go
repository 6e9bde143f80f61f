package server

import (
	"encoding/json"
	"net/http"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/gorilla/mux"
)

type createDeviceRequest struct {
	Name   string           `json:"name"`
	Kind   model.DeviceKind `json:"kind"`
	X      float64          `json:"x"`
	Y      float64          `json:"y"`
	Addr   string           `json:"addr,omitempty"`
	Prefix int              `json:"prefix,omitempty"`
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.ErrInvalidArgument, "malformed request body", err))
		return
	}
	if req.Name == "" || !req.Kind.Valid() {
		writeError(w, model.NewError(model.ErrInvalidArgument, "name is required and kind must be one of host/router/switch/dns_server", nil))
		return
	}
	if req.Addr != "" && req.Prefix == 0 {
		req.Prefix = 32
	}

	dev, err := s.topology.AddDevice(r.Context(), req.Name, req.Kind, req.X, req.Y, req.Addr, req.Prefix)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.devicesTotal.Inc()
	writeJSON(w, http.StatusCreated, dev)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, _ := s.topology.Snapshot()
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.topology.RemoveDevice(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.devicesTotal.Dec()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInspectDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	dev, insp, err := s.topology.Inspect(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Device     *model.Device        `json:"device"`
		Routes     []string             `json:"routes"`
		ARP        []string             `json:"arp"`
		Forwarding bool                 `json:"forwarding"`
	}{Device: dev, Routes: insp.Routes, ARP: insp.ARP, Forwarding: insp.Forwarding})
}

type setGatewayRequest struct {
	Gateway string `json:"gateway"`
}

func (s *Server) handleSetGateway(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req setGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.ErrInvalidArgument, "malformed request body", err))
		return
	}
	if err := s.topology.SetGateway(r.Context(), name, req.Gateway); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	devices, links := s.topology.Snapshot()
	writeJSON(w, http.StatusOK, struct {
		Devices []model.Device `json:"devices"`
		Links   []model.Link   `json:"links"`
	}{Devices: devices, Links: links})
}
