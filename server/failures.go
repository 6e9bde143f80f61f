package server

import (
	"encoding/json"
	"net/http"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/gorilla/mux"
)

type failureRequest struct {
	Kind  model.FailureKind `json:"kind"`
	Iface string            `json:"iface,omitempty"`
	Pct   float64           `json:"pct,omitempty"`
	Ms    int               `json:"ms,omitempty"`
	Mbps  float64           `json:"mbps,omitempty"`
}

func (s *Server) handleInjectFailure(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["name"]
	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.ErrInvalidArgument, "malformed request body", err))
		return
	}

	f := model.Failure{Kind: req.Kind, Iface: req.Iface, Pct: req.Pct, Ms: req.Ms, Mbps: req.Mbps}
	if err := s.topology.InjectFailure(r.Context(), device, f); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearFailure(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["name"]
	kind := model.FailureKind(mux.Vars(r)["kind"])
	iface := r.URL.Query().Get("iface")

	if err := s.topology.ClearFailure(r.Context(), device, kind, iface); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	device := mux.Vars(r)["name"]
	dev, _, err := s.topology.Inspect(r.Context(), device)
	if err != nil {
		writeError(w, err)
		return
	}
	failures := make([]model.Failure, 0, len(dev.Failures))
	for _, f := range dev.Failures {
		failures = append(failures, f)
	}
	writeJSON(w, http.StatusOK, failures)
}
