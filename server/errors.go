package server

import (
	"encoding/json"
	"net/http"

	"github.com/Kishor-9361/NET-sim/model"
)

// errorResponse is the wire shape from spec.md §6: {kind, message}.
type errorResponse struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.ErrInvalidArgument:
		return http.StatusBadRequest
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrAlreadyExists, model.ErrAddressConflict:
		return http.StatusConflict
	case model.ErrPrivilege:
		return http.StatusForbidden
	case model.ErrResourceExhausted:
		return http.StatusTooManyRequests
	case model.ErrTimeout:
		return http.StatusGatewayTimeout
	case model.ErrKernel, model.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	json.NewEncoder(w).Encode(errorResponse{Kind: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
