package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Kishor-9361/NET-sim/model"
)

func TestStatusForKind(t *testing.T) {
	cases := map[model.ErrorKind]int{
		model.ErrInvalidArgument:   http.StatusBadRequest,
		model.ErrNotFound:          http.StatusNotFound,
		model.ErrAlreadyExists:     http.StatusConflict,
		model.ErrAddressConflict:   http.StatusConflict,
		model.ErrPrivilege:         http.StatusForbidden,
		model.ErrResourceExhausted: http.StatusTooManyRequests,
		model.ErrTimeout:           http.StatusGatewayTimeout,
		model.ErrKernel:            http.StatusInternalServerError,
		model.ErrInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, model.NewError(model.ErrNotFound, `device "h1" not found`, nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Kind != model.ErrNotFound {
		t.Fatalf("kind = %v, want NotFound", body.Kind)
	}
	if body.Message == "" {
		t.Fatalf("expected a message")
	}
}

func TestWriteErrorMapsWrappedAndPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := fmt.Errorf("outer: %w", model.NewError(model.ErrAddressConflict, "taken", nil))
	writeError(rec, wrapped)
	if rec.Code != http.StatusConflict {
		t.Fatalf("wrapped: status = %d, want 409", rec.Code)
	}

	rec = httptest.NewRecorder()
	writeError(rec, fmt.Errorf("some bug"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("plain: status = %d, want 500", rec.Code)
	}
}
