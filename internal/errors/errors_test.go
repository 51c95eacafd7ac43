package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrapAndUnwrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	e := Wrap(inner, http.StatusBadGateway, "upstream error")

	if want := "upstream error: connection refused"; e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	if !errors.Is(e, inner) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestDerivedCopiesMatchSingleton(t *testing.T) {
	derived := ErrBadGateway.WithDetails("dial tcp: refused").WithRequestID("abc")
	if !errors.Is(derived, ErrBadGateway) {
		t.Error("derived error should match ErrBadGateway")
	}
	if errors.Is(derived, ErrRoutingNotFound) {
		t.Error("derived error must not match ErrRoutingNotFound")
	}
	if ErrBadGateway.Details != "" || ErrBadGateway.RequestID != "" {
		t.Error("WithDetails/WithRequestID mutated the singleton")
	}
}

func TestAsProxyError(t *testing.T) {
	wrapped := fmt.Errorf("forward: %w", ErrNoBackendResolvable.WithDetails("service svc1 has no servers"))
	pe, ok := AsProxyError(wrapped)
	if !ok {
		t.Fatal("expected to find a ProxyError in the chain")
	}
	if pe.Code != http.StatusInternalServerError {
		t.Errorf("Code = %d, want 500", pe.Code)
	}
	if _, ok := AsProxyError(fmt.Errorf("plain")); ok {
		t.Error("plain error should not be a ProxyError")
	}
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProxyError
		wantCode int
		wantMsg  string
		wantID   string
	}{
		{"routing not found", ErrRoutingNotFound, 404, "Routing Not Found", ""},
		{"no backend resolvable", ErrNoBackendResolvable, 500, "No Backend Resolvable", ""},
		{"with request id", ErrBadGateway.WithRequestID("req-1"), 502, "Bad Gateway", "req-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.err.WriteJSON(rec)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body ProxyError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if body.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMsg)
			}
			if body.RequestID != tt.wantID {
				t.Errorf("request_id = %q, want %q", body.RequestID, tt.wantID)
			}
		})
	}
}
