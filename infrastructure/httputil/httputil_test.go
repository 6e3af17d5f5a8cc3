package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteOK(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteOK(rr, http.StatusOK, map[string]string{"hello": "world"})

	var body Envelope
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status = %q, want ok", body.Status)
	}
}

func TestWriteErrorResponse_IncludesTraceID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	rr := httptest.NewRecorder()

	WriteErrorResponse(rr, req, http.StatusBadRequest, "BAD_REQUEST", "bad input", nil)

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "error" {
		t.Fatalf("status = %v, want error", body["status"])
	}
	if body["trace_id"] != "trace-abc" {
		t.Fatalf("trace_id = %v, want trace-abc", body["trace_id"])
	}
	if rr.Header().Get("X-Trace-ID") != "trace-abc" {
		t.Fatalf("X-Trace-ID header not propagated")
	}
}

func TestErrorHelpers_SetExpectedStatus(t *testing.T) {
	cases := []struct {
		name   string
		fn     func(http.ResponseWriter, string)
		status int
	}{
		{"BadRequest", BadRequest, http.StatusBadRequest},
		{"Unauthorized", Unauthorized, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tc.fn(rr, "")
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
		})
	}
}

func TestDecodeJSON_RejectsOversizedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 2)

	var payload map[string]int
	rr := httptest.NewRecorder()
	if DecodeJSON(rr, req, &payload) {
		t.Fatalf("expected DecodeJSON to fail on oversized body")
	}
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}

func TestDecodeJSONOptional_AllowsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Body = http.NoBody

	var payload map[string]int
	rr := httptest.NewRecorder()
	if !DecodeJSONOptional(rr, req, &payload) {
		t.Fatalf("expected DecodeJSONOptional to succeed on empty body")
	}
}

func TestQueryHelpers_FallBackToDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=2&name=root&verbose=true", nil)

	if got := QueryInt(req, "page", 1); got != 2 {
		t.Fatalf("QueryInt() = %d, want 2", got)
	}
	if got := QueryInt(req, "missing", 7); got != 7 {
		t.Fatalf("QueryInt() default = %d, want 7", got)
	}
}

func TestRootIDContext_RoundTrips(t *testing.T) {
	ctx := WithRootID(context.Background(), "root_123")
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	if got := GetRootID(req); got != "root_123" {
		t.Fatalf("GetRootID() = %q, want root_123", got)
	}

	rootID, ok := RequireRootID(httptest.NewRecorder(), req)
	if !ok || rootID != "root_123" {
		t.Fatalf("RequireRootID() = (%q, %v), want (root_123, true)", rootID, ok)
	}
}

func TestRequireRootID_RejectsMissingSession(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	if _, ok := RequireRootID(rr, req); ok {
		t.Fatalf("expected RequireRootID to fail without a root id in context")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestSourceContext_RoundTrips(t *testing.T) {
	ctx := WithSource(context.Background(), "demo-game")
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	if got := GetSource(req); got != "demo-game" {
		t.Fatalf("GetSource() = %q, want demo-game", got)
	}
}
