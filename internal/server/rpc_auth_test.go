package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func serveWithAuth(secret, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	requireToken(secret, okHandler).ServeHTTP(rr, req)
	return rr
}

func TestRequireToken_ValidToken(t *testing.T) {
	rr := serveWithAuth("s3cret", "Bearer s3cret")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected pass-through, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRequireToken_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"missing", "s3cret", ""},
		{"wrong", "s3cret", "Bearer nope"},
		{"no bearer prefix", "s3cret", "s3cret"},
		{"basic auth", "s3cret", "Basic czNjcmV0"},
		{"empty secret", "", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serveWithAuth(tt.secret, tt.header)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var resp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp["jsonrpc"] != "2.0" {
				t.Fatalf("expected jsonrpc 2.0, got %v", resp["jsonrpc"])
			}
			errObj, ok := resp["error"].(map[string]any)
			if !ok || errObj["code"].(float64) != codeUnauthorized || errObj["message"] != "Unauthorized" {
				t.Fatalf("unexpected error object %v", resp["error"])
			}
		})
	}
}
