package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func passHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	})
}

func call(t *testing.T, mw func(http.Handler) http.Handler, header, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rec := httptest.NewRecorder()
	mw(passHandler()).ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyMiddleware_ModeNone_PassesThrough(t *testing.T) {
	mw := APIKeyMiddleware("none", "x-api-key", "secret")
	rec := call(t, mw, "x-api-key", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKeyMiddleware_EmptyKey_PassesThrough(t *testing.T) {
	// key="" means auth is not configured → allow all.
	mw := APIKeyMiddleware("apikey", "x-api-key", "")
	rec := call(t, mw, "x-api-key", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestAPIKeyMiddleware_CorrectKey_Passes(t *testing.T) {
	mw := APIKeyMiddleware("apikey", "x-api-key", "supersecret")
	rec := call(t, mw, "x-api-key", "supersecret")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body: got %q, want ok", rec.Body.String())
	}
}

func TestAPIKeyMiddleware_MissingKey_Rejected(t *testing.T) {
	mw := APIKeyMiddleware("apikey", "x-api-key", "supersecret")
	rec := call(t, mw, "x-api-key", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}

func TestAPIKeyMiddleware_WrongKey_Rejected(t *testing.T) {
	mw := APIKeyMiddleware("apikey", "x-api-key", "supersecret")
	rec := call(t, mw, "x-api-key", "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
}

func TestAPIKeyMiddleware_CustomHeader(t *testing.T) {
	mw := APIKeyMiddleware("apikey", "x-pulse-token", "supersecret")

	if rec := call(t, mw, "x-pulse-token", "supersecret"); rec.Code != http.StatusOK {
		t.Errorf("custom header: got %d, want 200", rec.Code)
	}
	if rec := call(t, mw, "x-api-key", "supersecret"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong header: got %d, want 401", rec.Code)
	}
}
