package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAuth(t *testing.T, keys string) *APIKeyAuth {
	t.Helper()
	t.Setenv("MJNET_API_KEYS", keys)
	return NewAPIKeyAuth()
}

func authedHandler(auth *APIKeyAuth) http.Handler {
	return auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAPIKeyAuth_DisabledWithoutKeys(t *testing.T) {
	auth := newTestAuth(t, "")
	if auth.Enabled() {
		t.Fatal("Enabled() = true with no keys configured")
	}

	rec := httptest.NewRecorder()
	authedHandler(auth).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d when auth is disabled", rec.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_RejectsMissingKey(t *testing.T) {
	auth := newTestAuth(t, "secret-1")

	rec := httptest.NewRecorder()
	authedHandler(auth).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuth_AcceptsBearerAndHeader(t *testing.T) {
	auth := newTestAuth(t, "secret-1, secret-2")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil)
	req.Header.Set("Authorization", "Bearer secret-1")
	rec := httptest.NewRecorder()
	authedHandler(auth).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer auth status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil)
	req.Header.Set("X-API-Key", "secret-2")
	rec = httptest.NewRecorder()
	authedHandler(auth).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("header auth status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_RejectsWrongKey(t *testing.T) {
	auth := newTestAuth(t, "secret-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil)
	req.Header.Set("X-API-Key", "nope")
	rec := httptest.NewRecorder()
	authedHandler(auth).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuth_PublicPathsSkipAuth(t *testing.T) {
	auth := newTestAuth(t, "secret-1")

	for _, path := range []string{"/health", "/version", "/metrics"} {
		rec := httptest.NewRecorder()
		authedHandler(auth).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestActorExtractor(t *testing.T) {
	var got int64
	h := ActorExtractor(42)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetActor(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil))
	if got != 42 {
		t.Errorf("default actor = %d, want 42", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/friends", nil)
	req.Header.Set("X-MJ-User-Id", "7")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != 7 {
		t.Errorf("header actor = %d, want 7", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/friends?user_id=9", nil))
	if got != 9 {
		t.Errorf("query actor = %d, want 9", got)
	}
}
