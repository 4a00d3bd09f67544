package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"famvault.org/internal/access"
	"famvault.org/internal/auth"
)

func TestWithAuthAttachesActor(t *testing.T) {
	t.Setenv("FAMVAULT_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	want := access.Actor{ID: "user-1", Role: access.RoleFamilyAdmin, FamilyID: "fam-1"}
	token, err := auth.GenerateToken(want, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var got access.Actor
	handler := (&API{}).withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		got = actor
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got != want {
		t.Fatalf("unexpected actor %+v", got)
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	handler := (&API{}).withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestWithAuthWithoutSecret(t *testing.T) {
	t.Setenv("FAMVAULT_AUTH_SECRET", "")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	handler := (&API{}).withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	for _, tc := range []struct {
		header string
		ok     bool
	}{
		{"Bearer abc", true},
		{"bearer  abc ", true},
		{"", false},
		{"Basic abc", false},
		{"Bearer ", false},
	} {
		_, err := extractBearerToken(tc.header)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: unexpected err %v", tc.header, err)
		}
	}
}
