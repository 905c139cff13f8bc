package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *TokenSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		Token:      "stale-token",
		RefreshURL: srv.URL,
		Logger:     log.New(io.Discard, "", 0),
	})
}

func TestRefreshInstallsNewToken(t *testing.T) {
	var gotAuth string
	ts := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})
	})

	tok, err := ts.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("expected fresh-token, got %q", tok)
	}
	if ts.Token() != "fresh-token" {
		t.Errorf("new token not installed, Token() = %q", ts.Token())
	}
	if gotAuth != "Bearer stale-token" {
		t.Errorf("refresh request should carry the stale token, got %q", gotAuth)
	}
}

func TestRefreshFailureKeepsStaleToken(t *testing.T) {
	ts := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusUnauthorized)
	})

	if _, err := ts.Refresh(context.Background()); err == nil {
		t.Fatal("expected error from failed refresh")
	}
	if ts.Token() != "stale-token" {
		t.Errorf("stale token should survive a failed refresh, got %q", ts.Token())
	}
}

func TestRefreshEmptyResponse(t *testing.T) {
	ts := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": ""})
	})

	if _, err := ts.Refresh(context.Background()); err == nil {
		t.Fatal("expected error when response carries no token")
	}
}

func TestRefreshNoEndpoint(t *testing.T) {
	ts := New(Config{Token: "tok", Logger: log.New(io.Discard, "", 0)})
	if _, err := ts.Refresh(context.Background()); err == nil {
		t.Fatal("expected error with no refresh endpoint configured")
	}
}

func TestSetToken(t *testing.T) {
	ts := New(Config{Token: "a", Logger: log.New(io.Discard, "", 0)})
	ts.SetToken("b")
	if ts.Token() != "b" {
		t.Errorf("SetToken not applied, got %q", ts.Token())
	}
}

// unsignedJWT builds a JWT with the given exp claim and an empty
// signature, enough for ParseUnverified.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal claim: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	claims := enc(map[string]int64{"exp": exp.Unix()})
	return fmt.Sprintf("%s.%s.", header, claims)
}

func TestExpiresSoon(t *testing.T) {
	ts := New(Config{Logger: log.New(io.Discard, "", 0)})

	ts.SetToken(unsignedJWT(t, time.Now().Add(time.Minute)))
	if !ts.ExpiresSoon(5 * time.Minute) {
		t.Error("token expiring in 1m should be soon within 5m")
	}
	if ts.ExpiresSoon(10 * time.Second) {
		t.Error("token expiring in 1m should not be soon within 10s")
	}

	ts.SetToken("opaque-not-a-jwt")
	if ts.ExpiresSoon(time.Hour) {
		t.Error("non-JWT tokens are treated as non-expiring")
	}

	ts.SetToken("")
	if !ts.ExpiresSoon(time.Second) {
		t.Error("empty token always counts as expiring")
	}
}
