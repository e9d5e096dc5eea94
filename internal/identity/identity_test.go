package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTFromCookieBearerAndQuery(t *testing.T) {
	j := NewJWT("s3cret")
	tok, err := j.Sign(Principal{UserID: "u1", Username: "alice", Rating: 1200}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	reqs := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/ws", nil),
		httptest.NewRequest(http.MethodGet, "/ws", nil),
		httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil),
	}
	reqs[0].AddCookie(&http.Cookie{Name: "token", Value: tok})
	reqs[1].Header.Set("Authorization", "Bearer "+tok)

	for i, r := range reqs {
		p, err := j.Authenticate(r)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if p.UserID != "u1" || p.Username != "alice" || p.Rating != 1200 {
			t.Fatalf("request %d: unexpected principal %+v", i, p)
		}
	}
}

func TestJWTRejects(t *testing.T) {
	j := NewJWT("s3cret")
	other := NewJWT("other")
	forged, _ := other.Sign(Principal{UserID: "u1"}, time.Hour)
	expired, _ := j.Sign(Principal{UserID: "u1"}, -time.Minute)
	noUser, _ := j.Sign(Principal{Username: "ghost"}, time.Hour)

	for name, tok := range map[string]string{"forged": forged, "expired": expired, "no user": noUser, "garbage": "abc"} {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+tok)
		if _, err := j.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
	if _, err := j.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing token: expected ErrUnauthenticated, got %v", err)
	}
}

func TestRemoteForwardsCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("token")
		if err != nil || c.Value != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"userId":"u9","username":"bob","rating":1250,"email":"b@example.com"}`))
	}))
	defer srv.Close()

	a := NewRemote(srv.URL + "/api/auth/me")
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: "token", Value: "good"})
	p, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.UserID != "u9" || p.Username != "bob" || p.Rating != 1250 {
		t.Fatalf("unexpected principal %+v", p)
	}

	bad := httptest.NewRequest(http.MethodGet, "/ws", nil)
	bad.AddCookie(&http.Cookie{Name: "token", Value: "bad"})
	if _, err := a.Authenticate(bad); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestChainAndMiddleware(t *testing.T) {
	j := NewJWT("k")
	tok, _ := j.Sign(Principal{UserID: "u1", Username: "alice"}, time.Hour)
	chain := Chain{nil, NewJWT("wrong"), j}

	var seen Principal
	h := Middleware(chain)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/games", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK || seen.UserID != "u1" {
		t.Fatalf("chain should accept: code=%d principal=%+v", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/games", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if _, err := (Chain{}).Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty chain must reject, got %v", err)
	}
}
