package identity

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// Remote asks the web app who owns the request's cookies (GET /api/auth/me).
type Remote struct {
	url     string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewRemote(meURL string) *Remote {
	return &Remote{
		url:     strings.TrimSpace(meURL),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 64},
		timeout: 5 * time.Second,
	}
}

func (a *Remote) Authenticate(r *http.Request) (Principal, error) {
	cookie := r.Header.Get("Cookie")
	auth := r.Header.Get("Authorization")
	if cookie == "" && auth == "" {
		return Principal{}, fmt.Errorf("%w: no credentials", ErrUnauthenticated)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(a.url)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	deadline := time.Now().Add(a.timeout)
	if dl, ok := r.Context().Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := a.http.DoDeadline(req, resp, deadline); err != nil {
		return Principal{}, fmt.Errorf("auth me request: %w", err)
	}
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return Principal{}, fmt.Errorf("%w: auth me status=%d", ErrUnauthenticated, status)
	}
	var p Principal
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return Principal{}, fmt.Errorf("decode auth me: %w", err)
	}
	if strings.TrimSpace(p.UserID) == "" {
		return Principal{}, fmt.Errorf("%w: empty user", ErrUnauthenticated)
	}
	return p, nil
}
