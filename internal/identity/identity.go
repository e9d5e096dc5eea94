// Package identity resolves the authenticated user of an incoming connection.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no authenticator accepts the request.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is the verified caller. UserID is the only field the game relies on.
type Principal struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Rating   int    `json:"rating,omitempty"`
}

// Authenticator verifies an HTTP request before it is upgraded or served.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// Chain tries each authenticator in order; the first success wins.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) (Principal, error) {
	var lastErr error
	for _, a := range c {
		if a == nil {
			continue
		}
		p, err := a.Authenticate(r)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	switch {
	case lastErr == nil:
		return Principal{}, ErrUnauthenticated
	case errors.Is(lastErr, ErrUnauthenticated):
		return Principal{}, lastErr
	default:
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, lastErr)
	}
}

type ctxKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.UserID != ""
}

// Middleware rejects unauthenticated requests with 401 and stores the principal on the request context.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// tokenFrom reads the session token from the "token" cookie, a Bearer header or ?token=.
func tokenFrom(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
