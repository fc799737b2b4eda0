package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"crm-backup/internal/audit"
	"crm-backup/internal/config"
)

// ErrUnauthenticated is returned when a request carries no valid credentials
var ErrUnauthenticated = errors.New("missing or invalid credentials")

// Principal is the authenticated caller of a request
type Principal struct {
	Actor  string
	UserID string
	Roles  []string
}

// HasRole reports whether the principal holds role
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator resolves the caller of a request
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
}

type tokenPrincipal struct {
	token     []byte
	principal Principal
}

// StaticTokenAuthenticator accepts bearer tokens listed in the configuration
type StaticTokenAuthenticator struct {
	tokens []tokenPrincipal
}

// NewStaticTokenAuthenticator builds an authenticator from configured tokens
func NewStaticTokenAuthenticator(tokens []config.TokenConfig) *StaticTokenAuthenticator {
	a := &StaticTokenAuthenticator{tokens: make([]tokenPrincipal, 0, len(tokens))}
	for _, t := range tokens {
		a.tokens = append(a.tokens, tokenPrincipal{
			token: []byte(t.Token),
			principal: Principal{
				Actor:  t.Actor,
				UserID: t.UserID,
				Roles:  append([]string(nil), t.Roles...),
			},
		})
	}
	return a
}

// Authenticate compares the bearer token against every configured token
func (a *StaticTokenAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, ErrUnauthenticated
	}

	var found *Principal
	for i := range a.tokens {
		if subtle.ConstantTimeCompare(a.tokens[i].token, []byte(token)) == 1 {
			p := a.tokens[i].principal
			found = &p
		}
	}
	if found == nil {
		return nil, ErrUnauthenticated
	}
	return found, nil
}

type principalKey struct{}

// PrincipalFromContext returns the authenticated caller stored by Authenticate
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Authenticate rejects requests without valid credentials and stores the caller
// and its request details for audit entries
func (router *Router) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := router.auth.Authenticate(r)
		if err != nil {
			router.logger.WithContext(r.Context()).WithField("path", r.URL.Path).Warn("Rejected unauthenticated request")
			w.Header().Set("WWW-Authenticate", `Bearer realm="crm-backup"`)
			respondError(w, router.logger, http.StatusUnauthorized, "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		ctx = audit.WithRequestInfo(ctx, audit.RequestInfo{
			UserID:    principal.UserID,
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers that lack role
func (router *Router) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok || !principal.HasRole(role) {
				respondError(w, router.logger, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
