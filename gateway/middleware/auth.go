package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"tokensale/gateway/auth"
)

type contextKey string

const contextKeyPrincipal contextKey = "gateway.principal"

// TokenVerifier authenticates a request.
type TokenVerifier interface {
	Authenticate(r *http.Request) (*auth.Principal, error)
}

// Authenticator rejects requests that do not carry a valid bearer token and
// stores the caller principal on the request context.
type Authenticator struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

func NewAuthenticator(verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{verifier: verifier, logger: logger}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.verifier == nil {
			writeError(w, http.StatusServiceUnavailable, "authentication not configured")
			return
		}
		principal, err := a.verifier.Authenticate(r)
		if err != nil {
			a.logger.Debug("auth: token rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFrom returns the authenticated caller stored on ctx.
func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	principal, ok := ctx.Value(contextKeyPrincipal).(*auth.Principal)
	return principal, ok && principal != nil
}

// WithPrincipal returns a copy of ctx carrying principal.
func WithPrincipal(ctx context.Context, principal *auth.Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, principal)
}
