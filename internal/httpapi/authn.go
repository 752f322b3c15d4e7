package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"comprobantes.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate resolves the bearer token into a session with the user's
// current role and stores it in the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			handleError(w, r, fmt.Errorf("%w: %v", auth.ErrUnauthenticated, err))
			return
		}
		session, err := a.deps.Resolver.ResolveRole(r.Context(), token)
		if err != nil {
			handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithSession(r.Context(), session)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdministrator rejects sessions without the administrator role.
func RequireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			handleError(w, r, auth.ErrUnauthenticated)
			return
		}
		if err := session.RequireAdministrator(); err != nil {
			handleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
