package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"garrison.org/internal/authz"
)

const (
	authHeaderName = "Authorization"
	bearer     = "Bearer "
)

// withAuth authenticates the bearer token and resolves the caller into a
// principal for the rest of the chain. Policy lookup failures reject the
// request; an unknown caller is never defaulted to an empty-but-valid one.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeaderName))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.Verify(r.Context(), token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			return
		}

		principal, err := authz.BuildPrincipal(r.Context(), claims, a.bundles)
		if err != nil {
			switch {
			case errors.Is(err, authz.ErrUnauthorized):
				writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			case errors.Is(err, authz.ErrPolicyLookup):
				writeError(w, r, http.StatusServiceUnavailable, codeServerError, "authorization unavailable")
			default:
				writeError(w, r, http.StatusInternalServerError, codeServerError, "authentication error")
			}
			return
		}

		ctx := authz.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
