package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc"
)

type claims struct {
	Email string `json:"email"`
	// Scopes granted to an access token. ID tokens carry none.
	Scopes []string `json:"scp"`
}

func parseClaims(token *oidc.IDToken) (*claims, error) {
	var c claims
	if err := token.Claims(&c); err != nil {
		return nil, errors.New("failed to parse token claims")
	}
	if _, domain, ok := strings.Cut(c.Email, "@"); !ok || domain == "" {
		return nil, errors.New("invalid email format in token")
	}
	c.Email = strings.ToLower(c.Email)
	return &c, nil
}

// requiredScope is the workbench scope a request method needs.
func requiredScope(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ScopeMintRead
	default:
		return ScopeMintWrite
	}
}

// RequireAuth accepts a bearer access token or the session cookie and stores the caller's
// email in the request context. Access tokens that carry scopes must grant mint:read for
// reads and mint:write for everything else. Requests without credentials are sent to /login.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.bypass {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), DevUser)))
			return
		}

		verifier, raw := a.bearer, ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		} else if cookie, err := r.Cookie(sessionCookie); err == nil {
			verifier, raw = a.session, cookie.Value
		} else {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		token, err := verifier.Verify(r.Context(), raw)
		if err != nil {
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}
		c, err := parseClaims(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if len(c.Scopes) > 0 {
			if want := requiredScope(r.Method); !slices.Contains(c.Scopes, want) {
				a.logger.Warn("missing scope", "user", c.Email, "scope", want, "path", r.URL.Path)
				http.Error(w, "token lacks scope "+want, http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), c.Email)))
	})
}
