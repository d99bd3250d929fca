// Package auth authenticates workbench users against an OIDC provider (Okta) and carries
// the caller's email through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"mint/backend/internal/config"
	"mint/backend/internal/logging"
)

// DevUser is the identity injected when authentication is bypassed in DEV.
const DevUser = "dev@localhost"

type userKey struct{}

// WithUser returns a copy of ctx carrying the user's email.
func WithUser(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userKey{}, email)
}

// UserFromContext returns the authenticated user's email, or "" when there is none.
func UserFromContext(ctx context.Context) string {
	email, _ := ctx.Value(userKey{}).(string)
	return email
}

// Auth performs the browser login flow and verifies tokens on API requests.
type Auth struct {
	oauth2Config *oauth2.Config
	// session verifies ID tokens issued to this client.
	session *oidc.IDTokenVerifier
	// bearer verifies access tokens, whose audience is the API rather than the client.
	bearer *oidc.IDTokenVerifier
	logger *logging.Logger

	secureCookies bool
	bypass        bool
}

// New discovers the provider at cfg.Auth.OktaDomain. In DEV with dev_mode_bypass set no
// provider is contacted and every request runs as DevUser.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Auth, error) {
	a := &Auth{
		logger:        logger.Component("auth"),
		secureCookies: !cfg.IsDev(),
		bypass:        cfg.IsDev() && cfg.DevModeBypass,
	}
	if a.bypass {
		return a, nil
	}

	ac := cfg.Auth
	if ac.OktaDomain == "" || ac.ClientID == "" || ac.ClientSecret == "" || ac.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}
	provider, err := oidc.NewProvider(ctx, ac.OktaDomain)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", ac.OktaDomain, err)
	}
	a.oauth2Config = &oauth2.Config{
		ClientID:     ac.ClientID,
		ClientSecret: ac.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  ac.RedirectURL,
		Scopes:       []string{ScopeOpenID, ScopeProfile, ScopeEmail},
	}
	a.session = provider.Verifier(&oidc.Config{ClientID: ac.ClientID})
	a.bearer = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return a, nil
}

// Bypassed reports whether requests are authenticated as DevUser without checks.
func (a *Auth) Bypassed() bool {
	return a.bypass
}
