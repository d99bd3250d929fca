package auth

// OAuth scopes. mint:read and mint:write gate API access for bearer tokens.
const (
	ScopeOpenID    = "openid"
	ScopeProfile   = "profile"
	ScopeEmail     = "email"
	ScopeMintRead  = "mint:read"
	ScopeMintWrite = "mint:write"
)

// AllScopes is what the Swagger UI requests on login.
var AllScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopeMintRead, ScopeMintWrite}
