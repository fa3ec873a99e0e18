package domain

import "time"

// User represents an account in the legacy credential store. Records are
// provisioned out of band and treated as read-only by the authorization
// server.
type User struct {
	ID            int64
	Email         string
	EmailVerified bool
	PasswordHash  string
	Name          string
	Department    string
	CreatedAt     time.Time
}

// Client represents an OAuth2/OIDC client registration.
type Client struct {
	ID           int64
	ClientID     string
	ClientSecret string
	RedirectURIs []string
	Grants       []string
	Scopes       []string
	CreatedAt    time.Time
}

// AllowsGrant reports whether the client may use the given grant type.
func (c Client) AllowsGrant(grant string) bool {
	for _, g := range c.Grants {
		if g == grant {
			return true
		}
	}
	return false
}
