package domain

import "time"

// AuthorizationCode models short-lived, single-use authorization codes bound
// to the client, user, redirect URI, and scope of the authorize request.
type AuthorizationCode struct {
	ID                  int64
	Code                string
	ClientID            string
	UserID              int64
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// TokenPair persists an access/refresh token issuance.
type TokenPair struct {
	ID               int64
	ClientID         string
	UserID           int64
	AccessToken      string
	RefreshToken     string
	Scopes           []string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Revoked          bool
	CreatedAt        time.Time
}

// SigningKey holds the process RSA key pair used for id_token signatures.
// The private half never leaves the key store; the public half is published
// through the JWKS endpoint.
type SigningKey struct {
	ID         int64
	KID        string
	Algorithm  string
	PrivatePEM []byte
	IsActive   bool
	CreatedAt  time.Time
}
