package domain

import "errors"

var (
	// ErrInvalidCredentials signals a failed email/password verification.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUnknownClient signals an unregistered client_id.
	ErrUnknownClient = errors.New("auth: unknown client")
	// ErrRedirectMismatch signals a redirect_uri outside the client's
	// registered set. Callers must never redirect to the presented URI.
	ErrRedirectMismatch = errors.New("auth: redirect_uri not registered")
	// ErrInvalidGrant covers expired, consumed, or unknown codes and
	// refresh tokens.
	ErrInvalidGrant = errors.New("auth: invalid grant")
	// ErrInvalidRequest indicates missing or malformed parameters.
	ErrInvalidRequest = errors.New("auth: invalid request")
	// ErrUnsupportedGrantType indicates a grant type outside
	// authorization_code and refresh_token.
	ErrUnsupportedGrantType = errors.New("auth: unsupported grant type")
	// ErrNotFound is the store-level miss sentinel.
	ErrNotFound = errors.New("auth: not found")
)
