package idtoken

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/smallbiznis/legacy-idp/internal/domain"
)

// Issuer signs OIDC id_tokens with the process signing key.
type Issuer struct {
	keys *KeyManager
	ttl  time.Duration
}

// NewIssuer constructs an id_token issuer.
func NewIssuer(keys *KeyManager, ttl time.Duration) *Issuer {
	return &Issuer{keys: keys, ttl: ttl}
}

// Claims carries the profile claims embedded alongside the standard set.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Department    string `json:"department,omitempty"`
}

// Issue produces a signed id_token asserting the user's identity to clientID.
func (i *Issuer) Issue(ctx context.Context, user domain.User, clientID, issuer string) (string, error) {
	private, kid, err := i.keys.SigningKey(ctx)
	if err != nil {
		return "", err
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: private},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:  strconv.FormatInt(user.ID, 10),
		Issuer:   issuer,
		Audience: gojwt.Audience{clientID},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(i.ttl)),
	}
	custom := Claims{
		Email:         user.Email,
		EmailVerified: true,
		Name:          user.Name,
		Department:    user.Department,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize id_token: %w", err)
	}
	return token, nil
}

// Verify parses and verifies an id_token against the process public key and
// returns its claim sets. Used by tests and diagnostic tooling; relying
// parties verify through the JWKS endpoint instead.
func (i *Issuer) Verify(ctx context.Context, token, issuer string) (*gojwt.Claims, *Claims, error) {
	private, _, err := i.keys.SigningKey(ctx)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return nil, nil, fmt.Errorf("parse id_token: %w", err)
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(&private.PublicKey, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify id_token: %w", err)
	}
	if err := std.Validate(gojwt.Expected{Issuer: issuer}); err != nil {
		return nil, nil, fmt.Errorf("validate id_token claims: %w", err)
	}
	return &std, &custom, nil
}
