package store

import (
	"context"

	"github.com/smallbiznis/legacy-idp/internal/domain"
)

// UserRepository exposes the legacy credential store records.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// ClientRepository exposes OAuth client registrations.
type ClientRepository interface {
	GetByClientID(ctx context.Context, clientID string) (domain.Client, error)
	Create(ctx context.Context, client domain.Client) (domain.Client, error)
}

// CodeRepository manages authorization codes. Consume must be atomic: the
// lookup, validity check, and invalidation happen as one step so two
// concurrent exchanges can never both succeed on the same code.
type CodeRepository interface {
	Create(ctx context.Context, code domain.AuthorizationCode) error
	Consume(ctx context.Context, code string) (domain.AuthorizationCode, error)
	Revoke(ctx context.Context, code string) error
}

// TokenRepository handles access/refresh token persistence. Rotate must be
// atomic for the same reason Consume is: the old refresh token is invalid the
// instant the new pair exists.
type TokenRepository interface {
	Create(ctx context.Context, pair domain.TokenPair) (domain.TokenPair, error)
	GetByAccessToken(ctx context.Context, accessToken string) (domain.TokenPair, error)
	GetByRefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error)
	Rotate(ctx context.Context, oldRefreshToken string, next domain.TokenPair) (domain.TokenPair, error)
	RevokeByAccessToken(ctx context.Context, accessToken string) error
	RevokeByRefreshToken(ctx context.Context, refreshToken string) error
}

// KeyRepository stores the id_token signing key.
type KeyRepository interface {
	GetActiveKey(ctx context.Context) (domain.SigningKey, error)
	CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}
