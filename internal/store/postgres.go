package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/legacy-idp/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository   = (*PostgresUserRepo)(nil)
	_ ClientRepository = (*PostgresClientRepo)(nil)
	_ CodeRepository   = (*PostgresCodeRepo)(nil)
	_ TokenRepository  = (*PostgresTokenRepo)(nil)
	_ KeyRepository    = (*PostgresKeyRepo)(nil)
)

// PostgresUserRepo implements UserRepository on pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserSQL = `SELECT id, email, email_verified, password_hash, name, department, created_at FROM users`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanUser(r.db.QueryRow(ctx, selectUserSQL+` WHERE lower(email) = lower($1)`, email))
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	return r.scanUser(r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, userID))
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	const query = `
INSERT INTO users (id, email, email_verified, password_hash, name, department)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, email, email_verified, password_hash, name, department, created_at`
	return r.scanUser(r.db.QueryRow(ctx, query,
		user.ID, user.Email, user.EmailVerified, user.PasswordHash, user.Name, user.Department))
}

func (r *PostgresUserRepo) scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.EmailVerified, &user.PasswordHash, &user.Name, &user.Department, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// PostgresClientRepo implements ClientRepository on pgx.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const selectClientSQL = `SELECT id, client_id, client_secret, redirect_uris, grants, scopes, created_at FROM oauth_clients`

func (r *PostgresClientRepo) GetByClientID(ctx context.Context, clientID string) (domain.Client, error) {
	return r.scanClient(r.db.QueryRow(ctx, selectClientSQL+` WHERE client_id = $1`, clientID))
}

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	const query = `
INSERT INTO oauth_clients (id, client_id, client_secret, redirect_uris, grants, scopes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, client_id, client_secret, redirect_uris, grants, scopes, created_at`
	return r.scanClient(r.db.QueryRow(ctx, query,
		client.ID, client.ClientID, client.ClientSecret, client.RedirectURIs, client.Grants, client.Scopes))
}

func (r *PostgresClientRepo) scanClient(row pgx.Row) (domain.Client, error) {
	var client domain.Client
	err := row.Scan(&client.ID, &client.ClientID, &client.ClientSecret, &client.RedirectURIs, &client.Grants, &client.Scopes, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Client{}, domain.ErrNotFound
		}
		return domain.Client{}, fmt.Errorf("scan oauth client: %w", err)
	}
	return client, nil
}

// PostgresCodeRepo implements CodeRepository on pgx. Consume is a single
// conditional DELETE so concurrent exchanges race on one row and exactly one
// wins.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: pool}
}

func (r *PostgresCodeRepo) Create(ctx context.Context, code domain.AuthorizationCode) error {
	const query = `
INSERT INTO oauth_codes (id, code, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, query,
		code.ID, code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scopes,
		code.CodeChallenge, code.CodeChallengeMethod, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

func (r *PostgresCodeRepo) Consume(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	const query = `
DELETE FROM oauth_codes
WHERE code = $1 AND expires_at > now()
RETURNING id, code, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method, expires_at, created_at`
	var stored domain.AuthorizationCode
	err := r.db.QueryRow(ctx, query, code).Scan(
		&stored.ID, &stored.Code, &stored.ClientID, &stored.UserID, &stored.RedirectURI, &stored.Scopes,
		&stored.CodeChallenge, &stored.CodeChallengeMethod, &stored.ExpiresAt, &stored.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuthorizationCode{}, domain.ErrInvalidGrant
		}
		return domain.AuthorizationCode{}, fmt.Errorf("consume code: %w", err)
	}
	return stored, nil
}

func (r *PostgresCodeRepo) Revoke(ctx context.Context, code string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_codes WHERE code = $1`, code); err != nil {
		return fmt.Errorf("revoke code: %w", err)
	}
	return nil
}

// PostgresTokenRepo implements TokenRepository on pgx.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const selectTokenSQL = `SELECT id, client_id, user_id, access_token, refresh_token, scopes, access_expires_at, refresh_expires_at, revoked, created_at FROM oauth_tokens`

const insertTokenSQL = `
INSERT INTO oauth_tokens (id, client_id, user_id, access_token, refresh_token, scopes, access_expires_at, refresh_expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, client_id, user_id, access_token, refresh_token, scopes, access_expires_at, refresh_expires_at, revoked, created_at`

func (r *PostgresTokenRepo) Create(ctx context.Context, pair domain.TokenPair) (domain.TokenPair, error) {
	return scanToken(r.db.QueryRow(ctx, insertTokenSQL,
		pair.ID, pair.ClientID, pair.UserID, pair.AccessToken, pair.RefreshToken,
		pair.Scopes, pair.AccessExpiresAt, pair.RefreshExpiresAt))
}

func (r *PostgresTokenRepo) GetByAccessToken(ctx context.Context, accessToken string) (domain.TokenPair, error) {
	return scanToken(r.db.QueryRow(ctx, selectTokenSQL+` WHERE access_token = $1 AND NOT revoked`, accessToken))
}

func (r *PostgresTokenRepo) GetByRefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	return scanToken(r.db.QueryRow(ctx, selectTokenSQL+` WHERE refresh_token = $1 AND NOT revoked`, refreshToken))
}

// Rotate invalidates the old refresh token and inserts the replacement in one
// transaction. The conditional UPDATE is the linearization point: of two
// concurrent refreshes only one sees an unrevoked row.
func (r *PostgresTokenRepo) Rotate(ctx context.Context, oldRefreshToken string, next domain.TokenPair) (domain.TokenPair, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("rotate begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE oauth_tokens SET revoked = TRUE
WHERE refresh_token = $1 AND NOT revoked AND refresh_expires_at > now()`, oldRefreshToken)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("rotate revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.TokenPair{}, domain.ErrInvalidGrant
	}

	created, err := scanToken(tx.QueryRow(ctx, insertTokenSQL,
		next.ID, next.ClientID, next.UserID, next.AccessToken, next.RefreshToken,
		next.Scopes, next.AccessExpiresAt, next.RefreshExpiresAt))
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.TokenPair{}, fmt.Errorf("rotate commit: %w", err)
	}
	return created, nil
}

func (r *PostgresTokenRepo) RevokeByAccessToken(ctx context.Context, accessToken string) error {
	if _, err := r.db.Exec(ctx, `UPDATE oauth_tokens SET revoked = TRUE WHERE access_token = $1`, accessToken); err != nil {
		return fmt.Errorf("revoke by access token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) RevokeByRefreshToken(ctx context.Context, refreshToken string) error {
	if _, err := r.db.Exec(ctx, `UPDATE oauth_tokens SET revoked = TRUE WHERE refresh_token = $1`, refreshToken); err != nil {
		return fmt.Errorf("revoke by refresh token: %w", err)
	}
	return nil
}

func scanToken(row pgx.Row) (domain.TokenPair, error) {
	var pair domain.TokenPair
	err := row.Scan(&pair.ID, &pair.ClientID, &pair.UserID, &pair.AccessToken, &pair.RefreshToken,
		&pair.Scopes, &pair.AccessExpiresAt, &pair.RefreshExpiresAt, &pair.Revoked, &pair.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenPair{}, domain.ErrNotFound
		}
		return domain.TokenPair{}, fmt.Errorf("scan token: %w", err)
	}
	return pair, nil
}

// PostgresKeyRepo implements KeyRepository on pgx.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	const query = `
SELECT id, kid, algorithm, private_pem, is_active, created_at
FROM oauth_keys WHERE is_active LIMIT 1`
	var key domain.SigningKey
	err := r.db.QueryRow(ctx, query).Scan(&key.ID, &key.KID, &key.Algorithm, &key.PrivatePEM, &key.IsActive, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SigningKey{}, domain.ErrNotFound
		}
		return domain.SigningKey{}, fmt.Errorf("get key: %w", err)
	}
	return key, nil
}

func (r *PostgresKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	const query = `
INSERT INTO oauth_keys (id, kid, algorithm, private_pem, is_active)
VALUES ($1, $2, $3, $4, TRUE)
RETURNING id, kid, algorithm, private_pem, is_active, created_at`
	var created domain.SigningKey
	err := r.db.QueryRow(ctx, query, key.ID, key.KID, key.Algorithm, key.PrivatePEM).
		Scan(&created.ID, &created.KID, &created.Algorithm, &created.PrivatePEM, &created.IsActive, &created.CreatedAt)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert key: %w", err)
	}
	return created, nil
}
