package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/legacy-idp/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository   = (*MemoryUserRepo)(nil)
	_ ClientRepository = (*MemoryClientRepo)(nil)
	_ CodeRepository   = (*MemoryCodeRepo)(nil)
	_ TokenRepository  = (*MemoryTokenRepo)(nil)
	_ KeyRepository    = (*MemoryKeyRepo)(nil)
)

// MemoryUserRepo keeps users in process memory. It backs the demo deployment
// and the test suite; the postgres repos provide the durable alternative.
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[int64]domain.User
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[int64]domain.User)}
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	normalized := strings.ToLower(strings.TrimSpace(email))
	for _, user := range r.users {
		if strings.ToLower(user.Email) == normalized {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	r.users[user.ID] = user
	return user, nil
}

// MemoryClientRepo keeps client registrations in process memory.
type MemoryClientRepo struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
}

func NewMemoryClientRepo() *MemoryClientRepo {
	return &MemoryClientRepo{clients: make(map[string]domain.Client)}
}

func (r *MemoryClientRepo) GetByClientID(ctx context.Context, clientID string) (domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return domain.Client{}, domain.ErrNotFound
	}
	return client, nil
}

func (r *MemoryClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	r.clients[client.ClientID] = client
	return client, nil
}

// MemoryCodeRepo holds authorization codes behind a single mutex so Consume
// is a check-and-delete critical section.
type MemoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]domain.AuthorizationCode
}

func NewMemoryCodeRepo() *MemoryCodeRepo {
	return &MemoryCodeRepo{codes: make(map[string]domain.AuthorizationCode)}
}

func (r *MemoryCodeRepo) Create(ctx context.Context, code domain.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code.Code] = code
	return nil
}

func (r *MemoryCodeRepo) Consume(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.codes[code]
	if !ok {
		return domain.AuthorizationCode{}, domain.ErrInvalidGrant
	}
	delete(r.codes, code)
	if time.Now().After(stored.ExpiresAt) {
		return domain.AuthorizationCode{}, domain.ErrInvalidGrant
	}
	return stored, nil
}

func (r *MemoryCodeRepo) Revoke(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, code)
	return nil
}

// MemoryTokenRepo holds token pairs behind a single mutex; Rotate invalidates
// the old refresh token and records the replacement in one critical section.
type MemoryTokenRepo struct {
	mu     sync.Mutex
	tokens map[int64]domain.TokenPair
}

func NewMemoryTokenRepo() *MemoryTokenRepo {
	return &MemoryTokenRepo{tokens: make(map[int64]domain.TokenPair)}
}

func (r *MemoryTokenRepo) Create(ctx context.Context, pair domain.TokenPair) (domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pair.CreatedAt.IsZero() {
		pair.CreatedAt = time.Now()
	}
	r.tokens[pair.ID] = pair
	return pair, nil
}

func (r *MemoryTokenRepo) GetByAccessToken(ctx context.Context, accessToken string) (domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pair := range r.tokens {
		if pair.AccessToken == accessToken && !pair.Revoked {
			return pair, nil
		}
	}
	return domain.TokenPair{}, domain.ErrNotFound
}

func (r *MemoryTokenRepo) GetByRefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pair := range r.tokens {
		if pair.RefreshToken == refreshToken && !pair.Revoked {
			return pair, nil
		}
	}
	return domain.TokenPair{}, domain.ErrNotFound
}

func (r *MemoryTokenRepo) Rotate(ctx context.Context, oldRefreshToken string, next domain.TokenPair) (domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pair := range r.tokens {
		if pair.RefreshToken != oldRefreshToken || pair.Revoked {
			continue
		}
		if time.Now().After(pair.RefreshExpiresAt) {
			return domain.TokenPair{}, domain.ErrInvalidGrant
		}
		delete(r.tokens, id)
		if next.CreatedAt.IsZero() {
			next.CreatedAt = time.Now()
		}
		r.tokens[next.ID] = next
		return next, nil
	}
	return domain.TokenPair{}, domain.ErrInvalidGrant
}

func (r *MemoryTokenRepo) RevokeByAccessToken(ctx context.Context, accessToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pair := range r.tokens {
		if pair.AccessToken == accessToken {
			pair.Revoked = true
			r.tokens[id] = pair
		}
	}
	return nil
}

func (r *MemoryTokenRepo) RevokeByRefreshToken(ctx context.Context, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pair := range r.tokens {
		if pair.RefreshToken == refreshToken {
			pair.Revoked = true
			r.tokens[id] = pair
		}
	}
	return nil
}

// MemoryKeyRepo holds the process signing key.
type MemoryKeyRepo struct {
	mu  sync.Mutex
	key domain.SigningKey
}

func NewMemoryKeyRepo() *MemoryKeyRepo {
	return &MemoryKeyRepo{}
}

func (r *MemoryKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key.ID == 0 {
		return domain.SigningKey{}, domain.ErrNotFound
	}
	return r.key, nil
}

func (r *MemoryKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key.ID != 0 {
		return r.key, nil
	}
	key.ID = 1
	key.IsActive = true
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	r.key = key
	return key, nil
}
