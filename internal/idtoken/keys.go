package idtoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

const rsaKeyBits = 2048

// KeyManager ensures the process always has an active RS256 signing key and
// publishes its public half as a JWKS. Keys are generated on first use and
// held for the process lifetime; rotation is out of scope.
type KeyManager struct {
	repo store.KeyRepository

	mu     sync.Mutex
	cached *rsa.PrivateKey
	kid    string
}

// NewKeyManager creates a KeyManager.
func NewKeyManager(repo store.KeyRepository) *KeyManager {
	return &KeyManager{repo: repo}
}

// SigningKey returns the active private key and its key id, generating and
// persisting a key pair if none exists yet.
func (m *KeyManager) SigningKey(ctx context.Context) (*rsa.PrivateKey, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached, m.kid, nil
	}

	record, err := m.repo.GetActiveKey(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		record, err = m.generate(ctx)
	}
	if err != nil {
		return nil, "", fmt.Errorf("ensure signing key: %w", err)
	}

	private, err := parsePrivateKey(record.PrivatePEM)
	if err != nil {
		return nil, "", err
	}

	m.cached = private
	m.kid = record.KID
	return private, record.KID, nil
}

// JWKS returns the public key set for verifiers. Only the public half of the
// key ever leaves this package.
func (m *KeyManager) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	private, kid, err := m.SigningKey(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &private.PublicKey,
			KeyID:     kid,
			Use:       "sig",
			Algorithm: string(jose.RS256),
		}},
	}, nil
}

func (m *KeyManager) generate(ctx context.Context) (domain.SigningKey, error) {
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("generate rsa key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("marshal rsa key: %w", err)
	}

	record := domain.SigningKey{
		KID:        uuid.NewString(),
		Algorithm:  string(jose.RS256),
		PrivatePEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		IsActive:   true,
	}

	created, err := m.repo.CreateKey(ctx, record)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("persist signing key: %w", err)
	}
	return created, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("parse signing key: no PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	private, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parse signing key: not an RSA key")
	}
	return private, nil
}
