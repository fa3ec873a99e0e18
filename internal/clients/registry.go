package clients

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

// Registry answers client lookups for the authorize and token endpoints. The
// authorize endpoint only needs Lookup plus redirect validation; the token
// endpoint additionally authenticates the client secret.
type Registry struct {
	repo store.ClientRepository
}

// NewRegistry wires the registry to the client repository.
func NewRegistry(repo store.ClientRepository) *Registry {
	return &Registry{repo: repo}
}

// Lookup resolves a client by public identifier.
func (r *Registry) Lookup(ctx context.Context, clientID string) (domain.Client, error) {
	cleaned := strings.TrimSpace(clientID)
	if cleaned == "" {
		return domain.Client{}, domain.ErrUnknownClient
	}
	client, err := r.repo.GetByClientID(ctx, cleaned)
	if err != nil {
		return domain.Client{}, domain.ErrUnknownClient
	}
	return client, nil
}

// Authenticate resolves the client and checks its secret in constant time.
func (r *Registry) Authenticate(ctx context.Context, clientID, clientSecret string) (domain.Client, error) {
	client, err := r.Lookup(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
		return domain.Client{}, domain.ErrUnknownClient
	}
	return client, nil
}

// IsRedirectAllowed reports whether uri exactly matches one of the client's
// registered redirect URIs. Exact string comparison is deliberate: no case
// folding, no prefix matching, no normalization.
func (r *Registry) IsRedirectAllowed(client domain.Client, uri string) bool {
	if uri == "" {
		return false
	}
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}
