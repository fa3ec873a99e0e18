package idtoken_test

import (
	"context"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/idtoken"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	manager := idtoken.NewKeyManager(store.NewMemoryKeyRepo())
	issuer := idtoken.NewIssuer(manager, time.Hour)

	user := domain.User{
		ID:         10,
		Email:      "john@company.com",
		Name:       "John Doe",
		Department: "Engineering",
	}

	token, err := issuer.Issue(ctx, user, "dex-client", "http://localhost:4000")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	std, custom, err := issuer.Verify(ctx, token, "http://localhost:4000")
	require.NoError(t, err)
	require.Equal(t, "10", std.Subject)
	require.Equal(t, "http://localhost:4000", std.Issuer)
	require.Contains(t, std.Audience, "dex-client")
	require.True(t, std.Expiry.Time().After(time.Now()))
	require.Equal(t, "john@company.com", custom.Email)
	require.Equal(t, "John Doe", custom.Name)
	require.Equal(t, "Engineering", custom.Department)
	require.True(t, custom.EmailVerified)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	ctx := context.Background()
	manager := idtoken.NewKeyManager(store.NewMemoryKeyRepo())
	issuer := idtoken.NewIssuer(manager, time.Hour)

	token, err := issuer.Issue(ctx, domain.User{ID: 10}, "dex-client", "http://localhost:4000")
	require.NoError(t, err)

	_, _, err = issuer.Verify(ctx, token, "http://other-issuer")
	require.Error(t, err)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	ctx := context.Background()
	issuerA := idtoken.NewIssuer(idtoken.NewKeyManager(store.NewMemoryKeyRepo()), time.Hour)
	issuerB := idtoken.NewIssuer(idtoken.NewKeyManager(store.NewMemoryKeyRepo()), time.Hour)

	token, err := issuerA.Issue(ctx, domain.User{ID: 10}, "dex-client", "http://localhost:4000")
	require.NoError(t, err)

	_, _, err = issuerB.Verify(ctx, token, "http://localhost:4000")
	require.Error(t, err)
}

func TestSigningKeyIsStable(t *testing.T) {
	ctx := context.Background()
	manager := idtoken.NewKeyManager(store.NewMemoryKeyRepo())

	first, kidFirst, err := manager.SigningKey(ctx)
	require.NoError(t, err)
	second, kidSecond, err := manager.SigningKey(ctx)
	require.NoError(t, err)

	require.Equal(t, kidFirst, kidSecond)
	require.Equal(t, first, second)
}

func TestJWKSPublishesPublicKeyOnly(t *testing.T) {
	ctx := context.Background()
	manager := idtoken.NewKeyManager(store.NewMemoryKeyRepo())

	jwks, err := manager.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)

	key := jwks.Keys[0]
	require.Equal(t, string(gojose.RS256), key.Algorithm)
	require.Equal(t, "sig", key.Use)
	require.NotEmpty(t, key.KeyID)
	require.True(t, key.IsPublic())
}
