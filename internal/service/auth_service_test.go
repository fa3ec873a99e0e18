package service_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/legacy-idp/internal/clients"
	"github.com/smallbiznis/legacy-idp/internal/config"
	"github.com/smallbiznis/legacy-idp/internal/credential"
	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/idtoken"
	"github.com/smallbiznis/legacy-idp/internal/password"
	"github.com/smallbiznis/legacy-idp/internal/service"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

const (
	testIssuer   = "http://localhost:4000"
	testRedirect = "http://localhost:5556/dex/callback"
)

type fixture struct {
	service *service.AuthService
	issuer  *idtoken.Issuer
	users   *store.MemoryUserRepo
	clients *store.MemoryClientRepo
	user    domain.User
	client  domain.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	users := store.NewMemoryUserRepo()
	clientRepo := store.NewMemoryClientRepo()
	codes := store.NewMemoryCodeRepo()
	tokens := store.NewMemoryTokenRepo()
	keys := store.NewMemoryKeyRepo()

	hashed, err := password.Hash("password123")
	require.NoError(t, err)
	user, err := users.Create(ctx, domain.User{
		ID:            10,
		Email:         "john@company.com",
		EmailVerified: true,
		PasswordHash:  hashed,
		Name:          "John Doe",
		Department:    "Engineering",
	})
	require.NoError(t, err)

	client, err := clientRepo.Create(ctx, domain.Client{
		ID:           1,
		ClientID:     "dex-client",
		ClientSecret: "dex-secret-key",
		RedirectURIs: []string{testRedirect},
		Grants:       []string{"authorization_code", "refresh_token"},
		Scopes:       []string{"openid", "profile", "email"},
	})
	require.NoError(t, err)

	cfg := config.Config{
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      14 * 24 * time.Hour,
		AuthorizationCodeTTL: 10 * time.Minute,
		IDTokenTTL:           time.Hour,
		TokenBytes:           32,
	}

	manager := idtoken.NewKeyManager(keys)
	issuer := idtoken.NewIssuer(manager, cfg.IDTokenTTL)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := service.NewAuthService(
		credential.NewVerifier(users),
		clients.NewRegistry(clientRepo),
		users, codes, tokens,
		issuer, manager, node, cfg, zap.NewNop(),
	)

	return &fixture{
		service: svc,
		issuer:  issuer,
		users:   users,
		clients: clientRepo,
		user:    user,
		client:  client,
	}
}

func (f *fixture) issueCode(t *testing.T, req service.AuthorizeRequest) string {
	t.Helper()
	code, err := f.service.IssueAuthorizationCode(context.Background(), f.client, f.user, req)
	require.NoError(t, err)
	return code
}

func requireOAuthError(t *testing.T, err error, code string, status int) {
	t.Helper()
	var oauthErr *service.OAuthError
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, code, oauthErr.Code)
	require.Equal(t, status, oauthErr.Status)
}

func TestValidateAuthorizeRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client, oauthErr := f.service.ValidateAuthorizeRequest(ctx, service.AuthorizeRequest{
		ClientID:     "dex-client",
		RedirectURI:  testRedirect,
		ResponseType: "code",
	})
	require.Nil(t, oauthErr)
	require.Equal(t, "dex-client", client.ClientID)

	// response_type defaults to code when omitted.
	_, oauthErr = f.service.ValidateAuthorizeRequest(ctx, service.AuthorizeRequest{
		ClientID:    "dex-client",
		RedirectURI: testRedirect,
	})
	require.Nil(t, oauthErr)

	_, oauthErr = f.service.ValidateAuthorizeRequest(ctx, service.AuthorizeRequest{
		ClientID:     "dex-client",
		RedirectURI:  testRedirect,
		ResponseType: "token",
	})
	require.NotNil(t, oauthErr)
	require.Equal(t, "unsupported_response_type", oauthErr.Code)

	_, oauthErr = f.service.ValidateAuthorizeRequest(ctx, service.AuthorizeRequest{
		ClientID:    "missing-client",
		RedirectURI: testRedirect,
	})
	require.NotNil(t, oauthErr)
	require.Equal(t, "invalid_request", oauthErr.Code)

	_, oauthErr = f.service.ValidateAuthorizeRequest(ctx, service.AuthorizeRequest{
		ClientID:    "dex-client",
		RedirectURI: "http://evil.example/callback",
	})
	require.NotNil(t, oauthErr)
	require.Equal(t, "invalid_request", oauthErr.Code)

	_, oauthErr = f.service.ValidateAuthorizeRequest(ctx, service.AuthorizeRequest{
		ClientID:            "dex-client",
		RedirectURI:         testRedirect,
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S512",
	})
	require.NotNil(t, oauthErr)
	require.Equal(t, "invalid_request", oauthErr.Code)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.Authenticate(ctx, "john@company.com", "password123")
	require.NoError(t, err)
	require.Equal(t, f.user.ID, user.ID)

	_, err = f.service.Authenticate(ctx, "john@company.com", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.service.Authenticate(ctx, "nobody@company.com", "password123")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthorizationCodeGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.issueCode(t, service.AuthorizeRequest{
		RedirectURI: testRedirect,
		Scope:       "openid profile email",
	})

	resp, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, int(time.Hour.Seconds()), resp.ExpiresIn)
	require.Equal(t, "openid profile email", resp.Scope)
	require.NotEmpty(t, resp.IDToken)

	std, custom, err := f.issuer.Verify(ctx, resp.IDToken, testIssuer)
	require.NoError(t, err)
	require.Equal(t, "10", std.Subject)
	require.Contains(t, std.Audience, "dex-client")
	require.Equal(t, "john@company.com", custom.Email)

	info, err := f.service.UserInfo(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "10", info.Subject)
	require.Equal(t, "john@company.com", info.Email)
	require.Equal(t, "John Doe", info.Name)
	require.Equal(t, "Engineering", info.Department)
	require.True(t, info.EmailVerified)
}

func TestAuthorizationCodeGrantOmitsIDTokenWithoutOpenIDScope(t *testing.T) {
	f := newFixture(t)

	code := f.issueCode(t, service.AuthorizeRequest{
		RedirectURI: testRedirect,
		Scope:       "profile email",
	})

	resp, err := f.service.AuthorizationCodeGrant(context.Background(), "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)
	require.Empty(t, resp.IDToken)
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid"})

	_, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)

	_, err = f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)
}

func TestAuthorizationCodeClientBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.clients.Create(ctx, domain.Client{
		ID:           2,
		ClientID:     "other-client",
		ClientSecret: "other-secret",
		RedirectURIs: []string{testRedirect},
		Grants:       []string{"authorization_code"},
	})
	require.NoError(t, err)

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid"})

	_, err = f.service.AuthorizationCodeGrant(ctx, "other-client", "other-secret", code, testRedirect, "", testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)
}

func TestAuthorizationCodeRedirectBinding(t *testing.T) {
	f := newFixture(t)

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid"})

	_, err := f.service.AuthorizationCodeGrant(context.Background(), "dex-client", "dex-secret-key", code, "http://localhost:5556/other", "", testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)
}

func TestTokenEndpointClientAuthentication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid"})

	_, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "wrong-secret", code, testRedirect, "", testIssuer)
	requireOAuthError(t, err, "invalid_client", http.StatusUnauthorized)

	// Failed client authentication must not burn the code.
	_, err = f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)
}

func TestPKCES256(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	issue := func() string {
		return f.issueCode(t, service.AuthorizeRequest{
			RedirectURI:         testRedirect,
			Scope:               "openid",
			CodeChallenge:       challenge,
			CodeChallengeMethod: "S256",
		})
	}

	_, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", issue(), testRedirect, verifier, testIssuer)
	require.NoError(t, err)

	_, err = f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", issue(), testRedirect, "wrong-verifier", testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)

	_, err = f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", issue(), testRedirect, "", testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)
}

func TestPKCEPlain(t *testing.T) {
	f := newFixture(t)

	code := f.issueCode(t, service.AuthorizeRequest{
		RedirectURI:         testRedirect,
		Scope:               "openid",
		CodeChallenge:       "plain-verifier-value",
		CodeChallengeMethod: "plain",
	})

	_, err := f.service.AuthorizationCodeGrant(context.Background(), "dex-client", "dex-secret-key", code, testRedirect, "plain-verifier-value", testIssuer)
	require.NoError(t, err)
}

func TestRefreshGrantRotatesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid profile"})
	first, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)

	second, err := f.service.RefreshGrant(ctx, "dex-client", "dex-secret-key", first.RefreshToken, testIssuer)
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, first.Scope, second.Scope)
	require.NotEmpty(t, second.IDToken)

	// The old refresh token died the moment rotation succeeded.
	_, err = f.service.RefreshGrant(ctx, "dex-client", "dex-secret-key", first.RefreshToken, testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)

	third, err := f.service.RefreshGrant(ctx, "dex-client", "dex-secret-key", second.RefreshToken, testIssuer)
	require.NoError(t, err)
	require.NotEqual(t, second.RefreshToken, third.RefreshToken)
}

func TestRefreshGrantRejectsForeignClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.clients.Create(ctx, domain.Client{
		ID:           2,
		ClientID:     "other-client",
		ClientSecret: "other-secret",
		RedirectURIs: []string{testRedirect},
		Grants:       []string{"authorization_code", "refresh_token"},
	})
	require.NoError(t, err)

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid"})
	resp, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)

	_, err = f.service.RefreshGrant(ctx, "other-client", "other-secret", resp.RefreshToken, testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)
}

func TestUserInfoRejectsUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.UserInfo(context.Background(), "not-a-token")
	requireOAuthError(t, err, "invalid_token", http.StatusUnauthorized)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid"})
	resp, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(ctx, "dex-client", "dex-secret-key", resp.AccessToken))

	_, err = f.service.UserInfo(ctx, resp.AccessToken)
	requireOAuthError(t, err, "invalid_token", http.StatusUnauthorized)
	_, err = f.service.RefreshGrant(ctx, "dex-client", "dex-secret-key", resp.RefreshToken, testIssuer)
	requireOAuthError(t, err, "invalid_grant", http.StatusBadRequest)

	// Unknown tokens revoke without error per RFC 7009.
	require.NoError(t, f.service.Revoke(ctx, "dex-client", "dex-secret-key", "never-issued"))

	err = f.service.Revoke(ctx, "dex-client", "wrong-secret", resp.AccessToken)
	requireOAuthError(t, err, "invalid_client", http.StatusUnauthorized)
}

func TestIntrospect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.issueCode(t, service.AuthorizeRequest{RedirectURI: testRedirect, Scope: "openid profile"})
	resp, err := f.service.AuthorizationCodeGrant(ctx, "dex-client", "dex-secret-key", code, testRedirect, "", testIssuer)
	require.NoError(t, err)

	active, err := f.service.Introspect(ctx, "dex-client", "dex-secret-key", resp.AccessToken)
	require.NoError(t, err)
	require.True(t, active.Active)
	require.Equal(t, "10", active.Subject)
	require.Equal(t, "dex-client", active.ClientID)
	require.Equal(t, "openid profile", active.Scope)
	require.Equal(t, "access_token", active.TokenType)

	refresh, err := f.service.Introspect(ctx, "dex-client", "dex-secret-key", resp.RefreshToken)
	require.NoError(t, err)
	require.True(t, refresh.Active)
	require.Equal(t, "refresh_token", refresh.TokenType)

	unknown, err := f.service.Introspect(ctx, "dex-client", "dex-secret-key", "never-issued")
	require.NoError(t, err)
	require.False(t, unknown.Active)

	require.NoError(t, f.service.Revoke(ctx, "dex-client", "dex-secret-key", resp.AccessToken))
	revoked, err := f.service.Introspect(ctx, "dex-client", "dex-secret-key", resp.AccessToken)
	require.NoError(t, err)
	require.False(t, revoked.Active)

	_, err = f.service.Introspect(ctx, "dex-client", "wrong-secret", resp.AccessToken)
	requireOAuthError(t, err, "invalid_client", http.StatusUnauthorized)
}

func TestOAuthErrorUnwrapsWithErrorsAs(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.UserInfo(context.Background(), "not-a-token")
	var oauthErr *service.OAuthError
	require.True(t, errors.As(err, &oauthErr))
	require.Contains(t, oauthErr.Error(), "invalid_token")
}
