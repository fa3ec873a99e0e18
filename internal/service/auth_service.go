package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gojose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/legacy-idp/internal/clients"
	"github.com/smallbiznis/legacy-idp/internal/config"
	"github.com/smallbiznis/legacy-idp/internal/credential"
	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/idtoken"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

// TokenResponse is the wire shape of a successful token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// UserInfoResponse is the wire shape of the OIDC userinfo document.
type UserInfoResponse struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Department    string `json:"department,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// IntrospectionResponse is the RFC 7662 response body.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// OAuthError standardizes OAuth compliant errors.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: desc, Status: status}
}

// AuthorizeRequest carries the query/form parameters of an authorize request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthService orchestrates the authorization-code flow and the token grants.
type AuthService struct {
	verifier  *credential.Verifier
	registry  *clients.Registry
	users     store.UserRepository
	codes     store.CodeRepository
	tokens    store.TokenRepository
	idTokens  *idtoken.Issuer
	keys      *idtoken.KeyManager
	snowflake *snowflake.Node
	cfg       config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(verifier *credential.Verifier, registry *clients.Registry, users store.UserRepository, codes store.CodeRepository, tokens store.TokenRepository, idTokens *idtoken.Issuer, keys *idtoken.KeyManager, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		verifier:  verifier,
		registry:  registry,
		users:     users,
		codes:     codes,
		tokens:    tokens,
		idTokens:  idTokens,
		keys:      keys,
		snowflake: node,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/smallbiznis/legacy-idp/internal/service"),
	}
}

// ValidateAuthorizeRequest checks the parts of an authorize request that must
// hold before any redirect can be trusted. Every failure here is rendered
// in-server; redirecting to an unvalidated URI is the one thing this endpoint
// must never do.
func (s *AuthService) ValidateAuthorizeRequest(ctx context.Context, req AuthorizeRequest) (domain.Client, *OAuthError) {
	responseType := strings.TrimSpace(req.ResponseType)
	if responseType == "" {
		responseType = "code"
	}
	if !strings.EqualFold(responseType, "code") {
		return domain.Client{}, newOAuthError("unsupported_response_type", "Only response_type=code is supported.", http.StatusBadRequest)
	}

	if strings.TrimSpace(req.ClientID) == "" {
		return domain.Client{}, newOAuthError("invalid_request", "client_id is required.", http.StatusBadRequest)
	}
	client, err := s.registry.Lookup(ctx, req.ClientID)
	if err != nil {
		return domain.Client{}, newOAuthError("invalid_request", "Unknown client.", http.StatusBadRequest)
	}

	redirect := strings.TrimSpace(req.RedirectURI)
	if redirect == "" {
		return domain.Client{}, newOAuthError("invalid_request", "redirect_uri is required.", http.StatusBadRequest)
	}
	if !s.registry.IsRedirectAllowed(client, redirect) {
		return domain.Client{}, newOAuthError("invalid_request", "redirect_uri not registered for this client.", http.StatusBadRequest)
	}

	if method := strings.TrimSpace(req.CodeChallengeMethod); method != "" {
		normalized := strings.ToUpper(method)
		if normalized != "S256" && normalized != "PLAIN" {
			return domain.Client{}, newOAuthError("invalid_request", "code_challenge_method must be S256 or plain.", http.StatusBadRequest)
		}
	}

	return client, nil
}

// Authenticate verifies end-user credentials for the authorize form.
func (s *AuthService) Authenticate(ctx context.Context, email, secret string) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Authenticate")
	defer span.End()

	user, err := s.verifier.Verify(ctx, email, secret)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}
	return user, nil
}

// IssueAuthorizationCode persists a single-use code bound to the client,
// user, redirect URI, and scope of the request.
func (s *AuthService) IssueAuthorizationCode(ctx context.Context, client domain.Client, user domain.User, req AuthorizeRequest) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.IssueAuthorizationCode")
	defer span.End()

	codeValue := randomToken(s.cfg.TokenBytes)
	record := domain.AuthorizationCode{
		ID:                  s.snowflake.Generate().Int64(),
		Code:                codeValue,
		ClientID:            client.ClientID,
		UserID:              user.ID,
		RedirectURI:         strings.TrimSpace(req.RedirectURI),
		Scopes:              strings.Fields(req.Scope),
		CodeChallenge:       strings.TrimSpace(req.CodeChallenge),
		CodeChallengeMethod: strings.ToUpper(strings.TrimSpace(req.CodeChallengeMethod)),
		ExpiresAt:           time.Now().Add(s.cfg.AuthorizationCodeTTL),
		CreatedAt:           time.Now(),
	}

	if err := s.codes.Create(ctx, record); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist authorization code: %w", err)
	}

	s.audit("authorization_code.issued", "user_id", user.ID, "client_id", client.ClientID)
	return codeValue, nil
}

// AuthorizationCodeGrant redeems a code for a token pair, with id_token when
// the openid scope was granted.
func (s *AuthService) AuthorizationCodeGrant(ctx context.Context, clientID, clientSecret, code, redirectURI, codeVerifier, issuer string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.AuthorizationCodeGrant")
	defer span.End()

	client, err := s.registry.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return nil, newOAuthError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}
	if !client.AllowsGrant("authorization_code") {
		return nil, newOAuthError("unauthorized_client", "Client may not use authorization_code.", http.StatusBadRequest)
	}
	if strings.TrimSpace(code) == "" {
		return nil, newOAuthError("invalid_request", "code is required.", http.StatusBadRequest)
	}
	if strings.TrimSpace(redirectURI) == "" {
		return nil, newOAuthError("invalid_request", "redirect_uri is required.", http.StatusBadRequest)
	}

	stored, err := s.codes.Consume(ctx, code)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError("invalid_grant", "Invalid authorization code.", http.StatusBadRequest)
	}
	if stored.ClientID != client.ClientID {
		return nil, newOAuthError("invalid_grant", "Code was issued to another client.", http.StatusBadRequest)
	}
	if stored.RedirectURI != redirectURI {
		return nil, newOAuthError("invalid_grant", "Mismatched redirect_uri.", http.StatusBadRequest)
	}
	if err := verifyPKCE(stored, codeVerifier); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("authorization code load user: %w", err)
	}

	resp, err := s.issueTokens(ctx, client, user, stored.Scopes, issuer)
	if err == nil {
		s.audit("authorization_code.redeemed", "user_id", user.ID, "client_id", client.ClientID)
	}
	return resp, err
}

// RefreshGrant rotates the refresh token and issues a new pair. The old
// refresh token is invalid the moment rotation succeeds; there is no grace
// period.
func (s *AuthService) RefreshGrant(ctx context.Context, clientID, clientSecret, refreshToken, issuer string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.RefreshGrant")
	defer span.End()

	client, err := s.registry.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return nil, newOAuthError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}
	if !client.AllowsGrant("refresh_token") {
		return nil, newOAuthError("unauthorized_client", "Client may not use refresh_token.", http.StatusBadRequest)
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil, newOAuthError("invalid_request", "refresh_token is required.", http.StatusBadRequest)
	}

	current, err := s.tokens.GetByRefreshToken(ctx, refreshToken)
	if err != nil || current.ClientID != client.ClientID || time.Now().After(current.RefreshExpiresAt) {
		if err != nil {
			span.RecordError(err)
		}
		return nil, newOAuthError("invalid_grant", "Invalid refresh token.", http.StatusBadRequest)
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("refresh load user: %w", err)
	}

	now := time.Now()
	next := domain.TokenPair{
		ID:               s.snowflake.Generate().Int64(),
		ClientID:         client.ClientID,
		UserID:           user.ID,
		AccessToken:      randomToken(s.cfg.TokenBytes),
		RefreshToken:     randomToken(s.cfg.TokenBytes),
		Scopes:           current.Scopes,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:        now,
	}

	rotated, err := s.tokens.Rotate(ctx, refreshToken, next)
	if err != nil {
		span.RecordError(err)
		return nil, newOAuthError("invalid_grant", "Invalid refresh token.", http.StatusBadRequest)
	}

	resp := &TokenResponse{
		AccessToken:  rotated.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: rotated.RefreshToken,
		Scope:        strings.Join(rotated.Scopes, " "),
	}
	if containsScope(rotated.Scopes, "openid") {
		id, err := s.idTokens.Issue(ctx, user, client.ClientID, issuer)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("issue id_token: %w", err)
		}
		resp.IDToken = id
	}

	s.audit("refresh_token.rotated", "user_id", user.ID, "client_id", client.ClientID)
	return resp, nil
}

// UserInfo resolves the claims behind a bearer access token.
func (s *AuthService) UserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.UserInfo")
	defer span.End()

	pair, err := s.tokens.GetByAccessToken(ctx, accessToken)
	if err != nil || time.Now().After(pair.AccessExpiresAt) {
		if err != nil {
			span.RecordError(err)
		}
		return nil, newOAuthError("invalid_token", "Access token is invalid or expired.", http.StatusUnauthorized)
	}

	user, err := s.users.GetByID(ctx, pair.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("userinfo load user: %w", err)
	}

	return &UserInfoResponse{
		Subject:       fmt.Sprintf("%d", user.ID),
		Email:         user.Email,
		Name:          user.Name,
		Department:    user.Department,
		EmailVerified: true,
	}, nil
}

// Revoke invalidates the presented token (RFC 7009). Per the RFC the call
// succeeds even when the token is unknown.
func (s *AuthService) Revoke(ctx context.Context, clientID, clientSecret, token string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Revoke")
	defer span.End()

	if _, err := s.registry.Authenticate(ctx, clientID, clientSecret); err != nil {
		return newOAuthError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}
	if err := s.tokens.RevokeByRefreshToken(ctx, token); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if err := s.tokens.RevokeByAccessToken(ctx, token); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	s.audit("token.revoked", "client_id", clientID)
	return nil
}

// Introspect reports token state per RFC 7662.
func (s *AuthService) Introspect(ctx context.Context, clientID, clientSecret, token string) (*IntrospectionResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Introspect")
	defer span.End()

	if _, err := s.registry.Authenticate(ctx, clientID, clientSecret); err != nil {
		return nil, newOAuthError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}

	pair, err := s.tokens.GetByAccessToken(ctx, token)
	tokenType := "access_token"
	if err != nil {
		pair, err = s.tokens.GetByRefreshToken(ctx, token)
		tokenType = "refresh_token"
	}
	if err != nil {
		return &IntrospectionResponse{Active: false}, nil
	}

	expiresAt := pair.AccessExpiresAt
	if tokenType == "refresh_token" {
		expiresAt = pair.RefreshExpiresAt
	}
	if pair.Revoked || time.Now().After(expiresAt) {
		return &IntrospectionResponse{Active: false}, nil
	}

	return &IntrospectionResponse{
		Active:    true,
		Subject:   fmt.Sprintf("%d", pair.UserID),
		ClientID:  pair.ClientID,
		Scope:     strings.Join(pair.Scopes, " "),
		ExpiresAt: expiresAt.Unix(),
		IssuedAt:  pair.CreatedAt.Unix(),
		TokenType: tokenType,
	}, nil
}

// JWKS returns the public signing key set.
func (s *AuthService) JWKS(ctx context.Context) (gojose.JSONWebKeySet, error) {
	return s.keys.JWKS(ctx)
}

func (s *AuthService) issueTokens(ctx context.Context, client domain.Client, user domain.User, scopes []string, issuer string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.issueTokens")
	defer span.End()

	now := time.Now()
	pair := domain.TokenPair{
		ID:               s.snowflake.Generate().Int64(),
		ClientID:         client.ClientID,
		UserID:           user.ID,
		AccessToken:      randomToken(s.cfg.TokenBytes),
		RefreshToken:     randomToken(s.cfg.TokenBytes),
		Scopes:           scopes,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:        now,
	}

	created, err := s.tokens.Create(ctx, pair)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist token pair: %w", err)
	}

	resp := &TokenResponse{
		AccessToken:  created.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: created.RefreshToken,
		Scope:        strings.Join(created.Scopes, " "),
	}

	if containsScope(created.Scopes, "openid") {
		id, err := s.idTokens.Issue(ctx, user, client.ClientID, issuer)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("issue id_token: %w", err)
		}
		resp.IDToken = id
	}

	return resp, nil
}

func verifyPKCE(stored domain.AuthorizationCode, codeVerifier string) *OAuthError {
	if stored.CodeChallenge == "" {
		return nil
	}
	verifier := strings.TrimSpace(codeVerifier)
	if verifier == "" {
		return newOAuthError("invalid_grant", "code_verifier is required.", http.StatusBadRequest)
	}

	var derived string
	switch stored.CodeChallengeMethod {
	case "", "PLAIN":
		derived = verifier
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return newOAuthError("invalid_grant", "Unsupported code_challenge_method.", http.StatusBadRequest)
	}

	if subtle.ConstantTimeCompare([]byte(derived), []byte(stored.CodeChallenge)) != 1 {
		return newOAuthError("invalid_grant", "code_verifier does not match.", http.StatusBadRequest)
	}
	return nil
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func randomToken(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

