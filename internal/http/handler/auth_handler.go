package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/service"
)

// AuthHandler exposes the OAuth2/OIDC endpoints.
type AuthHandler struct {
	Auth      *service.AuthService
	Discovery *service.DiscoveryService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, discovery *service.DiscoveryService) *AuthHandler {
	return &AuthHandler{Auth: auth, Discovery: discovery}
}

type authorizeForm struct {
	ClientID            string `form:"client_id"`
	RedirectURI         string `form:"redirect_uri"`
	ResponseType        string `form:"response_type"`
	Scope               string `form:"scope"`
	State               string `form:"state"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
	Email               string `form:"email"`
	Password            string `form:"password"`
}

func (f authorizeForm) request() service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ClientID:            f.ClientID,
		RedirectURI:         f.RedirectURI,
		ResponseType:        f.ResponseType,
		Scope:               f.Scope,
		State:               f.State,
		CodeChallenge:       f.CodeChallenge,
		CodeChallengeMethod: f.CodeChallengeMethod,
	}
}

// AuthorizeForm handles GET /oauth/authorize: validates the request and, when
// it holds, renders the login form carrying the request parameters as hidden
// fields. Validation failures render an in-server error page; at this point
// no redirect target is trusted.
func (h *AuthHandler) AuthorizeForm(c *gin.Context) {
	var form authorizeForm
	if err := c.ShouldBindQuery(&form); err != nil {
		h.renderErrorPage(c, "invalid_request", "Invalid authorize request.")
		return
	}

	if _, oauthErr := h.Auth.ValidateAuthorizeRequest(c.Request.Context(), form.request()); oauthErr != nil {
		h.renderErrorPage(c, oauthErr.Code, oauthErr.Description)
		return
	}

	h.renderLoginPage(c, form)
}

// Authorize handles POST /oauth/authorize: authenticates the end user and
// redirects back to the client with a code or an error. Requests whose
// client or redirect_uri do not validate never produce a redirect.
func (h *AuthHandler) Authorize(c *gin.Context) {
	var form authorizeForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderErrorPage(c, "invalid_request", "Invalid authorize request.")
		return
	}

	client, oauthErr := h.Auth.ValidateAuthorizeRequest(c.Request.Context(), form.request())
	if oauthErr != nil {
		h.renderErrorPage(c, oauthErr.Code, oauthErr.Description)
		return
	}

	// redirect_uri is registered for the client from here on; error
	// redirects are safe.
	user, err := h.Auth.Authenticate(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			h.redirectError(c, form.RedirectURI, "access_denied", form.State)
			return
		}
		zap.L().Error("authorize authenticate failed", zap.Error(err))
		h.redirectError(c, form.RedirectURI, "server_error", form.State)
		return
	}

	code, err := h.Auth.IssueAuthorizationCode(c.Request.Context(), client, user, form.request())
	if err != nil {
		zap.L().Error("authorize issue code failed", zap.Error(err))
		h.redirectError(c, form.RedirectURI, "server_error", form.State)
		return
	}

	h.redirectCode(c, form.RedirectURI, code, form.State)
}

type tokenForm struct {
	GrantType    string `form:"grant_type" binding:"required"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	RefreshToken string `form:"refresh_token"`
	CodeVerifier string `form:"code_verifier"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
}

// Token handles POST /oauth/token.
func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	clientID, clientSecret := clientCredentials(c, req)
	issuer := fmt.Sprintf("%s://%s", requestScheme(c.Request), c.Request.Host)

	var (
		resp *service.TokenResponse
		err  error
	)
	switch strings.ToLower(req.GrantType) {
	case "authorization_code":
		resp, err = h.Auth.AuthorizationCodeGrant(c.Request.Context(), clientID, clientSecret, req.Code, req.RedirectURI, req.CodeVerifier, issuer)
	case "refresh_token":
		resp, err = h.Auth.RefreshGrant(c.Request.Context(), clientID, clientSecret, req.RefreshToken, issuer)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type", "error_description": "Unsupported grant type."})
		return
	}

	if err != nil {
		h.respondOAuthError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// UserInfo handles GET /oauth/userinfo with a bearer access token.
func (h *AuthHandler) UserInfo(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header missing or invalid."})
		return
	}
	info, err := h.Auth.UserInfo(c.Request.Context(), token)
	if err != nil {
		h.respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Revoke handles POST /oauth/revoke (RFC 7009).
func (h *AuthHandler) Revoke(c *gin.Context) {
	var req struct {
		Token        string `form:"token" binding:"required"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}
	clientID, clientSecret := req.ClientID, req.ClientSecret
	if user, pass, ok := c.Request.BasicAuth(); ok {
		clientID, clientSecret = user, pass
	}
	if err := h.Auth.Revoke(c.Request.Context(), clientID, clientSecret, req.Token); err != nil {
		h.respondOAuthError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Introspect handles POST /oauth/introspect (RFC 7662).
func (h *AuthHandler) Introspect(c *gin.Context) {
	var req struct {
		Token        string `form:"token" binding:"required"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}
	clientID, clientSecret := req.ClientID, req.ClientSecret
	if user, pass, ok := c.Request.BasicAuth(); ok {
		clientID, clientSecret = user, pass
	}
	result, err := h.Auth.Introspect(c.Request.Context(), clientID, clientSecret, req.Token)
	if err != nil {
		h.respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// JWKS exposes the public signing keys.
func (h *AuthHandler) JWKS(c *gin.Context) {
	jwks, err := h.Auth.JWKS(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jwks)
}

// OpenIDConfig returns the OIDC discovery document.
func (h *AuthHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.OpenIDConfigurationResponse(requestScheme(c.Request), c.Request.Host))
}

func (h *AuthHandler) redirectCode(c *gin.Context, redirectURI, code, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		h.renderErrorPage(c, "invalid_request", "redirect_uri must be a valid URL.")
		return
	}
	q := target.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func (h *AuthHandler) redirectError(c *gin.Context, redirectURI, code, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		h.renderErrorPage(c, "invalid_request", "redirect_uri must be a valid URL.")
		return
	}
	q := target.Query()
	q.Set("error", code)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func (h *AuthHandler) respondOAuthError(c *gin.Context, err error) {
	var oauthErr *service.OAuthError
	if errors.As(err, &oauthErr) {
		if oauthErr.Status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", "Basic")
		}
		c.JSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
		return
	}
	zap.L().Error("auth service failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}

func clientCredentials(c *gin.Context, req tokenForm) (string, string) {
	if user, pass, ok := c.Request.BasicAuth(); ok {
		return user, pass
	}
	return req.ClientID, req.ClientSecret
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func requestScheme(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme
}
