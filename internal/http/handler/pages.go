package handler

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

// The authorize endpoint serves its own minimal login form; it is not part of
// any shared session system. Templates auto-escape every interpolated value,
// including the passthrough state parameter.
var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize Application</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 80px auto;">
  <h2>Authorize Application</h2>
  <p>The application <strong>{{.ClientID}}</strong> would like to access your account.</p>
  <form method="post" action="/oauth/authorize">
    <input type="hidden" name="client_id" value="{{.ClientID}}" />
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}" />
    <input type="hidden" name="response_type" value="{{.ResponseType}}" />
    <input type="hidden" name="scope" value="{{.Scope}}" />
    <input type="hidden" name="state" value="{{.State}}" />
    <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}" />
    <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}" />
    <input type="email" name="email" placeholder="Email" required /><br/><br/>
    <input type="password" name="password" placeholder="Password" required /><br/><br/>
    <button type="submit">Authorize</button>
  </form>
</body>
</html>
`))

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Error</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 80px auto;">
  <h2>Authorization Error</h2>
  <p><strong>{{.Code}}</strong></p>
  <p>{{.Description}}</p>
</body>
</html>
`))

func (h *AuthHandler) renderLoginPage(c *gin.Context, form authorizeForm) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := loginTmpl.Execute(c.Writer, form); err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

func (h *AuthHandler) renderErrorPage(c *gin.Context, code, description string) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusBadRequest)
	data := struct{ Code, Description string }{Code: code, Description: description}
	if err := errorTmpl.Execute(c.Writer, data); err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}
