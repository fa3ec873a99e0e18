package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/legacy-idp/internal/config"
	"github.com/smallbiznis/legacy-idp/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/legacy-idp/internal/http/middleware"
	"github.com/smallbiznis/legacy-idp/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, logger *zap.Logger, authHandler *handler.AuthHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", authHandler.AuthorizeForm)
		oauth.POST("/authorize", authHandler.Authorize)
		oauth.POST("/token", authHandler.Token)
		oauth.GET("/userinfo", authHandler.UserInfo)
		oauth.POST("/revoke", authHandler.Revoke)
		oauth.POST("/introspect", authHandler.Introspect)
		oauth.GET("/jwks", authHandler.JWKS)
	}

	r.GET("/.well-known/openid-configuration", authHandler.OpenIDConfig)
	r.GET("/.well-known/jwks.json", authHandler.JWKS)

	return r
}
