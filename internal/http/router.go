package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/fitbridge/fitbridge-connect/internal/config"
	"github.com/fitbridge/fitbridge-connect/internal/http/handler"
	httpmiddleware "github.com/fitbridge/fitbridge-connect/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, connectHandler *handler.ConnectHandler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", connectHandler.Healthz)

	v1 := r.Group("/v1", httpmiddleware.Identity())
	{
		v1.POST("/oauth/:provider", connectHandler.Action)
		v1.GET("/audit", connectHandler.Audit)
	}

	// Internal surface: reached only from inside the deployment, never
	// exposed through the gateway.
	internal := r.Group("/internal")
	{
		internal.POST("/sweep", connectHandler.Sweep)
	}

	return r
}
