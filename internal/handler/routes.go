package handler

import (
	"github.com/labstack/echo/v4"

	"openrouter-rotator-go/internal/config"
	"openrouter-rotator-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The /v1
// group sits behind the bearer-token gate; liveness and status endpoints
// stay open.
func RegisterRoutes(e *echo.Echo, gw *GatewayHandler, health *HealthHandler, cfg *config.Config) {
	e.GET("/", health.Root)
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	v1 := e.Group("/v1", middleware.BearerAuth(cfg.Auth.Tokens))
	v1.POST("/chat/completions", gw.ChatCompletions)
	v1.GET("/models", gw.Models)
}
