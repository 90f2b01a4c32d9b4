package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"openrouter-rotator-go/internal/config"
	"openrouter-rotator-go/internal/keypool"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves liveness and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	pool    *keypool.Pool
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, pool *keypool.Pool, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, pool: pool, version: v}
}

// Root answers GET / with an informational liveness message.
func (h *HealthHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "OpenRouter Key Rotator Proxy is running. Use POST /v1/chat/completions.",
	})
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns rotator status information. Key material never appears here,
// only the pool size.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
		"pool_size":    h.pool.Size(),
	})
}
