package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// BearerAuth returns an Echo middleware that checks the inbound bearer token
// against a configured allow-set. An empty allow-set disables the gate.
// A rejected request never reaches the key pool.
func BearerAuth(tokens []string) echo.MiddlewareFunc {
	allow := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		allow[t] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(allow) == 0 {
				return next(c)
			}

			authz := c.Request().Header.Get(echo.HeaderAuthorization)
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": map[string]string{
						"message": "authorization required",
						"type":    "authentication_error",
					},
				})
			}

			token := strings.TrimPrefix(authz, "Bearer ")
			if !allow[token] {
				return c.JSON(http.StatusForbidden, map[string]any{
					"error": map[string]string{
						"message": "invalid API token",
						"type":    "authentication_error",
					},
				})
			}

			return next(c)
		}
	}
}
