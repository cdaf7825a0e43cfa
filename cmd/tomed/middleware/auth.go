package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tomehq/tome/common/repository"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// CallerProjectKey is the context key holding the project ID the
	// presented API key belongs to
	CallerProjectKey ContextKey = "caller_project"
)

// RequireAPIKey authenticates operational routes with an API key taken
// from the X-API-Key header or an Authorization bearer token. Webhook
// routes use HMAC signatures instead and must not mount this.
func RequireAPIKey(keys *repository.APIKeyRepository, devKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := extractKey(c)
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "api key required",
				})
			}

			// Development deployments may run with a single shared key
			if devKey != "" && key == devKey {
				return next(c)
			}

			projectID, err := keys.Lookup(c.Request().Context(), key)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return c.JSON(http.StatusUnauthorized, map[string]interface{}{
						"error": "invalid api key",
					})
				}
				return c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"error": "key lookup failed",
				})
			}

			c.Set(string(CallerProjectKey), projectID.String())
			return next(c)
		}
	}
}

func extractKey(c echo.Context) string {
	if key := c.Request().Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
