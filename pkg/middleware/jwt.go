package middleware

import (
	"net/http"
	"strings"

	"ExpeditionFlow/internal/auth"

	"github.com/labstack/echo/v4"
)

// JWT rejects requests without a valid bearer token and stores the claims under "user".
func JWT(tokens *auth.Tokens) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "error": "Missing Token"})
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			claims, err := tokens.Parse(tokenString)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid Token"})
			}
			c.Set("user", claims)
			return next(c)
		}
	}
}
