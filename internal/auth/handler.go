package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type AuthHandler struct {
	service *OperatorService
}

func NewAuthHandler(service *OperatorService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(c echo.Context) error {
	var cred Credential
	if err := c.Bind(&cred); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid request"})
	}
	if err := c.Validate(&cred); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	}

	token, op, err := h.service.Authenticate(c.Request().Context(), cred)
	if errors.Is(err, ErrInvalidCredentials) {
		return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid credentials"})
	}
	if err != nil {
		h.service.log.Error("login failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "error": "Login failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged in",
		"data":    map[string]string{"token": token, "role": op.Role, "name": op.Name},
	})
}

func (h *AuthHandler) Profile(c echo.Context) error {
	claims, ok := c.Get("user").(*JWTClaims)
	if !ok || claims == nil {
		return c.JSON(http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or missing token"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]string{"email": claims.Email, "name": claims.Name, "role": claims.Role},
	})
}
