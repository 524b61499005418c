package middleware

import (
	"net/http"

	"ExpeditionFlow/internal/auth"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && r.act == p.act
`

// Objects are route patterns, so "/api/shipments*" covers "/api/shipments/:id/awbs".
var rbacPolicies = [][]string{
	{auth.RoleOperator, "/api/profile", http.MethodGet},
	{auth.RoleOperator, "/api/shipments*", http.MethodGet},
	{auth.RoleOperator, "/api/runs/*", http.MethodGet},
	{auth.RoleOperator, "/api/import", http.MethodPost},
	{auth.RoleOperator, "/api/awbs/*", http.MethodPost},
	{auth.RoleOperator, "/api/documents/*", http.MethodPost},
	{auth.RoleOperator, "/api/emails/*", http.MethodPost},
	{auth.RoleOperator, "/api/reminders", http.MethodPost},
	{auth.RoleOperator, "/api/files/*", http.MethodPost},
	{auth.RoleAdmin, "/api/static-documents*", http.MethodPost},
	{auth.RoleAdmin, "/api/admin/*", http.MethodPost},
}

// NewEnforcer builds the RBAC enforcer from the model and policies defined in code.
// Admins inherit every operator permission.
func NewEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := enf.AddPolicies(rbacPolicies); err != nil {
		return nil, err
	}
	if _, err := enf.AddGroupingPolicy(auth.RoleAdmin, auth.RoleOperator); err != nil {
		return nil, err
	}
	return enf, nil
}

// Casbin enforces RBAC on the route pattern and method of each request. It runs
// after JWT.
func Casbin(enf *casbin.Enforcer, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get("user").(*auth.JWTClaims)
			if !ok || claims == nil {
				return c.JSON(http.StatusForbidden, map[string]any{"success": false, "error": "Unauthorized: missing user claims"})
			}
			obj := c.Path()
			act := c.Request().Method
			allowed, err := enf.Enforce(claims.Role, obj, act)
			if err != nil {
				log.Error("casbin enforce", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "error": "RBAC system error"})
			}
			if !allowed {
				log.Debug("casbin denied", zap.String("role", claims.Role), zap.String("obj", obj), zap.String("act", act))
				return c.JSON(http.StatusForbidden, map[string]any{"success": false, "error": "Forbidden: insufficient permissions"})
			}
			return next(c)
		}
	}
}
