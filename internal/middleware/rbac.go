package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/response"
)

// RoleSelf grants access when the :id route parameter is the caller's own document.
const RoleSelf = "SELF"

// RBAC enforces role-based access control for routes. Besides role names it accepts RoleSelf.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, a := range allowed {
		if a == RoleSelf {
			allowSelf = true
			continue
		}
		allowedRoles[models.UserRole(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := callerClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf && ownsParam(c, claims, "id") {
			c.Next()
			return
		}

		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "your role cannot access this resource"))
		c.Abort()
	}
}

// RequireRoles allows only the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}

// OwnDocument restricts a route to the caller whose document id is the named route parameter.
// An applicant's anonymous session id is their document id, so one applicant can never reach
// another applicant's application.
func OwnDocument(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := callerClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !ownsParam(c, claims, param) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "this application belongs to another session"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func callerClaims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}

func ownsParam(c *gin.Context, claims *models.JWTClaims, param string) bool {
	target := c.Param(param)
	return target != "" && target == claims.UserID
}
