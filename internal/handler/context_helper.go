package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/internal/middleware"
	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// documentID returns the student document owned by the caller. Applicant and student tokens
// carry it as the user id.
func documentID(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	if claims.Role != models.RoleApplicant && claims.Role != models.RoleStudent {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only applicants and students have a student record"))
		return "", false
	}
	return claims.UserID, true
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

// accepted answers a committed student write. The client should treat the action as pending
// until the live view reaches the returned version.
func accepted(c *gin.Context, data interface{}, version int64, action string) {
	response.Accepted(c, data, map[string]interface{}{
		"version":              version,
		"pending_confirmation": action,
	})
}
