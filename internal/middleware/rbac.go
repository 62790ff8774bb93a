package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-engine/internal/models"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/response"
)

// RBAC enforces role-based access control for routes. Admins pass every check.
func RBAC(allowed ...models.UserRole) gin.HandlerFunc {
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed)+1)
	allowedRoles[models.RoleAdmin] = struct{}{}
	for _, role := range allowed {
		allowedRoles[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok || claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// Readers may inspect history; writers may also record, publish and revert.
var (
	Readers = []models.UserRole{models.RoleEditor, models.RoleViewer}
	Writers = []models.UserRole{models.RoleEditor}
)
