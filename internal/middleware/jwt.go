package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/internal/service"
	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
	"github.com/noah-isme/revision-engine/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// JWT requires a valid bearer token and records its subject as the acting
// user of every revision captured while serving the request.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		setActor(c, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present and otherwise
// lets the request through anonymously.
func OptionalJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := bearerToken(c); err == nil {
			if claims, err := authService.ValidateToken(token); err == nil {
				setActor(c, claims)
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}

func setActor(c *gin.Context, claims *models.JWTClaims) {
	c.Set(ContextUserKey, claims)
	c.Request = c.Request.WithContext(revision.WithActor(c.Request.Context(), claims.UserID))
}
