package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/learnhub/admission-api/internal/middleware"
	"github.com/learnhub/admission-api/internal/models"
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

// actorFromContext returns the acting user's ID for audit trails, falling
// back to "system" on unauthenticated paths.
func actorFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return "system"
}

func notifiedMeta(notified bool) map[string]interface{} {
	return map[string]interface{}{"notified": notified}
}
