package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/middleware"
	"github.com/campusreg/enroll-api/internal/models"
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

// callerProfileID returns the domain profile the caller acts as, falling back
// to the account id for operators without a linked profile.
func callerProfileID(c *gin.Context) string {
	claims := claimsFromContext(c)
	if claims == nil {
		return ""
	}
	if claims.ProfileID != "" {
		return claims.ProfileID
	}
	return claims.UserID
}

func callerIsAdmin(c *gin.Context) bool {
	claims := claimsFromContext(c)
	return claims != nil && claims.Role == models.RoleAdmin
}
