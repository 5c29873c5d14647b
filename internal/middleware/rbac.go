package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

// AllowSelf admits a caller whose ID matches the resource named in the path.
const AllowSelf = "SELF"

// selfParams are the path parameters that may name the caller, in lookup order.
var selfParams = []string{"studentId", "teacherId", "id"}

// RBAC admits callers holding one of the allowed roles. AllowSelf in the list
// additionally admits callers acting on their own resource.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	roles := make(map[models.UserRole]struct{}, len(allowed))
	for _, entry := range allowed {
		if entry == AllowSelf {
			allowSelf = true
			continue
		}
		roles[models.UserRole(entry)] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			abort(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := roles[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf && ownsResource(c, claims.UserID) {
			c.Next()
			return
		}
		abort(c, appErrors.ErrForbidden)
	}
}

// RequireRoles is RBAC without the self rule.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		allowed = append(allowed, string(role))
	}
	return RBAC(allowed...)
}

func ownsResource(c *gin.Context, userID string) bool {
	for _, name := range selfParams {
		if target := c.Param(name); target != "" {
			return target == userID
		}
	}
	return false
}
