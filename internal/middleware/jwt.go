package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
	"github.com/noah-isme/tutor-scheduling-api/pkg/response"
)

// ContextUserKey is the gin context key storing the caller's claims.
const ContextUserKey = "scheduling.claims"

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// Claims returns the authenticated caller, or nil for anonymous requests.
func Claims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}

// JWT rejects requests without a valid bearer token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, appErrors.ErrUnauthorized)
			return
		}
		token, ok := bearerToken(header)
		if !ok {
			abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present. Public
// availability lookups use it so anonymous callers still get a response.
func OptionalJWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if claims, err := validator.ValidateToken(token); err == nil {
				c.Set(ContextUserKey, claims)
			}
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abort(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}
