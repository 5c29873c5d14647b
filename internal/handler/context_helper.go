package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/middleware"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
	"github.com/noah-isme/tutor-scheduling-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// bindJSON decodes the request body into dst and writes a validation error
// when it cannot. The caller returns immediately on false.
func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Invalid(err, message))
		return false
	}
	return true
}
