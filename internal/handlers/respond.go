package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/gatherly/internal/helpers"
	"github.com/joshua-takyi/gatherly/internal/models"
)

// statusForError maps the domain error taxonomy onto HTTP codes.
// Anything outside the taxonomy is a 500 with a generic message so
// store internals never leak to clients.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrCapacityExceeded):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func respondError(c *gin.Context, err error) {
	status, msg := statusForError(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, models.ErrorResponse(msg))
}

// claimsFromContext extracts the authenticated identity placed by the
// auth middleware.
func claimsFromContext(c *gin.Context) (*helpers.EnhancedClaims, bool) {
	userClaims, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	claims, ok := userClaims.(*helpers.EnhancedClaims)
	return claims, ok
}

func requireClaims(c *gin.Context) (*helpers.EnhancedClaims, bool) {
	claims, ok := claimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse("authentication required"))
		return nil, false
	}
	return claims, true
}
