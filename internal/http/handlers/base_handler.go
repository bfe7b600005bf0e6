// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/dispatch"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeDispatchError(c *gin.Context, err error) {
	writeError(c, statusFor(err), PublicMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, dispatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage keeps the ids in precondition failures and hides everything else.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrBadRequest),
		errors.Is(err, dispatch.ErrForbidden),
		errors.Is(err, dispatch.ErrNotFound),
		errors.Is(err, dispatch.ErrInvalidState):
		return err.Error()
	case errors.Is(err, dispatch.ErrUpstream):
		return "upstream failure"
	case errors.Is(err, dispatch.ErrPersistence):
		return "persistence failure"
	default:
		return "internal error"
	}
}
