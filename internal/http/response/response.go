package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps business errors onto HTTP statuses and stable codes
// so handlers never repeat the taxonomy.
func RespondAppError(c *gin.Context, err error) {
	status, code := classify(err)
	RespondError(c, status, code, err)
}

func classify(err error) (int, string) {
	var cv *apperr.ContentViolationError
	if errors.As(err, &cv) {
		return http.StatusUnprocessableEntity, "content_violation"
	}

	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrDuplicateGrant):
		return http.StatusConflict, "duplicate_grant"
	case errors.Is(err, apperr.ErrEntitlementExhausted):
		return http.StatusPaymentRequired, "entitlement_exhausted"
	case errors.Is(err, apperr.ErrPoolExhausted):
		return http.StatusConflict, "question_pool_exhausted"
	case errors.Is(err, apperr.ErrTokenExpired):
		return http.StatusGone, "handoff_token_expired"
	case errors.Is(err, apperr.ErrTokenAlreadyRedeemed):
		return http.StatusConflict, "handoff_token_redeemed"
	case errors.Is(err, apperr.ErrCheckpointConflict):
		return http.StatusConflict, "checkpoint_conflict"
	case errors.Is(err, apperr.ErrScoringFailed):
		return http.StatusBadGateway, "scoring_failed"
	case errors.Is(err, apperr.ErrUpstreamTimeout), errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
