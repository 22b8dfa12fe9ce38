package apperr

import (
	"errors"
	"fmt"
)

// Sentinels for the business-rule failures the core surfaces verbatim.
// None of these are retryable by the server.
var (
	ErrValidation           = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrDuplicateGrant       = errors.New("entitlement already granted for this product")
	ErrEntitlementExhausted = errors.New("no attempts remaining on entitlement")
	ErrTokenExpired         = errors.New("handoff token expired")
	ErrTokenAlreadyRedeemed = errors.New("handoff token already redeemed")
	ErrPoolExhausted        = errors.New("question pool exhausted for this cycle")
	ErrScoringFailed        = errors.New("scoring failed, attempt queued for manual review")
	ErrCheckpointConflict   = errors.New("conversation checkpoint is stale")
)

// Upstream failures. Retried with backoff at turn or scoring granularity,
// never at whole-attempt granularity.
var (
	ErrUpstreamTimeout     = errors.New("upstream timed out")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

type ViolationSeverity string

const (
	SeverityClean  ViolationSeverity = "clean"
	SeverityMild   ViolationSeverity = "mild_violation"
	SeveritySevere ViolationSeverity = "severe_violation"
)

// ContentViolationError reports a content-safety gate hit and its severity.
type ContentViolationError struct {
	Severity ViolationSeverity
	Category string
}

func (e *ContentViolationError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("content violation (%s): %s", e.Severity, e.Category)
	}
	return fmt.Sprintf("content violation (%s)", e.Severity)
}

// IsSevere reports whether err is a severe content violation.
func IsSevere(err error) bool {
	var cv *ContentViolationError
	return errors.As(err, &cv) && cv.Severity == SeveritySevere
}
