package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthenticityFailed = "BOUNTY_AUTHENTICITY_FAILED"
	ErrorNotAuthorized      = "BOUNTY_NOT_AUTHORIZED"
	ErrorValidationFailed   = "BOUNTY_VALIDATION_FAILED"
	ErrorNotFound           = "BOUNTY_NOT_FOUND"
	ErrorConflict           = "BOUNTY_CONFLICT"
	ErrorLockUnavailable    = "BOUNTY_LOCK_UNAVAILABLE"
	ErrorUpstreamFailed     = "BOUNTY_UPSTREAM_FAILED"
	ErrorRateLimited        = "BOUNTY_RATE_LIMITED"
	ErrorInternal           = "BOUNTY_INTERNAL_ERROR"
)

// Conflict reasons surfaced to users when a guard rejects a transition.
const (
	ReasonAlreadyExists     = "already_exists"
	ReasonAlreadySubmitted  = "already_submitted"
	ReasonTooManyPending    = "too_many_pending"
	ReasonNotAccepting      = "not_accepting_submissions"
	ReasonAlreadyApproved   = "already_approved"
	ReasonAlreadyOpen       = "already_open"
	ReasonAlreadyReleased   = "already_released"
	ReasonNotFunded         = "not_funded"
	ReasonNotApproved       = "not_approved"
	ReasonNotPending        = "not_pending"
	ReasonNotMerged         = "not_merged"
	ReasonPayoutIncapable   = "payout_account_missing"
	ReasonInvalidTransition = "invalid_transition"
	ReasonTargetIsPR        = "target_is_pull_request"
	ReasonSameIssue         = "same_issue"
	ReasonAlreadyFunded     = "already_funded"
	ReasonAlreadyCancelled  = "already_cancelled"
	ReasonStaleState        = "stale_state"
)

func NewAuthenticityError(message string) *goerrors.Error {
	return newDomainError(message, goerrors.CategoryAuth, ErrorAuthenticityFailed, nil)
}

func NewAuthorizationError(actor string, action string) *goerrors.Error {
	return newDomainError(
		"@"+strings.TrimSpace(actor)+" does not have maintainer access to "+strings.TrimSpace(action),
		goerrors.CategoryAuthz,
		ErrorNotAuthorized,
		map[string]any{"actor": actor, "action": action},
	)
}

func NewValidationError(message string, field string) *goerrors.Error {
	err := goerrors.NewValidation(message, goerrors.FieldError{
		Field:   strings.TrimSpace(field),
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidationFailed).
		WithSeverity(goerrors.SeverityError)
	if strings.TrimSpace(field) != "" {
		err = err.WithMetadata(map[string]any{"field": field})
	}
	return err
}

func NewNotFoundError(resource string, message string) *goerrors.Error {
	return newDomainError(message, goerrors.CategoryNotFound, ErrorNotFound, map[string]any{
		"resource": resource,
	})
}

func NewConflictError(reason string, message string) *goerrors.Error {
	return newDomainError(message, goerrors.CategoryConflict, ErrorConflict, map[string]any{
		"reason": reason,
	})
}

// NewStaleStateError reports a write based on a bounty version that has since
// changed. Callers re-read and retry.
func NewStaleStateError(bountyID string) *goerrors.Error {
	return newDomainError(
		"the bounty changed while the command was running, please try again",
		goerrors.CategoryConflict,
		ErrorConflict,
		map[string]any{"reason": ReasonStaleState, "bounty_id": bountyID},
	)
}

func NewLockUnavailableError(bountyID string) *goerrors.Error {
	return newDomainError(
		"a payout for this bounty is already in progress",
		goerrors.CategoryConflict,
		ErrorLockUnavailable,
		map[string]any{"bounty_id": bountyID},
	).WithCode(http.StatusLocked)
}

func NewUpstreamError(source error, service string, message string) *goerrors.Error {
	if source == nil {
		return newDomainError(message, goerrors.CategoryExternal, ErrorUpstreamFailed, map[string]any{
			"service": service,
		})
	}
	return goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorUpstreamFailed).
		WithMetadata(map[string]any{"service": service})
}

func newDomainError(
	message string,
	category goerrors.Category,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(domainHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// MapError converts any error into a go-errors envelope with a text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryAuth).WithTextCode(ErrorAuthenticityFailed))
	case strings.Contains(msg, "not found"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryNotFound).WithTextCode(ErrorNotFound))
	case strings.Contains(msg, "lock"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryConflict).WithTextCode(ErrorLockUnavailable))
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryRateLimit).WithTextCode(ErrorRateLimited))
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryValidation).WithTextCode(ErrorValidationFailed))
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

// ErrorTextCode returns the text code of err, or an empty string for nil.
func ErrorTextCode(err error) string {
	mapped := MapError(err)
	if mapped == nil {
		return ""
	}
	return mapped.TextCode
}

func IsTextCode(err error, textCode string) bool {
	return err != nil && ErrorTextCode(err) == textCode
}

// ErrorReason returns the conflict reason attached to err, if any.
func ErrorReason(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil || richErr.Metadata == nil {
		return ""
	}
	if reason, ok := richErr.Metadata["reason"].(string); ok {
		return reason
	}
	return ""
}

func IsNotFound(err error) bool {
	return IsTextCode(err, ErrorNotFound)
}

func IsConflict(err error) bool {
	return IsTextCode(err, ErrorConflict)
}

func IsStaleState(err error) bool {
	return IsConflict(err) && ErrorReason(err) == ReasonStaleState
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = domainHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidationFailed
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorAuthenticityFailed
	case goerrors.CategoryAuthz:
		return ErrorNotAuthorized
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorUpstreamFailed
	default:
		return ErrorInternal
	}
}

func domainHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
