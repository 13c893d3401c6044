package orchestrator

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/ratelimit"
	goerrors "github.com/goliatone/go-errors"
)

const paymentGatewayService = "payment_gateway"

func dependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

const staleStateAttempts = 3

// retryStale reruns fn, which must re-read the bounty, while its write loses
// to a concurrent one.
func retryStale(fn func() error) error {
	var err error
	for attempt := 0; attempt < staleStateAttempts; attempt++ {
		if err = fn(); !core.IsStaleState(err) {
			return err
		}
	}
	return err
}

func isThrottled(err error) bool {
	var throttled ratelimit.ThrottledError
	return errors.As(err, &throttled)
}

// userFacing extracts the message to post back for errors a commenter can act
// on. Forge and payment gateway outages ask for a retry; store faults are not
// user facing and are returned so the webhook delivery is retried.
func userFacing(err error) (string, bool) {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttledReply(throttled), true
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return "", false
	}
	message := strings.TrimSpace(rich.Message)
	switch rich.TextCode {
	case core.ErrorValidationFailed:
		if details := validationDetails(rich); details != "" {
			message = details
		}
	case core.ErrorNotAuthorized, core.ErrorNotFound, core.ErrorConflict, core.ErrorLockUnavailable, core.ErrorRateLimited:
	case core.ErrorUpstreamFailed:
		message = upstreamReply(rich)
	default:
		return "", false
	}
	if message == "" {
		message = "the command could not be applied"
	}
	return message, true
}

func upstreamReply(err *goerrors.Error) string {
	message := "GitHub could not be reached"
	if service, _ := err.Metadata["service"].(string); service == paymentGatewayService {
		message = strings.TrimSuffix(strings.TrimSpace(err.Message), ".")
	}
	return message + ", please try again shortly"
}

func validationDetails(err *goerrors.Error) string {
	parts := make([]string, 0, len(err.ValidationErrors))
	for _, field := range err.ValidationErrors {
		if text := strings.TrimSpace(field.Message); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "; ")
}
