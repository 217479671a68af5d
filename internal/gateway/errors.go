package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

var (
	// ErrQuotaExceeded marks a rate-limit or quota rejection. It is the only
	// condition the retry policy retries.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnauthorized marks a rejected or missing credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrVideoFailed marks a video operation that finished with an error.
	ErrVideoFailed = errors.New("video operation failed")
)

// classify wraps provider errors with the matching sentinel so callers can
// use errors.Is without knowing the provider's error type.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isQuotaAPIError(err):
		return fmt.Errorf("%s: %w: %v", op, ErrQuotaExceeded, err)
	case isAuthAPIError(err):
		return fmt.Errorf("%s: %w: %v", op, ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsQuotaExceeded reports whether err is a quota/rate-limit rejection.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrQuotaExceeded) || isQuotaAPIError(err)
}

func isQuotaAPIError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "quota")
	}
	return false
}

func isAuthAPIError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden ||
			apiErr.Status == "UNAUTHENTICATED" || apiErr.Status == "PERMISSION_DENIED"
	}
	return false
}
