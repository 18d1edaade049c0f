package agent

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of failure causes shown to users.
type ErrorKind string

const (
	KindRateLimited        ErrorKind = "rate_limited"
	KindAuthInvalid        ErrorKind = "auth_invalid"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindUnknown            ErrorKind = "unknown"
)

// Initialization errors.
var (
	// ErrAuthMissing is returned when no model credential was supplied.
	ErrAuthMissing = errors.New("model API key is required")

	// ErrAuthInvalid is returned when the model provider rejects the credential.
	ErrAuthInvalid = errors.New("invalid model API key, please verify your API key configuration")

	// ErrRateLimited is returned when the model provider refuses on quota.
	ErrRateLimited = errors.New("model API quota exceeded, please check your API usage")
)

// APIError is a provider failure carrying the HTTP status it was reported with.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

// NewAPIError wraps err with the provider and status code it came from.
func NewAPIError(provider string, statusCode int, err error) *APIError {
	return &APIError{Provider: provider, StatusCode: statusCode, Err: err}
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode returns the status carried by the first APIError in err's chain.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr != nil && apiErr.StatusCode > 0 {
		return apiErr.StatusCode, true
	}
	return 0, false
}

// Classify maps an error to its ErrorKind. Errors without a status code are KindUnknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	status, ok := StatusCode(err)
	if !ok {
		return KindUnknown
	}
	return KindForStatus(status)
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthInvalid
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

const (
	rateLimitedMessage = "⚠️ **API Quota Exceeded**\n\n" +
		"The model API has exceeded its usage quota. Please:\n" +
		"1. Check your provider console for current usage\n" +
		"2. Verify your API key has sufficient quota\n" +
		"3. Consider upgrading your plan if needed"

	authInvalidMessage = "⚠️ **Authentication Error**\n\n" +
		"The model API key appears to be invalid or expired. Please check your API key configuration."

	serviceUnavailableMessage = "⚠️ **Service Unavailable**\n\n" +
		"The model service is temporarily unavailable. Please try again in a few moments."

	unknownMessage = "I apologize, but I encountered an error while processing your request."
)

// MessageFor returns the user-facing explanation for kind.
func MessageFor(kind ErrorKind) string {
	switch kind {
	case KindRateLimited:
		return rateLimitedMessage
	case KindAuthInvalid:
		return authInvalidMessage
	case KindServiceUnavailable:
		return serviceUnavailableMessage
	default:
		return unknownMessage
	}
}

// initError maps a session creation failure to an initialization error.
func initError(err error) error {
	switch Classify(err) {
	case KindRateLimited:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case KindAuthInvalid:
		return fmt.Errorf("%w: %w", ErrAuthInvalid, err)
	default:
		return fmt.Errorf("failed to create model session: %w", err)
	}
}
