package pitchiq

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Sentinel errors.
var (
	ErrAdmissionDenied  = errors.New("pitchiq: free limit reached")
	ErrUpstream         = errors.New("pitchiq: upstream call failed")
	ErrMalformedOutput  = errors.New("pitchiq: AI output was not valid JSON")
	ErrSchemaMismatch   = errors.New("pitchiq: AI output did not match the expected schema")
	ErrStoreUnavailable = errors.New("pitchiq: usage store unavailable")

	ErrRateLimited         = errors.New("pitchiq: rate limited by provider")
	ErrAuthFailed          = errors.New("pitchiq: authentication failed")
	ErrInvalidRequest      = errors.New("pitchiq: invalid request")
	ErrProviderUnavailable = errors.New("pitchiq: provider unavailable")
)

// Caller-facing messages.
const (
	DetailAdmissionDenied  = "Free limit reached. Try again after 24 hours."
	DetailMalformedOutput  = "AI output was not valid JSON"
	DetailSchemaMismatch   = "AI output did not match the expected schema"
	DetailStoreUnavailable = "Usage store unavailable"
)

// PredictError wraps a prediction failure with its kind and context.
type PredictError struct {
	// Kind is one of ErrAdmissionDenied, ErrStoreUnavailable, ErrUpstream,
	// ErrMalformedOutput or ErrSchemaMismatch.
	Kind   error
	Err    error
	UserID string
	Model  string
}

func (e *PredictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: user=%s model=%s", e.Kind, e.UserID, e.Model)
	}
	return fmt.Sprintf("%v: user=%s model=%s: %v", e.Kind, e.UserID, e.Model, e.Err)
}

func (e *PredictError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Detail returns the message shown to the caller. Upstream failures carry
// the provider's own message; the other kinds use fixed text so raw model
// output never leaks.
func (e *PredictError) Detail() string {
	switch e.Kind {
	case ErrAdmissionDenied:
		return DetailAdmissionDenied
	case ErrMalformedOutput:
		return DetailMalformedOutput
	case ErrSchemaMismatch:
		return DetailSchemaMismatch
	case ErrStoreUnavailable:
		return DetailStoreUnavailable
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// StatusCode maps the failure kind to an HTTP status.
func (e *PredictError) StatusCode() int {
	if e.Kind == ErrAdmissionDenied {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// APIError is an HTTP-level failure reported by a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Is classifies the status code against the provider sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrAuthFailed:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrInvalidRequest:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusNotFound
	case ErrProviderUnavailable:
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// NewAPIError builds an APIError from a non-2xx response body. The message
// is taken from the usual error envelopes ({"error":{"message":...}} or
// {"error":"..."}) and falls back to the trimmed body.
func NewAPIError(provider string, status int, body []byte) *APIError {
	msg := ""
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		switch e := res.Get("error"); {
		case e.Get("message").Exists():
			msg = e.Get("message").String()
		case e.Type == gjson.String:
			msg = e.String()
		case res.Get("message").Exists():
			msg = res.Get("message").String()
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &APIError{Provider: provider, StatusCode: status, Message: msg}
}

// TransportError is a provider call that never produced an HTTP response:
// a dial failure, a reset connection or an expired deadline. Its message is
// the underlying cause only, without the request URL.
type TransportError struct {
	Provider string
	Err      error
}

// NewTransportError wraps err from an HTTP round trip, dropping the
// *url.Error envelope that carries the method and endpoint.
func NewTransportError(provider string, err error) *TransportError {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return &TransportError{Provider: provider, Err: err}
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}

// IsAdmissionDenied reports whether err is a quota rejection.
func IsAdmissionDenied(err error) bool {
	return errors.Is(err, ErrAdmissionDenied)
}
