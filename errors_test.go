package pitchiq_test

import (
	"errors"
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ineyio/pitchiq"
)

func TestPredictErrorDetailAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *pitchiq.PredictError
		status int
		detail string
	}{
		{"admission", &pitchiq.PredictError{Kind: pitchiq.ErrAdmissionDenied}, http.StatusTooManyRequests, "Free limit reached. Try again after 24 hours."},
		{"upstream", &pitchiq.PredictError{Kind: pitchiq.ErrUpstream, Err: errors.New("timeout")}, http.StatusInternalServerError, "timeout"},
		{"malformed", &pitchiq.PredictError{Kind: pitchiq.ErrMalformedOutput}, http.StatusInternalServerError, "AI output was not valid JSON"},
		{"schema", &pitchiq.PredictError{Kind: pitchiq.ErrSchemaMismatch, Err: errors.New("missing field")}, http.StatusInternalServerError, "AI output did not match the expected schema"},
		{"store", &pitchiq.PredictError{Kind: pitchiq.ErrStoreUnavailable, Err: errors.New("redis: connection refused")}, http.StatusInternalServerError, "Usage store unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.Equal(t, tt.detail, tt.err.Detail())
			assert.ErrorIs(t, tt.err, tt.err.Kind)
		})
	}
}

func TestPredictErrorUnwrapsCause(t *testing.T) {
	cause := &pitchiq.APIError{Provider: "openai", StatusCode: 429, Message: "slow down"}
	err := error(&pitchiq.PredictError{Kind: pitchiq.ErrUpstream, Err: cause, UserID: "u1"})

	assert.ErrorIs(t, err, pitchiq.ErrUpstream)
	assert.ErrorIs(t, err, pitchiq.ErrRateLimited)
	assert.NotErrorIs(t, err, pitchiq.ErrAdmissionDenied)
	assert.False(t, pitchiq.IsAdmissionDenied(err))

	var apiErr *pitchiq.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "user=u1")
}

func TestTransportErrorDropsURL(t *testing.T) {
	cause := &url.Error{Op: "Post", URL: "http://127.0.0.1:9/v1/responses", Err: context.DeadlineExceeded}
	err := error(pitchiq.NewTransportError("openai", cause))

	assert.Equal(t, "context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, pitchiq.ErrProviderUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	perr := &pitchiq.PredictError{Kind: pitchiq.ErrUpstream, Err: err}
	assert.Equal(t, "context deadline exceeded", perr.Detail())
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, pitchiq.ErrRateLimited},
		{http.StatusUnauthorized, pitchiq.ErrAuthFailed},
		{http.StatusForbidden, pitchiq.ErrAuthFailed},
		{http.StatusBadRequest, pitchiq.ErrInvalidRequest},
		{http.StatusNotFound, pitchiq.ErrInvalidRequest},
		{http.StatusServiceUnavailable, pitchiq.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		err := &pitchiq.APIError{Provider: "p", StatusCode: tt.status}
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai envelope", `{"error":{"message":"Rate limit reached","type":"requests"}}`, "Rate limit reached"},
		{"string error", `{"error":"bad key"}`, "bad key"},
		{"top-level message", `{"message":"nope"}`, "nope"},
		{"plain text", "  upstream exploded \n", "upstream exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pitchiq.NewAPIError("openai", 500, []byte(tt.body))
			assert.Equal(t, tt.want, err.Message)
			assert.Equal(t, "openai: status 500: "+tt.want, err.Error())
		})
	}
}
