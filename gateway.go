package pitchiq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultModel is the model identifier sent upstream unless overridden.
	DefaultModel = "gpt-4.1-mini"

	// DefaultTimeout bounds a single upstream call.
	DefaultTimeout = 60 * time.Second
)

// Gateway turns prediction requests into upstream generations under the
// per-user free quota.
type Gateway struct {
	provider     Provider
	auth         Auth
	model        string
	timeout      time.Duration
	strictSchema bool
	store        UsageStore
	meter        Meter
	logger       log.FieldLogger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAuth sets the provider credentials.
func WithAuth(a Auth) Option {
	return func(g *Gateway) { g.auth = a }
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(g *Gateway) { g.model = model }
}

// WithTimeout sets the upstream call deadline. Zero or negative keeps
// DefaultTimeout; an upstream call is never unbounded.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d <= 0 {
			d = DefaultTimeout
		}
		g.timeout = d
	}
}

// WithStrictSchema rejects replies that do not match MatchForecast.
func WithStrictSchema(strict bool) Option {
	return func(g *Gateway) { g.strictSchema = strict }
}

// WithUsageStore sets the usage store.
func WithUsageStore(s UsageStore) Option {
	return func(g *Gateway) { g.store = s }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(g *Gateway) { g.meter = m }
}

// WithLogger sets the logger used for upstream diagnostics.
func WithLogger(l log.FieldLogger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a Gateway for the given provider. A usage store is
// required: it owns the quota state shared by all requests.
func NewGateway(provider Provider, opts ...Option) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("pitchiq: provider is required")
	}

	g := &Gateway{
		provider: provider,
		model:    DefaultModel,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.store == nil {
		return nil, fmt.Errorf("pitchiq: usage store is required")
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.meter == nil {
		g.meter = &noopMeter{}
	}
	if g.logger == nil {
		g.logger = log.StandardLogger()
	}
	return g, nil
}

// Model returns the model identifier sent upstream.
func (g *Gateway) Model() string { return g.model }

// Usage returns the caller's current usage record.
func (g *Gateway) Usage(ctx context.Context, userID string) (UsageRecord, error) {
	return g.store.Usage(ctx, userID)
}

// Predict runs one prediction for the caller. Every failure, including an
// unreachable usage store, is a *PredictError and is reported to the Meter.
func (g *Gateway) Predict(ctx context.Context, req PredictionRequest) (PredictionResult, error) {
	prompt := BuildPrompt(req.HomeTeam, req.AwayTeam)

	reservation, err := g.store.Reserve(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ErrAdmissionDenied) {
			g.meter.OnAdmission(AdmissionEvent{UserID: req.UserID, Model: g.model})
			return PredictionResult{}, g.fail(ErrAdmissionDenied, nil, req.UserID)
		}
		g.logger.WithError(err).WithField("user_id", req.UserID).Error("pitchiq: reserve failed")
		perr := g.fail(ErrStoreUnavailable, err, req.UserID)
		g.meter.OnResult(ResultEvent{
			UserID:   req.UserID,
			Provider: g.provider.Name(),
			Model:    g.model,
			Kind:     perr.Kind,
			Error:    perr.Err,
		})
		return PredictionResult{}, perr
	}

	g.meter.OnAdmission(AdmissionEvent{
		UserID:        req.UserID,
		Allowed:       true,
		VIP:           reservation.Exempt,
		Model:         g.model,
		EstimatedIn:   EstimateTokens(g.model, prompt),
		ReservationID: reservation.ID,
	})

	start := time.Now()
	result, perr := g.generate(ctx, req.UserID, prompt)
	duration := time.Since(start)

	if perr != nil {
		_ = g.store.Rollback(context.WithoutCancel(ctx), reservation)
		g.meter.OnResult(ResultEvent{
			UserID:   req.UserID,
			Provider: g.provider.Name(),
			Model:    g.model,
			VIP:      reservation.Exempt,
			Duration: duration,
			Kind:     perr.Kind,
			Error:    perr.Err,
		})
		return PredictionResult{}, perr
	}

	if err := g.store.Commit(context.WithoutCancel(ctx), reservation); err != nil {
		g.logger.WithError(err).WithField("user_id", req.UserID).Error("pitchiq: commit usage failed")
	}
	result.VIP = reservation.Exempt

	g.meter.OnResult(ResultEvent{
		UserID:   req.UserID,
		Provider: g.provider.Name(),
		Model:    result.Model,
		VIP:      reservation.Exempt,
		Success:  true,
		Duration: duration,
		Usage:    result.Usage,
	})
	return result, nil
}

// generate calls the provider and turns its text into a result.
func (g *Gateway) generate(ctx context.Context, userID, prompt string) (PredictionResult, *PredictError) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.provider.Generate(callCtx, ProviderRequest{
		Auth:   g.auth,
		Model:  g.model,
		Prompt: prompt,
	})
	if err != nil {
		g.logger.WithFields(log.Fields{
			"provider": g.provider.Name(),
			"model":    g.model,
			"user_id":  userID,
		}).Errorf("upstream error: %v", err)
		return PredictionResult{}, g.fail(ErrUpstream, err, userID)
	}

	text := CleanOutput(resp.Text)
	if !json.Valid([]byte(text)) {
		g.logger.WithFields(log.Fields{
			"provider": g.provider.Name(),
			"model":    g.model,
			"user_id":  userID,
		}).Errorf("json parse failed, raw output: %s", text)
		return PredictionResult{}, g.fail(ErrMalformedOutput, nil, userID)
	}

	if g.strictSchema {
		if _, err := ValidateForecast([]byte(text)); err != nil {
			g.logger.WithFields(log.Fields{
				"provider": g.provider.Name(),
				"model":    g.model,
				"user_id":  userID,
			}).Errorf("schema check failed: %v, raw output: %s", err, text)
			return PredictionResult{}, g.fail(ErrSchemaMismatch, err, userID)
		}
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	return PredictionResult{
		Raw:   json.RawMessage(text),
		Model: model,
		Usage: resp.Usage,
	}, nil
}

func (g *Gateway) fail(kind, err error, userID string) *PredictError {
	return &PredictError{Kind: kind, Err: err, UserID: userID, Model: g.model}
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnAdmission(AdmissionEvent) {}
func (m *noopMeter) OnResult(ResultEvent)       {}
