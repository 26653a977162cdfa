package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ineyio/pitchiq"
)

// DefaultText is a fenced, schema-valid forecast, the shape models
// usually produce for the pitchiq prompt.
const DefaultText = "```json\n" + `{
  "score_home": 2,
  "score_away": 1,
  "home_win_prob": 0.5,
  "draw_prob": 0.3,
  "away_win_prob": 0.2,
  "shots_home": 14,
  "shots_away": 9,
  "shots_on_target_home": 6,
  "shots_on_target_away": 3,
  "corners_home": 7,
  "corners_away": 4,
  "cards_home": 2,
  "cards_away": 3,
  "explanation": "Home side stronger in possession."
}` + "\n```"

// Provider is a mock text-generation provider for testing.
type Provider struct {
	name         string
	text         string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	usage        pitchiq.Usage
	responseFunc func(pitchiq.ProviderRequest) (pitchiq.ProviderResponse, error)
}

var _ pitchiq.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name: "mock",
		text: DefaultText,
		usage: pitchiq.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithText sets the generated text.
func WithText(text string) Option {
	return func(p *Provider) { p.text = text }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u pitchiq.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(pitchiq.ProviderRequest) (pitchiq.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req pitchiq.ProviderRequest) (pitchiq.ProviderResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return pitchiq.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return pitchiq.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return pitchiq.ProviderResponse{}, pitchiq.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return pitchiq.ProviderResponse{
		ID:    "mock-response-id",
		Text:  p.text,
		Usage: p.usage,
		Model: req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }
