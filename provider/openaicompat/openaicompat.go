package openaicompat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ineyio/pitchiq"
)

const maxBody = 4 << 20

// Provider is a universal OpenAI-compatible chat completions adapter.
// Works with OpenAI, Grok/xAI, Cerebras, Together, Ollama, and others.
// The prompt is sent as a single user message.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ pitchiq.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a chat completions provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New("openai-chat", "https://api.openai.com/v1", opts...)
}

// NewGrok creates a provider for Grok/xAI.
func NewGrok(opts ...Option) *Provider {
	return New("grok", "https://api.x.ai/v1", opts...)
}

// NewCerebras creates a provider for Cerebras.
func NewCerebras(opts ...Option) *Provider {
	return New("cerebras", "https://api.cerebras.ai/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req pitchiq.ProviderRequest) (pitchiq.ProviderResponse, error) {
	body := []byte(`{"messages":[{"role":"user","content":""}]}`)
	body, _ = sjson.SetBytes(body, "model", req.Model)
	body, err := sjson.SetBytes(body, "messages.0.content", req.Prompt)
	if err != nil {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/openaicompat: build request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/openaicompat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Auth.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Auth.APIKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return pitchiq.ProviderResponse{}, pitchiq.NewTransportError(p.Name(), err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBody))
	if err != nil {
		return pitchiq.ProviderResponse{}, pitchiq.NewTransportError(p.Name(), err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return pitchiq.ProviderResponse{}, pitchiq.NewAPIError(p.name, httpResp.StatusCode, data)
	}

	if !gjson.ValidBytes(data) {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/openaicompat: decode response: invalid JSON")
	}
	root := gjson.ParseBytes(data)

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/openaicompat: empty choices in response")
	}

	return pitchiq.ProviderResponse{
		ID:    root.Get("id").String(),
		Text:  choice.Get("message.content").String(),
		Model: root.Get("model").String(),
		Usage: pitchiq.Usage{
			PromptTokens:     root.Get("usage.prompt_tokens").Int(),
			CompletionTokens: root.Get("usage.completion_tokens").Int(),
			TotalTokens:      root.Get("usage.total_tokens").Int(),
		},
	}, nil
}
