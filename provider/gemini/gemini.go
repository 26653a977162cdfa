package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ineyio/pitchiq"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxBody        = 4 << 20
)

// Provider is the Gemini generateContent adapter.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

var _ pitchiq.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Generate(ctx context.Context, req pitchiq.ProviderRequest) (pitchiq.ProviderResponse, error) {
	body, err := sjson.SetBytes([]byte(`{"contents":[{"role":"user","parts":[{"text":""}]}]}`),
		"contents.0.parts.0.text", req.Prompt)
	if err != nil {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/gemini: build request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.Auth.APIKey)

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
		return pitchiq.ProviderResponse{}, pitchiq.NewAPIError(p.Name(), httpResp.StatusCode, data)
	}

	if !gjson.ValidBytes(data) {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/gemini: decode response: invalid JSON")
	}
	root := gjson.ParseBytes(data)

	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/gemini: empty candidates in response")
	}

	var text strings.Builder
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		text.WriteString(part.Get("text").String())
		return true
	})

	model := root.Get("modelVersion").String()
	if model == "" {
		model = req.Model
	}

	return pitchiq.ProviderResponse{
		ID:    root.Get("responseId").String(),
		Text:  text.String(),
		Model: model,
		Usage: pitchiq.Usage{
			PromptTokens:     root.Get("usageMetadata.promptTokenCount").Int(),
			CompletionTokens: root.Get("usageMetadata.candidatesTokenCount").Int(),
			TotalTokens:      root.Get("usageMetadata.totalTokenCount").Int(),
		},
	}, nil
}
