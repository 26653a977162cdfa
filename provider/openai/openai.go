// Package openai is an adapter for the OpenAI Responses API
// (POST /responses with a single text input).
package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

// maxBody bounds how much of a response is read into memory.
const maxBody = 4 << 20

// Provider is the OpenAI Responses API adapter.
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

// New creates a new OpenAI Responses provider.
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

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Generate(ctx context.Context, req pitchiq.ProviderRequest) (pitchiq.ProviderResponse, error) {
	body, err := buildRequest(req)
	if err != nil {
		return pitchiq.ProviderResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Auth.APIKey)

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

	return parseResponse(data)
}

func buildRequest(req pitchiq.ProviderRequest) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "model", req.Model)
	if err != nil {
		return nil, fmt.Errorf("pitchiq/openai: build request: %w", err)
	}
	body, err = sjson.SetBytes(body, "input", req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("pitchiq/openai: build request: %w", err)
	}
	return body, nil
}

// parseResponse concatenates every output_text part of every message item,
// which is what the SDKs expose as output_text.
func parseResponse(data []byte) (pitchiq.ProviderResponse, error) {
	if !gjson.ValidBytes(data) {
		return pitchiq.ProviderResponse{}, fmt.Errorf("pitchiq/openai: decode response: invalid JSON")
	}
	root := gjson.ParseBytes(data)

	var text strings.Builder
	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		if t := item.Get("type").String(); t != "" && t != "message" {
			return true
		}
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "output_text" {
				text.WriteString(part.Get("text").String())
			}
			return true
		})
		return true
	})
	if text.Len() == 0 {
		if t := root.Get("output_text"); t.Exists() {
			text.WriteString(t.String())
		}
	}

	return pitchiq.ProviderResponse{
		ID:    root.Get("id").String(),
		Text:  text.String(),
		Model: root.Get("model").String(),
		Usage: pitchiq.Usage{
			PromptTokens:     root.Get("usage.input_tokens").Int(),
			CompletionTokens: root.Get("usage.output_tokens").Int(),
			TotalTokens:      root.Get("usage.total_tokens").Int(),
		},
	}, nil
}
