package pitchiq

import "context"

// Provider is the interface that text-generation adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "gemini").
	Name() string

	// Generate produces free-form text from a single prompt.
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Auth holds authentication credentials for a provider.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth   Auth
	Model  string
	Prompt string
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID    string
	Text  string
	Model string
	Usage Usage
}
