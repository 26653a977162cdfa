package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/pitchiq"
	"github.com/ineyio/pitchiq/internal/app"
	"github.com/ineyio/pitchiq/quota"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{pitchiq.ProviderOpenAI, "openai"},
		{pitchiq.ProviderOpenAIChat, "openai-chat"},
		{pitchiq.ProviderGrok, "grok"},
		{pitchiq.ProviderCerebras, "cerebras"},
		{pitchiq.ProviderGemini, "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := app.NewProvider(pitchiq.ProviderConfig{Name: tt.name}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}

	_, err := app.NewProvider(pitchiq.ProviderConfig{Name: "nope"}, nil)
	assert.Error(t, err)
}

func TestNewUsageStoreMemory(t *testing.T) {
	store, closer, err := app.NewUsageStore(context.Background(), pitchiq.QuotaConfig{Backend: pitchiq.BackendMemory})
	require.NoError(t, err)
	defer closer.Close()
	assert.IsType(t, &quota.MemoryStore{}, store)
}

func TestNewUsageStoreUnknown(t *testing.T) {
	_, _, err := app.NewUsageStore(context.Background(), pitchiq.QuotaConfig{Backend: "etcd"})
	assert.Error(t, err)
}

// TestEndToEnd drives the configured stack against a fake Responses endpoint.
func TestEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-e2e", r.Header.Get("Authorization"))
		io.WriteString(w, `{"id":"r","model":"gpt-4.1-mini","output":[{"type":"message","content":[{"type":"output_text","text":"`+"```json\\n{\\\"a\\\":1}\\n```"+`"}]}]}`)
	}))
	defer upstream.Close()

	cfg := pitchiq.DefaultConfig()
	cfg.Provider.BaseURL = upstream.URL
	cfg.Provider.Auth.APIKey = "sk-e2e"
	cfg.Concurrency.Max = 4
	cfg.Throttle.Enabled = true
	cfg.Throttle.RPS = 100
	cfg.Throttle.Burst = 100
	require.NoError(t, cfg.Validate())

	logger, _ := test.NewNullLogger()
	provider, err := app.NewProvider(cfg.Provider, upstream.Client())
	require.NoError(t, err)
	store, closer, err := app.NewUsageStore(context.Background(), cfg.Quota)
	require.NoError(t, err)
	defer closer.Close()
	gw, err := app.NewGateway(cfg, provider, store, logger)
	require.NoError(t, err)
	h := app.NewServer(cfg, gw, logger).Handler()

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/predict",
			strings.NewReader(`{"user_id":"e2e","homeTeam":"A","awayTeam":"B"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < pitchiq.FreeDailyLimit; i++ {
		w := post()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"a":1}`, w.Body.String())
	}
	w := post()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"detail":"Free limit reached. Try again after 24 hours."}`, w.Body.String())
}
