// Package app builds the service components described by a pitchiq.Config.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ineyio/pitchiq"
	"github.com/ineyio/pitchiq/internal/server"
	"github.com/ineyio/pitchiq/meter"
	"github.com/ineyio/pitchiq/provider/gemini"
	"github.com/ineyio/pitchiq/provider/openai"
	"github.com/ineyio/pitchiq/provider/openaicompat"
	"github.com/ineyio/pitchiq/quota"
	quotapg "github.com/ineyio/pitchiq/quota/postgres"
	quotaredis "github.com/ineyio/pitchiq/quota/redis"
)

// NewProvider returns the adapter named by cfg.Name. An empty BaseURL keeps
// the adapter's public endpoint.
func NewProvider(cfg pitchiq.ProviderConfig, client *http.Client) (pitchiq.Provider, error) {
	if client == nil {
		client = http.DefaultClient
	}
	switch cfg.Name {
	case pitchiq.ProviderOpenAI:
		opts := []openai.Option{openai.WithHTTPClient(client)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...), nil
	case pitchiq.ProviderGemini:
		opts := []gemini.Option{gemini.WithHTTPClient(client)}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(opts...), nil
	case pitchiq.ProviderOpenAIChat, pitchiq.ProviderGrok, pitchiq.ProviderCerebras:
		opt := openaicompat.WithHTTPClient(client)
		if cfg.BaseURL != "" {
			return openaicompat.New(cfg.Name, cfg.BaseURL, opt), nil
		}
		switch cfg.Name {
		case pitchiq.ProviderGrok:
			return openaicompat.NewGrok(opt), nil
		case pitchiq.ProviderCerebras:
			return openaicompat.NewCerebras(opt), nil
		default:
			return openaicompat.NewOpenAI(opt), nil
		}
	}
	return nil, fmt.Errorf("app: unknown provider %q", cfg.Name)
}

// NewUsageStore connects the configured quota backend. The returned Closer
// releases its connections.
func NewUsageStore(ctx context.Context, cfg pitchiq.QuotaConfig) (pitchiq.UsageStore, io.Closer, error) {
	switch cfg.Backend {
	case pitchiq.BackendMemory, "":
		return quota.NewMemoryStore(), nopCloser{}, nil

	case pitchiq.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("app: redis ping: %w", err)
		}
		var opts []quotaredis.Option
		if cfg.Redis.KeyPrefix != "" {
			opts = append(opts, quotaredis.WithKeyPrefix(cfg.Redis.KeyPrefix))
		}
		return quotaredis.New(client, opts...), client, nil

	case pitchiq.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("app: postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("app: postgres ping: %w", err)
		}
		var opts []quotapg.Option
		if cfg.Postgres.TablePrefix != "" {
			opts = append(opts, quotapg.WithTablePrefix(cfg.Postgres.TablePrefix))
		}
		store := quotapg.New(pool, opts...)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, closerFunc(pool.Close), nil
	}
	return nil, nil, fmt.Errorf("app: unknown quota backend %q", cfg.Backend)
}

// NewGateway builds the gateway for cfg on top of provider and store.
func NewGateway(cfg pitchiq.Config, provider pitchiq.Provider, store pitchiq.UsageStore, logger log.FieldLogger) (*pitchiq.Gateway, error) {
	return pitchiq.NewGateway(provider,
		pitchiq.WithAuth(cfg.Provider.Auth),
		pitchiq.WithModel(cfg.Provider.Model),
		pitchiq.WithTimeout(cfg.Provider.Timeout),
		pitchiq.WithStrictSchema(cfg.StrictSchema),
		pitchiq.WithUsageStore(store),
		pitchiq.WithMeter(meter.NewLogMeter(logger)),
		pitchiq.WithLogger(logger),
	)
}

// NewServer builds the HTTP server for cfg.
func NewServer(cfg pitchiq.Config, pred server.Predictor, logger log.FieldLogger) *server.Server {
	opts := []server.Option{
		server.WithServiceName(cfg.ServiceName),
		server.WithLogger(logger),
		server.WithConcurrency(cfg.Concurrency.Max, cfg.Concurrency.AcquireTimeout),
		server.WithTrustedProxies(cfg.TrustedProxies...),
	}
	if cfg.Throttle.Enabled {
		var lopts []server.LimiterOption
		if cfg.Throttle.IdleTTL > 0 {
			lopts = append(lopts, server.WithIdleTTL(cfg.Throttle.IdleTTL))
		}
		opts = append(opts, server.WithThrottle(server.NewLimiterStore(cfg.Throttle.RPS, cfg.Throttle.Burst, lopts...)))
	}
	return server.New(pred, opts...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
