package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/ineyio/pitchiq"
	"github.com/ineyio/pitchiq/internal/app"
	"github.com/ineyio/pitchiq/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("pitchiq: load %s: %v", *envFile, err)
	}

	cfg, err := pitchiq.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := log.StandardLogger()
	logCloser, err := logging.Setup(logger, cfg.Logging)
	if err != nil {
		log.Fatal(err)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("pitchiq: exiting")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg pitchiq.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Provider.Auth.APIKey == "" {
		logger.Warnf("pitchiq: no API key configured for provider %s; predictions will fail upstream", cfg.Provider.Name)
	}

	provider, err := app.NewProvider(cfg.Provider, nil)
	if err != nil {
		return err
	}

	store, storeCloser, err := app.NewUsageStore(ctx, cfg.Quota)
	if err != nil {
		return err
	}
	defer storeCloser.Close()

	gw, err := app.NewGateway(cfg, provider, store, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := app.NewServer(cfg, gw, logger)
	srv.StartJanitor(ctx)

	// Write timeout leaves room for the upstream deadline.
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Provider.Timeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":     cfg.ListenAddr,
			"provider": cfg.Provider.Name,
			"model":    cfg.Provider.Model,
			"quota":    cfg.Quota.Backend,
		}).Infof("%s server listening", cfg.ServiceName)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("pitchiq: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Provider.Timeout+5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
