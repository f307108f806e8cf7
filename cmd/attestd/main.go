package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veyralabs/agentrank/internal/adapters/finance"
	"github.com/veyralabs/agentrank/internal/adapters/http/api"
	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/attest"
	"github.com/veyralabs/agentrank/internal/config"
	"github.com/veyralabs/agentrank/pkg/logger"
)

const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().Named("attestd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	if cfg.SignerKey == "" {
		os.Stderr.WriteString("signer_key is required\n")
		os.Exit(1)
	}
	signer, err := attest.NewSigner(cfg.SignerKey)
	if err != nil {
		os.Stderr.WriteString("invalid signer_key: " + err.Error() + "\n")
		os.Exit(1)
	}

	var store repository.Store
	if cfg.DatabaseURL != "" {
		store, err = repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			os.Stderr.WriteString("failed to connect to store: " + err.Error() + "\n")
			os.Exit(1)
		}
	} else {
		log.Warn(ctx, "no database_url set, using in-memory store")
		store = repository.NewMemoryStore()
	}
	defer store.Close()

	opts := []attest.Option{}
	if cfg.FinanceAPIURL != "" {
		opts = append(opts, attest.WithFinanceSource(finance.New(cfg.FinanceAPIURL, cfg.FinanceAPIKey)))
	}
	svc := attest.NewService(signer, store, opts...)
	log.Info(ctx, "attestation service ready", logger.String("signer", svc.SignerAddress()))

	mux := http.NewServeMux()
	api.NewAttestServer(svc).Register(mux)

	srv := &http.Server{
		Addr:              cfg.AttestAddr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.AttestAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
}
