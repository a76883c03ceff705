package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/bulkmailer/internal/api"
	"github.io/infrasutra/bulkmailer/internal/config"
	"github.io/infrasutra/bulkmailer/internal/sandbox"
	"github.io/infrasutra/bulkmailer/internal/sender"
	"github.io/infrasutra/bulkmailer/internal/sse"
	"github.io/infrasutra/bulkmailer/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		stop()
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

// run serves until ctx is done or a server fails, then shuts both servers
// down.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	hub := sse.NewHub()
	relay := sender.Relay{Host: cfg.RelayHost, Port: cfg.RelayPort}

	var (
		db         *store.Store
		sandboxSrv *sandbox.Server
	)
	if cfg.SandboxEnabled {
		var err error
		db, err = store.Open(ctx)
		if err != nil {
			return fmt.Errorf("open sandbox store: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		cert, err := sandbox.NewCertificate("localhost", "127.0.0.1")
		if err != nil {
			return fmt.Errorf("create sandbox certificate: %w", err)
		}

		sandboxSrv = sandbox.New(db, hub, logger, sandbox.Config{
			Addr:     fmt.Sprintf("127.0.0.1:%d", cfg.SandboxPort),
			Password: cfg.SandboxPassword,
			Reject:   cfg.SandboxReject,
			TLS:      cert.ServerConfig(),
		})
		relay = sender.Relay{Host: "127.0.0.1", Port: cfg.SandboxPort, TLSConfig: cert.ClientConfig("localhost")}
		logger.Warn("sandbox enabled; mail is captured locally and never delivered", "addr", fmt.Sprintf("127.0.0.1:%d", cfg.SandboxPort))
	}

	transport := sender.NewSMTPTransport(relay)
	mailer := sender.New(transport, logger)
	apiServer := api.NewServer(cfg, mailer, db, hub, logger)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpAddr, "relay", transport.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if sandboxSrv != nil {
		g.Go(func() error {
			if err := sandboxSrv.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
				return fmt.Errorf("sandbox relay: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown http", "error", err)
		}
		if sandboxSrv != nil {
			if err := sandboxSrv.Close(); err != nil {
				logger.Error("shutdown sandbox relay", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
