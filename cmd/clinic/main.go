package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medibridge/clinic/internal/config"
	"github.com/medibridge/clinic/internal/platform/apiclient"
	"github.com/medibridge/clinic/internal/platform/frontend"
	"github.com/medibridge/clinic/internal/platform/middleware"
	"github.com/medibridge/clinic/internal/platform/sandbox"
	"github.com/medibridge/clinic/internal/platform/session"
)

const sandboxIssuer = "medibridge-sandbox"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clinic",
		Short:         "MediBridge clinic front-end",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log API calls to stderr")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sandboxCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(patientsCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func sandboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sandbox",
		Short: "Start a self-contained clinic API with demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandbox()
		},
	}
}

// newLogger writes JSON to w, or a console format in development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.ValidateServe(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	// Session persistence
	var backend session.Backend
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		rs, err := session.NewRedisStoreFromURL(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return fmt.Errorf("redis session store: %w", err)
		}
		defer rs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rs.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		backend = rs
		logger.Info().Msg("connected to redis")
	default:
		backend = session.NewMemoryStore()
	}

	loginLimit := middleware.LoginRateLimitConfig()
	loginLimit.RequestsPerSecond = cfg.LoginRateLimitRPS
	loginLimit.BurstSize = cfg.LoginRateLimitBurst

	srv, e, err := frontend.New(frontend.Config{
		API: apiclient.Config{
			BaseURL: cfg.APIBaseURL,
			Timeout: cfg.APITimeout,
		},
		Backend:        backend,
		CookieSecure:   cfg.CookieSecure,
		SessionTTL:     cfg.SessionTTL,
		RequestTimeout: cfg.RequestTimeout,
		BodyLimit:      cfg.BodyLimit,
		LoginRateLimit: loginLimit,
	}, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info().Str("api", cfg.APIBaseURL).Str("sessions", cfg.SessionBackend).Msg("front-end configured")
	return serveUntilSignal(e, ":"+cfg.Port, logger)
}

func runSandbox() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.ValidateSandbox(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.SandboxSigningKey == "" {
		logger.Warn().Msg("SANDBOX_SIGNING_KEY not set, using the development signing key")
	}

	_, e, err := sandbox.New(sandbox.Config{
		SigningKey: cfg.SandboxKey(),
		Issuer:     sandboxIssuer,
		Seed: sandbox.SeedConfig{
			PatientCount:    cfg.SandboxPatients,
			IncludeClinical: true,
			Seed:            cfg.SandboxSeed,
		},
		BodyLimit:   cfg.BodyLimit,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)
	if err != nil {
		return err
	}
	for _, u := range sandbox.DemoUsers() {
		logger.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("demo account")
	}
	return serveUntilSignal(e, ":"+cfg.SandboxPort, logger)
}

// serveUntilSignal runs e until SIGINT or SIGTERM, then shuts it down
// gracefully.
func serveUntilSignal(e *echo.Echo, addr string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
