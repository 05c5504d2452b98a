// Package main is the entry point for the emailverify binary. It serves
// the HTTP API or verifies addresses given on the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/optimode/emailverify"
	"github.com/optimode/emailverify/config"
	"github.com/optimode/emailverify/internal/logging"
	"github.com/optimode/emailverify/internal/metrics"
	"github.com/optimode/emailverify/internal/redisstore"
	"github.com/optimode/emailverify/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Redis key namespaces.
const (
	redisPrefix        = "emailverify:"
	redisMXPrefix      = redisPrefix + "dns:"
	redisLimiterPrefix = redisPrefix + "limiter:"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "emailverify",
		Short: "Verify that email addresses exist without sending mail",
		Long: `emailverify checks an address in three stages: syntax, MX records of
the domain and an SMTP RCPT TO probe against the primary exchanger.

Configuration is read from the environment and an optional .env file.
Flags take precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("port", "p", "", "HTTP port (overrides PORT)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().String("lists-file", "", "YAML file with deny, unreliable and placeholder lists (overrides LISTS_FILE)")

	rootCmd.AddCommand(newServeCmd(), newCheckCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the verification HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <address>...",
		Short: "Verify addresses and print the verdicts as JSON",
		Example: `  emailverify check user@example.com
  emailverify check --log-level debug a@example.com b@example.org`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCheck,
	}
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	changed := false
	for name, dst := range map[string]*string{
		"port":       &cfg.Port,
		"log-level":  &cfg.LogLevel,
		"lists-file": &cfg.ListsFile,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = v
		changed = true
	}

	if changed {
		if err := cfg.Finalize(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// namespaces splits one Redis connection between the MX cache tier and the
// rate limiter counters.
func namespaces(store *redisstore.Storage) (mx, limiter *redisstore.Storage) {
	return store.WithPrefix(redisMXPrefix), store.WithPrefix(redisLimiterPrefix)
}

// buildVerifier wires the configuration into a Verifier. store is the MX
// cache tier; store and m may be nil.
func buildVerifier(cfg *config.Config, log logrus.FieldLogger, store *redisstore.Storage, m *metrics.Metrics) *emailverify.Verifier {
	dns := cfg.DNSOptions()
	if store != nil {
		dns.CacheStore = store
	}

	v := emailverify.New().
		WithSyntax(cfg.SyntaxOptions()).
		WithDNS(dns).
		WithSMTP(cfg.SMTPOptions()).
		WithOverride(cfg.OverrideOptions()).
		WithConcurrency(cfg.MaxConcurrentProbes).
		WithLogger(log)
	if m != nil {
		v = v.WithObserver(m)
	}
	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     version,
		})
		if err != nil {
			log.WithError(err).Warn("Sentry initialization failed, fault reporting disabled")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	var store, mxStore, limiterStore *redisstore.Storage
	if cfg.Redis.Enabled() {
		store = redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   redisPrefix,
		})
		defer func() { _ = store.Close() }()

		pingCtx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Address, err)
		}
		mxStore, limiterStore = namespaces(store)
		log.WithField("addr", cfg.Redis.Address).Info("Connected to Redis")
	}

	m := metrics.New()
	v := buildVerifier(cfg, log, mxStore, m)

	srvCfg := server.Config{
		Version:     version,
		CORSOrigins: cfg.CORSOrigins,
		MaxBulk:     cfg.MaxBulk,
		BulkWorkers: cfg.BulkWorkers,
		RateLimit:   cfg.RateLimit,
	}
	if limiterStore != nil {
		srvCfg.Storage = limiterStore
	}
	srv := server.New(v, srvCfg, log, m)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(":" + cfg.Port)
	}()

	log.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"environment": cfg.Environment,
		"version":     version,
		"smtp_strict": cfg.SMTP.Strict,
	}).Info("Server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return err
	}
	log.Info("Server stopped")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})

	results, err := buildVerifier(cfg, log, nil, nil).
		VerifyMany(cmd.Context(), args, emailverify.ConcurrencyOptions{Workers: cfg.BulkWorkers})
	if err != nil && !errors.Is(err, emailverify.ErrVerificationFault) {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
