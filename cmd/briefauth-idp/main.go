// Command briefauth-idp serves the one-time passcode identity provider over
// HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bullishbrief/briefauth"
	"github.com/bullishbrief/briefauth/directory"
	"github.com/bullishbrief/briefauth/idp"
	"github.com/bullishbrief/briefauth/internal/idpserver"
	"github.com/bullishbrief/briefauth/internal/logging"
)

const (
	envAPIKey       = "BRIEFAUTH_IDP_API_KEY"
	envRedisAddr    = "REDIS_ADDR"
	envPostgresDSN  = "BRIEFAUTH_IDP_POSTGRES_DSN"
	shutdownTimeout = 10 * time.Second
)

type options struct {
	configPath  string
	addr        string
	redisAddr   string
	postgresDSN string
	apiKey      string
	logLevel    string
	logFormat   string
	devMail     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "briefauth-idp",
		Short:         "One-time passcode identity provider for The Bullish Brief",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the provider YAML config")
	root.PersistentFlags().StringVar(&opts.postgresDSN, "postgres-dsn", "", "account directory DSN; empty keeps accounts in memory (env "+envPostgresDSN+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "json or console")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the GoTrue-compatible OTP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	serve.Flags().StringVar(&opts.addr, "addr", ":9999", "listen address")
	serve.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; empty falls back to "+envRedisAddr+" and then an embedded miniredis")
	serve.Flags().StringVar(&opts.apiKey, "api-key", "", "key clients must present (env "+envAPIKey+")")
	serve.Flags().BoolVar(&opts.devMail, "dev-mail", false, "log issued codes instead of only their delivery")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the account directory schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), opts)
		},
	}

	root.AddCommand(serve, migrate)
	return root
}

func runServe(ctx context.Context, opts *options) error {
	apiKey := firstNonEmpty(opts.apiKey, os.Getenv(envAPIKey))
	if apiKey == "" {
		return fmt.Errorf("api key is required: pass --api-key or set %s", envAPIKey)
	}

	cfg, err := idp.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid idp config: %w", err)
	}

	logger, err := logging.New(briefauth.LoggingConfig{Level: opts.logLevel, Format: opts.logFormat})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rdb, closeRedis, err := openRedis(firstNonEmpty(opts.redisAddr, os.Getenv(envRedisAddr)), logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	dir, closeDir, err := openDirectory(ctx, firstNonEmpty(opts.postgresDSN, os.Getenv(envPostgresDSN)), logger)
	if err != nil {
		return err
	}
	defer closeDir()

	mailer := idp.LogMailer{Logger: logger.Named("mailer"), IncludeCode: opts.devMail}
	provider, err := idp.New(cfg, rdb, dir, mailer, nil, idp.WithLogger(logger.Named("idp")))
	if err != nil {
		return err
	}

	server, err := idpserver.New(idpserver.Config{APIKey: apiKey}, provider, logger.Named("http"))
	if err != nil {
		return err
	}
	httpSrv := server.HTTPServer(opts.addr)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("idp listening", zap.String("addr", opts.addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("idp shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMigrate(ctx context.Context, opts *options) error {
	dsn := firstNonEmpty(opts.postgresDSN, os.Getenv(envPostgresDSN))
	if dsn == "" {
		return fmt.Errorf("migrate needs --postgres-dsn or %s", envPostgresDSN)
	}
	db, err := directory.OpenPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return directory.NewPostgres(db).Migrate(ctx)
}

// openRedis connects to addr, or starts an embedded miniredis when addr is
// empty.
func openRedis(addr string, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		logger.Info("using redis", zap.String("addr", addr))
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Warn("using embedded miniredis; codes and limits are lost on restart", zap.String("addr", mr.Addr()))
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openDirectory(ctx context.Context, dsn string, logger *zap.Logger) (directory.Directory, func(), error) {
	if dsn == "" {
		logger.Warn("using in-memory account directory")
		return directory.NewMemory(), func() {}, nil
	}
	db, err := directory.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	pg := directory.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pg, closeDB(db), nil
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
