// Command briefauth runs the sign-in and sign-up flows against a
// GoTrue-compatible provider from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bullishbrief/briefauth"
	"github.com/bullishbrief/briefauth/audit/kafka"
	"github.com/bullishbrief/briefauth/internal/logging"
)

type options struct {
	configPath   string
	email        string
	username     string
	logLevel     string
	metrics      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "briefauth",
		Short:        "Sign in or sign up to The Bullish Brief with a one-time passcode",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the engine YAML config")
	root.PersistentFlags().StringVar(&opts.email, "email", "", "e-mail address; prompted when empty")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "overrides logging.level from the config")
	root.PersistentFlags().StringVar(&opts.metrics, "print-metrics", "", "print engine metrics on exit: prometheus or otel")
	root.PersistentFlags().Lookup("print-metrics").NoOptDefVal = metricsPrometheus

	signin := &cobra.Command{
		Use:   "signin",
		Short: "Sign in to an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, briefauth.PurposeSignIn)
		},
	}
	signup := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, briefauth.PurposeSignUp)
		},
	}
	signup.Flags().StringVar(&opts.username, "username", "", "username; prompted when empty")

	root.AddCommand(signin, signup)
	return root
}

func run(cmd *cobra.Command, opts *options, purpose briefauth.Purpose) error {
	switch opts.metrics {
	case "", metricsPrometheus, metricsOTel:
	default:
		return fmt.Errorf("unknown metrics format %q (want %s or %s)", opts.metrics, metricsPrometheus, metricsOTel)
	}
	cfg, err := briefauth.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	engine, closeEngine, err := buildEngine(cmd.Context(), cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeEngine()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	user, err := runFlow(ctx, engine, purpose, cmd.InOrStdin(), cmd.OutOrStdout(), briefauth.Credentials{
		Email:    opts.email,
		Username: opts.username,
	})
	if perr := printMetrics(context.WithoutCancel(ctx), cmd.ErrOrStderr(), engine, opts.metrics); perr != nil {
		logger.Warn("metrics output failed", zap.Error(perr))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in as %s (%s).\n", briefauth.MsgOTPVerified, user.Username, user.Email)
	return nil
}

// buildEngine wires the engine for cfg. Audit events go to Kafka when
// brokers are configured and to auditOut as JSON lines otherwise.
func buildEngine(ctx context.Context, cfg briefauth.Config, logger *zap.Logger, auditOut io.Writer) (*briefauth.Engine, func(), error) {
	builder := briefauth.New().
		WithLogger(logger).
		WithNotifier(briefauth.LogNotifier{Logger: logger.Named("notify")})

	var sink *kafka.Sink
	switch {
	case len(cfg.Audit.Kafka.Brokers) > 0:
		s, err := kafka.NewSink(kafka.Config{
			Brokers:  cfg.Audit.Kafka.Brokers,
			Topic:    cfg.Audit.Kafka.Topic,
			ClientID: "briefauth-cli",
		}, logger.Named("kafka"))
		if err != nil {
			return nil, nil, fmt.Errorf("audit kafka: %w", err)
		}
		sink = s
		cfg.Audit.Enabled = true
		builder.WithAuditSink(sink)
	case cfg.Audit.Enabled:
		builder.WithAuditSink(briefauth.NewJSONWriterSink(auditOut))
	}

	engine, err := builder.WithConfig(cfg).Build()
	if err != nil {
		if sink != nil {
			_ = sink.Close(ctx)
		}
		return nil, nil, err
	}
	return engine, func() {
		engine.Close()
		if sink != nil {
			if err := sink.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("audit kafka flush failed", zap.Error(err))
			}
		}
	}, nil
}
