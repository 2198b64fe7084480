package briefauth

import (
	"errors"

	"github.com/bullishbrief/briefauth/gotrue"
	"github.com/bullishbrief/briefauth/identity"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single use: Build fails on the
// second call.
type Builder struct {
	config Config

	transport identity.Transport
	sessions  identity.SessionStore
	notifier  Notifier
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTransport injects the identity provider transport. Without it Build
// wires a gotrue client from Config.Provider, or an unconfigured transport
// when no provider is set.
func (b *Builder) WithTransport(t identity.Transport) *Builder {
	b.transport = t
	return b
}

// WithSessionStore injects the ambient session signal flows observe. The
// default is an identity.MemorySessionStore.
func (b *Builder) WithSessionStore(s identity.SessionStore) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the sink behind the async audit dispatcher. It has no
// effect unless Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
//
// Build fails when the configuration is invalid, when the Builder was
// already used, or when a gotrue client must be wired but the session
// store cannot accept published sessions.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = NoOpNotifier{}
	}

	// -------- SESSION STORE --------
	sessions := b.sessions
	if sessions == nil {
		sessions = identity.NewMemorySessionStore()
	}

	// -------- TRANSPORT --------
	transport := b.transport
	if transport == nil {
		switch {
		case cfg.Provider.Configured():
			publisher, ok := sessions.(identity.SessionPublisher)
			if !ok {
				return nil, errors.New("session store must implement identity.SessionPublisher to use the gotrue transport")
			}
			client, err := gotrue.NewClient(gotrue.Config{
				URL:     cfg.Provider.URL,
				APIKey:  cfg.Provider.APIKey,
				Timeout: cfg.Provider.Timeout,
			}, publisher, gotrue.WithLogger(logger.Named("gotrue")))
			if err != nil {
				return nil, err
			}
			transport = client
		default:
			logger.Warn("identity provider not configured; every submission will report the auth service as unavailable")
			transport = identity.NotConfiguredTransport{}
		}
	}

	// -------- METRICS & AUDIT --------
	metrics := NewMetrics(cfg.Metrics)
	audit := newAuditDispatcher(cfg.Audit, b.auditSink, logger.Named("audit"))

	b.built = true

	return &Engine{
		config:    cfg,
		transport: transport,
		sessions:  sessions,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		audit:     audit,
	}, nil
}
