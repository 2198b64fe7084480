package briefauth

import (
	"github.com/bullishbrief/briefauth/identity"
	"go.uber.org/zap"
)

// Engine owns the shared dependencies of submitters and flows: the
// transport, the session signal, the notifier, metrics, and audit.
//
// An Engine is safe for concurrent use. Submitters and flows created from it
// hold their own state.
type Engine struct {
	config    Config
	transport identity.Transport
	sessions  identity.SessionStore
	notifier  Notifier
	logger    *zap.Logger
	metrics   *Metrics
	audit     *auditDispatcher
}

// NewSubmitter returns a Submitter with its own Outcome state.
func (e *Engine) NewSubmitter() *Submitter {
	if e == nil {
		return &Submitter{}
	}
	return newSubmitter(e)
}

// NewFlow starts a flow in the credentials state. onSuccess runs at most
// once, on the goroutine that observed the authenticated user.
func (e *Engine) NewFlow(purpose Purpose, onSuccess func(*identity.User)) *Flow {
	if e == nil {
		return &Flow{closed: true}
	}
	return newFlow(e, purpose, e.NewSubmitter(), onSuccess)
}

// Sessions returns the session signal flows observe.
func (e *Engine) Sessions() identity.SessionStore {
	if e == nil {
		return nil
	}
	return e.sessions
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

// Close flushes buffered audit events. Submitters and flows keep working
// after Close but emit no further audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
