package briefauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bullishbrief/briefauth/identity"
	"go.uber.org/zap"
)

// Outcome is the transient state of a Submitter. After a call settles
// exactly one of Error and Success is non-empty; both are cleared when the
// next call starts.
type Outcome struct {
	IsLoading bool
	Error     string
	Success   string
}

// Result is returned by every Submitter call.
type Result struct {
	Success bool
	Error   string
}

// Submitter wraps each transport call with loading, mapped-error, and
// success state, and emits exactly one notification per call.
//
// Calls run the transport on the caller's goroutine without holding the
// Submitter lock. Concurrent calls are not de-duplicated; callers disable
// their controls while Outcome().IsLoading is true.
type Submitter struct {
	engine *Engine
	logger *zap.Logger

	mu        sync.Mutex
	outcome   Outcome
	detached  bool
	nextID    uint64
	listeners map[uint64]func(Outcome)
}

func newSubmitter(e *Engine) *Submitter {
	return &Submitter{
		engine:    e,
		logger:    e.logger.Named("submitter"),
		listeners: make(map[uint64]func(Outcome)),
	}
}

// Outcome returns the current state.
func (s *Submitter) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Subscribe registers listener for every Outcome change. The returned
// function removes it and may be called more than once.
func (s *Submitter) Subscribe(listener func(Outcome)) func() {
	if listener == nil {
		return func() {}
	}

	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[uint64]func(Outcome))
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SendOTP asks the provider for a passcode. Failures are mapped with the
// signup context when isSignUp is set and the signin context otherwise.
func (s *Submitter) SendOTP(ctx context.Context, email string, isSignUp bool, username string) Result {
	errCtx := ContextSignIn
	if isSignUp {
		errCtx = ContextSignUp
	}
	if s.engine == nil {
		return Result{Error: MsgAuthServiceUnavailable}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.begin()

	req := identity.SendRequest{
		Email:      email,
		Username:   username,
		CreateUser: isSignUp,
	}
	start := time.Now()
	err := s.invoke(func() error {
		return s.engine.transport.SendOTP(ctx, req)
	})
	s.engine.metrics.Observe(MetricSendLatency, time.Since(start))

	purpose := map[string]string{"purpose": string(errCtx)}
	if err != nil {
		mapped := s.mapError(err, errCtx)
		s.engine.metricInc(MetricOTPSendFailure)
		s.countFailure(mapped)
		s.engine.emitAudit(ctx, AuditEventOTPSend, false, "", email, errCtx, mapped, func() map[string]string { return purpose })
		s.logger.Warn("otp send failed",
			zap.String("context", string(errCtx)),
			zap.String("email", identity.MaskEmail(email)),
			zap.String("mapped", mapped),
			zap.Error(err))
		return s.fail(mapped)
	}

	s.engine.metricInc(MetricOTPSendSuccess)
	s.engine.emitAudit(ctx, AuditEventOTPSend, true, "", email, errCtx, "", func() map[string]string { return purpose })
	s.logger.Info("otp sent",
		zap.String("context", string(errCtx)),
		zap.String("email", identity.MaskEmail(email)))
	return s.succeed(MsgOTPSent)
}

// VerifyOTP submits token for email. Failures are mapped with the
// otp_verify context. A successful verify publishes the session through
// the transport; the result itself carries no user.
func (s *Submitter) VerifyOTP(ctx context.Context, email, token string) Result {
	if s.engine == nil {
		return Result{Error: MsgAuthServiceUnavailable}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.begin()

	req := identity.VerifyRequest{Email: email, Token: token}
	start := time.Now()
	err := s.invoke(func() error {
		return s.engine.transport.VerifyOTP(ctx, req)
	})
	s.engine.metrics.Observe(MetricVerifyLatency, time.Since(start))

	if err != nil {
		mapped := s.mapError(err, ContextOTPVerify)
		s.engine.metricInc(MetricOTPVerifyFailure)
		s.countFailure(mapped)
		s.engine.emitAudit(ctx, AuditEventOTPVerify, false, "", email, ContextOTPVerify, mapped, nil)
		s.logger.Warn("otp verify failed",
			zap.String("email", identity.MaskEmail(email)),
			zap.String("mapped", mapped),
			zap.Error(err))
		return s.fail(mapped)
	}

	var userID string
	if s.engine.sessions != nil {
		if u := s.engine.sessions.CurrentUser(); u != nil {
			userID = u.ID
		}
	}
	s.engine.metricInc(MetricOTPVerifySuccess)
	s.engine.emitAudit(ctx, AuditEventOTPVerify, true, userID, email, ContextOTPVerify, "", nil)
	s.logger.Info("otp verified",
		zap.String("email", identity.MaskEmail(email)),
		zap.String("user_id", userID))
	return s.succeed(MsgOTPVerified)
}

// reset clears Error and Success without touching IsLoading.
func (s *Submitter) reset() {
	s.mu.Lock()
	if s.outcome.Error == "" && s.outcome.Success == "" {
		s.mu.Unlock()
		return
	}
	s.outcome.Error = ""
	s.outcome.Success = ""
	out, listeners := s.outcome, s.snapshotListeners()
	s.mu.Unlock()

	notifyOutcome(listeners, out)
}

// detach stops all later state changes and notifications. Calls already
// in flight still complete at the transport.
func (s *Submitter) detach() {
	s.mu.Lock()
	s.detached = true
	s.listeners = nil
	s.mu.Unlock()
}

func (s *Submitter) begin() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.outcome = Outcome{IsLoading: true}
	out, listeners := s.outcome, s.snapshotListeners()
	s.mu.Unlock()

	notifyOutcome(listeners, out)
}

func (s *Submitter) fail(message string) Result {
	if !s.settle(Outcome{Error: message}) {
		return Result{Error: message}
	}
	s.engine.notifier.Error(message)
	return Result{Error: message}
}

func (s *Submitter) succeed(message string) Result {
	if s.settle(Outcome{Success: message}) {
		s.engine.notifier.Success(message)
	}
	return Result{Success: true}
}

// settle stores out and reports whether the Submitter is still attached.
func (s *Submitter) settle(out Outcome) bool {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return false
	}
	s.outcome = out
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notifyOutcome(listeners, out)
	return true
}

func (s *Submitter) snapshotListeners() []func(Outcome) {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]func(Outcome), 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func notifyOutcome(listeners []func(Outcome), out Outcome) {
	for _, l := range listeners {
		l(out)
	}
}

// invoke runs fn and converts a panic into an error so it settles like
// any other failure.
func (s *Submitter) invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.engine.metricInc(MetricTransportPanic)
			s.logger.Error("transport panicked", zap.Any("panic", r))
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return fn()
}

func (s *Submitter) mapError(err error, errCtx ErrorContext) string {
	if errors.Is(err, identity.ErrNotConfigured) {
		return MsgAuthServiceUnavailable
	}
	return MapContextualAuthError(ToUpstreamError(err), errCtx)
}

func (s *Submitter) countFailure(mapped string) {
	switch {
	case mapped == MsgTooManyRequests, isWaitMessage(mapped):
		s.engine.metricInc(MetricRateLimited)
	case mapped == MsgServiceUnavailable, mapped == MsgAuthServiceUnavailable:
		s.engine.metricInc(MetricServiceUnavailable)
	}
}
