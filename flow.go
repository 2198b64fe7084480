package briefauth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bullishbrief/briefauth/identity"
	"go.uber.org/zap"
)

// FlowState is the screen a flow is on.
type FlowState string

const (
	StateCredentials   FlowState = "credentials"
	StateOTPEntry      FlowState = "otp-entry"
	StateAuthenticated FlowState = "authenticated"
)

// Purpose selects sign-in or sign-up semantics for a flow.
type Purpose string

const (
	PurposeSignIn Purpose = "signin"
	PurposeSignUp Purpose = "signup"
)

func (p Purpose) isSignUp() bool {
	return p == PurposeSignUp
}

// Challenge is the passcode the provider sent for the current flow. It is
// replaced on resend, dropped on back, and marked consumed on every verify
// attempt.
type Challenge struct {
	Email    string
	Username string
	Purpose  Purpose
	// Token is the last code submitted against the challenge.
	Token    string
	IssuedAt time.Time
	Consumed bool
	Attempts int
}

// Snapshot is a copy of the flow state handed to subscribers.
type Snapshot struct {
	State       FlowState
	Purpose     Purpose
	Credentials Credentials
	FieldErrors FieldErrors
	// Code is the last submitted code. It survives a failed verify.
	Code      string
	Challenge *Challenge
	Outcome   Outcome
	// Busy is true while a send or verify call is in flight.
	Busy      bool
	Finishing bool
	Closed    bool
}

// Event is an input accepted by Flow.Dispatch.
type Event interface {
	flowEvent()
}

// SubmitCredentials validates the credentials and requests a passcode.
type SubmitCredentials struct {
	Credentials Credentials
}

// Resend requests a fresh passcode with the credentials already submitted.
type Resend struct{}

// Back returns to the credentials screen and drops the challenge.
type Back struct{}

// SubmitCode verifies a passcode.
type SubmitCode struct {
	Token string
}

func (SubmitCredentials) flowEvent() {}
func (Resend) flowEvent()            {}
func (Back) flowEvent()              {}
func (SubmitCode) flowEvent()        {}

// Flow drives credentials, otp-entry, and authenticated for one sign-in or
// sign-up attempt.
//
// Authentication is observed on the engine's session signal, not taken from
// the verify result. The first non-nil user seen while a verify is pending
// or after it succeeded moves the flow to authenticated and runs onSuccess.
// That latch is never reset, so onSuccess runs at most once per Flow.
//
// After Close no continuation mutates the flow or calls back.
type Flow struct {
	engine    *Engine
	submitter *Submitter
	purpose   Purpose
	onSuccess func(*identity.User)
	logger    *zap.Logger

	mu          sync.Mutex
	state       FlowState
	creds       Credentials
	fieldErrors FieldErrors
	code        string
	challenge   *Challenge
	sending     bool
	pending     bool
	verified    bool
	finishing   bool
	closed      bool

	nextID             uint64
	listeners          map[uint64]func(Snapshot)
	unsubscribeSession func()
}

func newFlow(e *Engine, purpose Purpose, submitter *Submitter, onSuccess func(*identity.User)) *Flow {
	if purpose != PurposeSignUp {
		purpose = PurposeSignIn
	}
	f := &Flow{
		engine:    e,
		submitter: submitter,
		purpose:   purpose,
		onSuccess: onSuccess,
		logger:    e.logger.Named("flow").With(zap.String("purpose", string(purpose))),
		state:     StateCredentials,
		listeners: make(map[uint64]func(Snapshot)),
	}
	if e.sessions != nil {
		f.unsubscribeSession = e.sessions.Subscribe(f.observeUser)
	}
	return f
}

// Dispatch routes ev to the matching method.
func (f *Flow) Dispatch(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case SubmitCredentials:
		return f.SubmitCredentials(ctx, ev.Credentials)
	case *SubmitCredentials:
		return f.SubmitCredentials(ctx, ev.Credentials)
	case Resend, *Resend:
		return f.Resend(ctx)
	case Back, *Back:
		return f.Back()
	case SubmitCode:
		return f.SubmitCode(ctx, ev.Token)
	case *SubmitCode:
		return f.SubmitCode(ctx, ev.Token)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// SubmitCredentials validates c and, when valid, asks the provider for a
// passcode. The flow moves to otp-entry only when the send succeeds.
//
// Invalid credentials return an error wrapping ErrValidation and make no
// transport call. A failed send returns an error wrapping
// ErrSubmissionFailed; the mapped message is in Snapshot.Outcome.Error.
func (f *Flow) SubmitCredentials(ctx context.Context, c Credentials) error {
	f.mu.Lock()
	if err := f.guardLocked(StateCredentials); err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.purpose.isSignUp() {
		c.Username = ""
	}
	f.creds = c

	if fieldErrors := ValidateForm(c, f.purpose.isSignUp()); !fieldErrors.Valid() {
		f.fieldErrors = fieldErrors
		f.mu.Unlock()
		f.engine.metricInc(MetricValidationRejected)
		f.logger.Debug("credentials rejected", zap.Int("fields", len(fieldErrors)))
		f.publish()
		return fmt.Errorf("%w: %v", ErrValidation, map[string]string(fieldErrors))
	}
	f.fieldErrors = nil
	f.sending = true
	f.mu.Unlock()

	f.submitter.reset()
	f.publish()

	res := f.submitter.SendOTP(ctx, c.Email, f.purpose.isSignUp(), c.Username)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	f.sending = false
	if res.Success {
		f.state = StateOTPEntry
		f.code = ""
		f.verified = false
		f.challenge = f.newChallengeLocked()
	}
	f.mu.Unlock()

	f.publish()
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrSubmissionFailed, res.Error)
	}
	f.logger.Debug("flow entered otp entry")
	return nil
}

// Resend repeats the send with the submitted credentials. The flow stays in
// otp-entry whatever the result; a successful send replaces the challenge.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if err := f.guardLocked(StateOTPEntry); err != nil {
		f.mu.Unlock()
		return err
	}
	c := f.creds
	f.sending = true
	f.mu.Unlock()

	f.engine.metricInc(MetricFlowResend)
	f.submitter.reset()
	f.publish()

	res := f.submitter.SendOTP(ctx, c.Email, f.purpose.isSignUp(), c.Username)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	f.sending = false
	if res.Success {
		f.challenge = f.newChallengeLocked()
	}
	f.mu.Unlock()

	f.publish()
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrSubmissionFailed, res.Error)
	}
	return nil
}

// Back returns to credentials without a transport call. Error and success
// messages are cleared and the challenge is dropped; the credentials are
// kept for editing.
func (f *Flow) Back() error {
	f.mu.Lock()
	if err := f.guardLocked(StateOTPEntry); err != nil {
		f.mu.Unlock()
		return err
	}
	f.state = StateCredentials
	f.challenge = nil
	f.code = ""
	f.verified = false
	f.mu.Unlock()

	f.engine.metricInc(MetricFlowBack)
	f.submitter.reset()
	f.publish()
	return nil
}

// SubmitCode verifies token. A token that is not exactly the configured
// number of digits returns ErrCodeIncomplete without a transport call.
//
// A nil return means the provider accepted the code. The flow reaches
// authenticated once the session signal reports the user, which may happen
// before or after SubmitCode returns.
func (f *Flow) SubmitCode(ctx context.Context, token string) error {
	f.mu.Lock()
	if err := f.guardLocked(StateOTPEntry); err != nil {
		f.mu.Unlock()
		return err
	}
	if !isCompleteCode(token, f.engine.config.Flow.CodeLength) {
		f.mu.Unlock()
		return ErrCodeIncomplete
	}
	f.code = token
	f.pending = true
	email := f.creds.Email
	if f.challenge != nil {
		email = f.challenge.Email
		f.challenge.Token = token
		f.challenge.Consumed = true
		f.challenge.Attempts++
	}
	f.mu.Unlock()

	f.publish()

	res := f.submitter.VerifyOTP(ctx, email, token)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	f.pending = false
	if f.state == StateAuthenticated {
		f.mu.Unlock()
		f.publish()
		return nil
	}
	if res.Success {
		f.verified = true
	}
	f.mu.Unlock()

	f.publish()
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrSubmissionFailed, res.Error)
	}

	// The store may still hold a reader from an earlier sign-in; only a
	// session for the address just verified counts.
	if f.engine.sessions != nil {
		if user := f.engine.sessions.CurrentUser(); user != nil && sameAddress(user.Email, email) {
			f.observeUser(user)
		}
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Subscribe registers listener for every state change. The returned
// function removes it and may be called more than once.
func (f *Flow) Subscribe(listener func(Snapshot)) func() {
	if listener == nil {
		return func() {}
	}

	f.mu.Lock()
	if f.closed || f.listeners == nil {
		f.mu.Unlock()
		return func() {}
	}
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

// Close detaches the flow. Calls in flight still reach the provider, but
// their results are discarded. Close is idempotent.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.listeners = nil
	unsubscribe := f.unsubscribeSession
	f.unsubscribeSession = nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if f.submitter != nil {
		f.submitter.detach()
	}
}

// observeUser is the session-signal listener. It also runs once after a
// successful verify, for the stored user of the verified address, in case
// the signal fired before the flow was pending.
func (f *Flow) observeUser(user *identity.User) {
	if user == nil {
		return
	}

	f.mu.Lock()
	if f.closed || f.finishing || f.state != StateOTPEntry || !(f.pending || f.verified) {
		f.mu.Unlock()
		return
	}
	f.finishing = true
	f.state = StateAuthenticated
	email := f.creds.Email
	callback := f.onSuccess
	f.mu.Unlock()

	f.engine.metricInc(MetricFlowAuthenticated)
	f.engine.emitAudit(context.Background(), AuditEventFlowAuthenticated, true, user.ID, email, "", "", func() map[string]string {
		return map[string]string{"purpose": string(f.purpose)}
	})
	f.logger.Info("flow authenticated", zap.String("user_id", user.ID))

	f.publish()
	if callback != nil {
		u := *user
		callback(&u)
	}
}

func (f *Flow) guardLocked(want FlowState) error {
	if f.engine == nil {
		return ErrEngineNotReady
	}
	if f.closed {
		return ErrFlowClosed
	}
	if f.state != want || f.sending || f.pending {
		return ErrInvalidTransition
	}
	return nil
}

func (f *Flow) newChallengeLocked() *Challenge {
	return &Challenge{
		Email:    f.creds.Email,
		Username: f.creds.Username,
		Purpose:  f.purpose,
		IssuedAt: time.Now(),
	}
}

func (f *Flow) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       f.state,
		Purpose:     f.purpose,
		Credentials: f.creds,
		Code:        f.code,
		Busy:        f.sending || f.pending,
		Finishing:   f.finishing,
		Closed:      f.closed,
	}
	if len(f.fieldErrors) > 0 {
		snap.FieldErrors = make(FieldErrors, len(f.fieldErrors))
		for k, v := range f.fieldErrors {
			snap.FieldErrors[k] = v
		}
	}
	if f.challenge != nil {
		c := *f.challenge
		snap.Challenge = &c
	}
	if f.submitter != nil {
		snap.Outcome = f.submitter.Outcome()
	}
	return snap
}

func (f *Flow) publish() {
	f.mu.Lock()
	if f.closed || len(f.listeners) == 0 {
		f.mu.Unlock()
		return
	}
	snap := f.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func isCompleteCode(token string, length int) bool {
	if length <= 0 {
		length = 6
	}
	if len(token) != length {
		return false
	}
	for i := 0; i < len(token); i++ {
		if token[i] < '0' || token[i] > '9' {
			return false
		}
	}
	return true
}
