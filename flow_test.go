package briefauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bullishbrief/briefauth/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	sends    []identity.SendRequest
	verifies []identity.VerifyRequest
	sendFn   func(context.Context, identity.SendRequest) error
	verifyFn func(context.Context, identity.VerifyRequest) error
}

func (f *fakeTransport) SendOTP(ctx context.Context, req identity.SendRequest) error {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, req)
}

func (f *fakeTransport) VerifyOTP(ctx context.Context, req identity.VerifyRequest) error {
	f.mu.Lock()
	f.verifies = append(f.verifies, req)
	fn := f.verifyFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, req)
}

func (f *fakeTransport) sendCalls() []identity.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.SendRequest(nil), f.sends...)
}

func (f *fakeTransport) verifyCalls() []identity.VerifyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.VerifyRequest(nil), f.verifies...)
}

type flowHarness struct {
	transport *fakeTransport
	store     *identity.MemorySessionStore
	notifier  *RecorderNotifier
	engine    *Engine
	flow      *Flow
	successes atomic.Int32
	lastUser  atomic.Pointer[identity.User]
}

func newFlowHarness(t *testing.T, purpose Purpose) *flowHarness {
	t.Helper()
	h := &flowHarness{
		transport: &fakeTransport{},
		store:     identity.NewMemorySessionStore(),
		notifier:  &RecorderNotifier{},
	}
	engine, err := New().
		WithTransport(h.transport).
		WithSessionStore(h.store).
		WithNotifier(h.notifier).
		Build()
	require.NoError(t, err)
	h.engine = engine
	h.flow = engine.NewFlow(purpose, func(u *identity.User) {
		h.lastUser.Store(u)
		h.successes.Add(1)
	})
	t.Cleanup(func() {
		h.flow.Close()
		engine.Close()
	})
	return h
}

func (h *flowHarness) toOTPEntry(t *testing.T, c Credentials) {
	t.Helper()
	require.NoError(t, h.flow.SubmitCredentials(context.Background(), c))
	require.Equal(t, StateOTPEntry, h.flow.Snapshot().State)
}

func testSession(id string) identity.Session {
	return identity.Session{
		AccessToken: "tok-" + id,
		User:        identity.User{ID: id, Email: "reader@example.com"},
	}
}

var signinCreds = Credentials{Email: "reader@example.com"}

func TestFlowStartsInCredentials(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	snap := h.flow.Snapshot()
	assert.Equal(t, StateCredentials, snap.State)
	assert.Equal(t, PurposeSignIn, snap.Purpose)
	assert.Nil(t, snap.Challenge)
	assert.False(t, snap.Busy)
}

// Sign-up with a two-character username fails validation on the username
// field and never reaches the transport.
func TestFlowSignupShortUsernameRejected(t *testing.T) {
	h := newFlowHarness(t, PurposeSignUp)

	err := h.flow.SubmitCredentials(context.Background(), Credentials{Email: "reader@example.com", Username: "ab"})

	require.ErrorIs(t, err, ErrValidation)
	snap := h.flow.Snapshot()
	assert.Equal(t, StateCredentials, snap.State)
	assert.Equal(t, MsgInvalidUsername, snap.FieldErrors[FieldUsername])
	assert.NotContains(t, snap.FieldErrors, FieldEmail)
	assert.Empty(t, h.transport.sendCalls())
	assert.Empty(t, h.notifier.Notifications())
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricValidationRejected])
}

func TestFlowSigninUnknownUserStaysOnCredentials(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.transport.sendFn = func(context.Context, identity.SendRequest) error {
		return &identity.UpstreamError{Message: "User not found"}
	}

	err := h.flow.SubmitCredentials(context.Background(), signinCreds)

	require.ErrorIs(t, err, ErrSubmissionFailed)
	snap := h.flow.Snapshot()
	assert.Equal(t, StateCredentials, snap.State)
	assert.Equal(t, MsgUserNotFound, snap.Outcome.Error)
	assert.Nil(t, snap.Challenge)
	assert.Equal(t, []Notification{{Message: MsgUserNotFound}}, h.notifier.Notifications())
}

func TestFlowSigninDropsUsername(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, Credentials{Email: "reader@example.com", Username: "ignored"})

	assert.Equal(t, []identity.SendRequest{{Email: "reader@example.com"}}, h.transport.sendCalls())
}

func TestFlowSendSuccessIssuesChallenge(t *testing.T) {
	h := newFlowHarness(t, PurposeSignUp)
	h.toOTPEntry(t, Credentials{Email: "reader@example.com", Username: "bull_1"})

	snap := h.flow.Snapshot()
	require.NotNil(t, snap.Challenge)
	assert.Equal(t, "reader@example.com", snap.Challenge.Email)
	assert.Equal(t, "bull_1", snap.Challenge.Username)
	assert.Equal(t, PurposeSignUp, snap.Challenge.Purpose)
	assert.False(t, snap.Challenge.Consumed)
	assert.Equal(t, MsgOTPSent, snap.Outcome.Success)
	assert.Equal(t, []identity.SendRequest{{Email: "reader@example.com", Username: "bull_1", CreateUser: true}}, h.transport.sendCalls())
}

// Resend repeats the send with the same parameters and clears the error
// left by a failed verify.
func TestFlowResendRepeatsSendAndClearsError(t *testing.T) {
	h := newFlowHarness(t, PurposeSignUp)
	creds := Credentials{Email: "reader@example.com", Username: "bull_1"}
	h.toOTPEntry(t, creds)
	first := h.flow.Snapshot().Challenge

	h.transport.verifyFn = func(context.Context, identity.VerifyRequest) error {
		return &identity.UpstreamError{Message: "Token has expired or is invalid"}
	}
	require.ErrorIs(t, h.flow.SubmitCode(context.Background(), "111111"), ErrSubmissionFailed)
	require.Equal(t, MsgExpiredOTP, h.flow.Snapshot().Outcome.Error)

	var seen []Snapshot
	unsubscribe := h.flow.Subscribe(func(s Snapshot) { seen = append(seen, s) })
	defer unsubscribe()

	require.NoError(t, h.flow.Resend(context.Background()))

	calls := h.transport.sendCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])

	snap := h.flow.Snapshot()
	assert.Equal(t, StateOTPEntry, snap.State)
	assert.Empty(t, snap.Outcome.Error)
	assert.Equal(t, MsgOTPSent, snap.Outcome.Success)
	require.NotNil(t, snap.Challenge)
	assert.False(t, snap.Challenge.Consumed)
	assert.False(t, snap.Challenge.IssuedAt.Before(first.IssuedAt))

	require.NotEmpty(t, seen)
	assert.Empty(t, seen[0].Outcome.Error, "error must be cleared as soon as resend starts")
	assert.True(t, seen[0].Busy)
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricFlowResend])
}

func TestFlowResendFailureStaysOnOTPEntry(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)
	h.transport.sendFn = func(context.Context, identity.SendRequest) error {
		return &identity.UpstreamError{Message: "rate limit exceeded", Status: 429}
	}

	err := h.flow.Resend(context.Background())

	require.ErrorIs(t, err, ErrSubmissionFailed)
	snap := h.flow.Snapshot()
	assert.Equal(t, StateOTPEntry, snap.State)
	assert.Equal(t, MsgTooManyRequests, snap.Outcome.Error)
}

func TestFlowBackClearsWithoutTransport(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)

	require.NoError(t, h.flow.Back())

	snap := h.flow.Snapshot()
	assert.Equal(t, StateCredentials, snap.State)
	assert.Nil(t, snap.Challenge)
	assert.Equal(t, Outcome{}, snap.Outcome)
	assert.Equal(t, signinCreds, snap.Credentials)
	assert.Len(t, h.transport.sendCalls(), 1)
	assert.Empty(t, h.transport.verifyCalls())
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricFlowBack])
}

func TestFlowCodeGuard(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)

	for _, code := range []string{"", "12345", "1234567", "12a456", "12 456"} {
		assert.ErrorIs(t, h.flow.SubmitCode(context.Background(), code), ErrCodeIncomplete, "code %q", code)
	}
	assert.Empty(t, h.transport.verifyCalls())
	assert.Equal(t, StateOTPEntry, h.flow.Snapshot().State)
}

func TestFlowVerifyFailureKeepsCode(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)
	h.transport.verifyFn = func(context.Context, identity.VerifyRequest) error {
		return &identity.UpstreamError{Message: "Invalid OTP"}
	}

	err := h.flow.SubmitCode(context.Background(), "123456")

	require.ErrorIs(t, err, ErrSubmissionFailed)
	snap := h.flow.Snapshot()
	assert.Equal(t, StateOTPEntry, snap.State)
	assert.Equal(t, "123456", snap.Code)
	assert.Equal(t, MsgInvalidOTP, snap.Outcome.Error)
	require.NotNil(t, snap.Challenge)
	assert.True(t, snap.Challenge.Consumed)
	assert.Equal(t, 1, snap.Challenge.Attempts)
	assert.Zero(t, h.successes.Load())

	h.store.Publish(testSession("u-1"))
	assert.Zero(t, h.successes.Load(), "a failed verify must not authenticate on a later signal")
}

// Verify resolves first and the session signal follows shortly after; the
// callback fires exactly once.
func TestFlowVerifyThenSignalAuthenticatesOnce(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)

	require.NoError(t, h.flow.SubmitCode(context.Background(), "123456"))
	assert.Equal(t, StateOTPEntry, h.flow.Snapshot().State)
	assert.Equal(t, []identity.VerifyRequest{{Email: "reader@example.com", Token: "123456"}}, h.transport.verifyCalls())

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(10 * time.Millisecond)
		h.store.Publish(testSession("u-1"))
	}()
	<-done

	assert.Equal(t, int32(1), h.successes.Load())
	assert.Equal(t, StateAuthenticated, h.flow.Snapshot().State)
	assert.Equal(t, "u-1", h.lastUser.Load().ID)
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricFlowAuthenticated])
}

// The transport publishes the session before VerifyOTP returns.
func TestFlowSignalDuringVerifyAuthenticatesOnce(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)
	h.transport.verifyFn = func(context.Context, identity.VerifyRequest) error {
		h.store.Publish(testSession("u-1"))
		return nil
	}

	require.NoError(t, h.flow.SubmitCode(context.Background(), "123456"))

	assert.Equal(t, int32(1), h.successes.Load())
	snap := h.flow.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.True(t, snap.Finishing)
	assert.False(t, snap.Busy)
}

func TestFlowSignalChangesAfterFinishDoNotRepeatCallback(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)
	h.store.Publish(testSession("u-1"))
	require.NoError(t, h.flow.SubmitCode(context.Background(), "123456"))
	require.Equal(t, int32(1), h.successes.Load())

	h.store.Publish(testSession("u-2"))
	h.store.Clear()
	h.store.Publish(testSession("u-3"))

	assert.Equal(t, int32(1), h.successes.Load())
	assert.Equal(t, "u-1", h.lastUser.Load().ID)
}

// A reader left in the store by an earlier sign-in must not complete a
// verify for a different address.
func TestFlowVerifyIgnoresStoredUserForOtherAddress(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.store.Publish(identity.Session{
		AccessToken: "tok-old",
		User:        identity.User{ID: "u-old", Email: "previous@example.com"},
	})
	h.toOTPEntry(t, signinCreds)

	require.NoError(t, h.flow.SubmitCode(context.Background(), "123456"))
	assert.Zero(t, h.successes.Load())
	assert.Equal(t, StateOTPEntry, h.flow.Snapshot().State)

	h.store.Publish(testSession("u-1"))
	assert.Equal(t, int32(1), h.successes.Load())
	assert.Equal(t, "u-1", h.lastUser.Load().ID)
}

func TestFlowVerifyAcceptsStoredUserMatchingAddressCaseInsensitively(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, Credentials{Email: "Reader@Example.com"})
	h.store.Publish(testSession("u-1"))

	require.NoError(t, h.flow.SubmitCode(context.Background(), "123456"))
	assert.Equal(t, int32(1), h.successes.Load())
	assert.Equal(t, StateAuthenticated, h.flow.Snapshot().State)
}

func TestFlowConcurrentSignalsFireOnce(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)
	require.NoError(t, h.flow.SubmitCode(context.Background(), "123456"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.store.Publish(testSession("u-1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.successes.Load())
}

func TestFlowSignalBeforeVerifyIsIgnored(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.store.Publish(testSession("u-0"))
	assert.Zero(t, h.successes.Load())

	h.toOTPEntry(t, signinCreds)
	h.store.Publish(testSession("u-0"))
	assert.Zero(t, h.successes.Load())
	assert.Equal(t, StateOTPEntry, h.flow.Snapshot().State)
}

func TestFlowInvalidTransitions(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	ctx := context.Background()

	assert.ErrorIs(t, h.flow.SubmitCode(ctx, "123456"), ErrInvalidTransition)
	assert.ErrorIs(t, h.flow.Resend(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.flow.Back(), ErrInvalidTransition)
	assert.Equal(t, StateCredentials, h.flow.Snapshot().State)

	h.toOTPEntry(t, signinCreds)
	assert.ErrorIs(t, h.flow.SubmitCredentials(ctx, signinCreds), ErrInvalidTransition)

	h.transport.verifyFn = func(context.Context, identity.VerifyRequest) error {
		h.store.Publish(testSession("u-1"))
		return nil
	}
	require.NoError(t, h.flow.SubmitCode(ctx, "123456"))
	require.Equal(t, StateAuthenticated, h.flow.Snapshot().State)

	assert.ErrorIs(t, h.flow.Back(), ErrInvalidTransition)
	assert.ErrorIs(t, h.flow.Resend(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.flow.SubmitCode(ctx, "123456"), ErrInvalidTransition)
	assert.Len(t, h.transport.sendCalls(), 1)
}

// From credentials a single event reaches credentials or otp-entry only.
func TestFlowReachabilityFromCredentials(t *testing.T) {
	outcomes := []error{nil, &identity.UpstreamError{Message: "User not found"}, errors.New("dial tcp: refused")}
	events := []Event{
		SubmitCredentials{Credentials: signinCreds},
		SubmitCredentials{Credentials: Credentials{Email: "bad"}},
		Resend{},
		Back{},
		SubmitCode{Token: "123456"},
	}

	for _, sendErr := range outcomes {
		for _, ev := range events {
			h := newFlowHarness(t, PurposeSignIn)
			h.transport.sendFn = func(context.Context, identity.SendRequest) error { return sendErr }
			h.store.Publish(testSession("u-1"))

			_ = h.flow.Dispatch(context.Background(), ev)

			state := h.flow.Snapshot().State
			assert.Contains(t, []FlowState{StateCredentials, StateOTPEntry}, state, "event %T err %v", ev, sendErr)
			assert.Zero(t, h.successes.Load())
		}
	}
}

func TestFlowDispatchRoutesEvents(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	ctx := context.Background()

	require.NoError(t, h.flow.Dispatch(ctx, &SubmitCredentials{Credentials: signinCreds}))
	require.NoError(t, h.flow.Dispatch(ctx, Resend{}))
	require.NoError(t, h.flow.Dispatch(ctx, Back{}))
	require.NoError(t, h.flow.Dispatch(ctx, SubmitCredentials{Credentials: signinCreds}))
	require.ErrorIs(t, h.flow.Dispatch(ctx, SubmitCode{Token: "1"}), ErrCodeIncomplete)
	require.NoError(t, h.flow.Dispatch(ctx, SubmitCode{Token: "123456"}))
	require.ErrorIs(t, h.flow.Dispatch(ctx, unknownEvent{}), ErrUnknownEvent)
	require.ErrorIs(t, h.flow.Dispatch(ctx, nil), ErrUnknownEvent)
}

type unknownEvent struct{}

func (unknownEvent) flowEvent() {}

func TestFlowCloseDiscardsInFlightSend(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.transport.sendFn = func(context.Context, identity.SendRequest) error {
		close(entered)
		<-release
		return nil
	}

	var published atomic.Int32
	h.flow.Subscribe(func(Snapshot) { published.Add(1) })

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.flow.SubmitCredentials(context.Background(), signinCreds)
	}()
	<-entered
	before := published.Load()

	h.flow.Close()
	close(release)

	require.ErrorIs(t, <-errCh, ErrFlowClosed)
	snap := h.flow.Snapshot()
	assert.Equal(t, StateCredentials, snap.State)
	assert.True(t, snap.Closed)
	assert.Nil(t, snap.Challenge)
	assert.Equal(t, before, published.Load())
	assert.Empty(t, h.notifier.Notifications())
	assert.Len(t, h.transport.sendCalls(), 1, "in-flight call still reaches the provider")
}

func TestFlowCloseDiscardsInFlightVerify(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.toOTPEntry(t, signinCreds)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.transport.verifyFn = func(context.Context, identity.VerifyRequest) error {
		close(entered)
		<-release
		h.store.Publish(testSession("u-1"))
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.flow.SubmitCode(context.Background(), "123456")
	}()
	<-entered
	h.flow.Close()
	close(release)

	require.ErrorIs(t, <-errCh, ErrFlowClosed)
	assert.Zero(t, h.successes.Load())
	assert.Equal(t, StateOTPEntry, h.flow.Snapshot().State)
}

func TestFlowOperationsAfterClose(t *testing.T) {
	h := newFlowHarness(t, PurposeSignIn)
	h.flow.Close()
	h.flow.Close()

	ctx := context.Background()
	assert.ErrorIs(t, h.flow.SubmitCredentials(ctx, signinCreds), ErrFlowClosed)
	assert.ErrorIs(t, h.flow.Dispatch(ctx, Back{}), ErrFlowClosed)
	assert.Empty(t, h.transport.sendCalls())

	called := false
	unsubscribe := h.flow.Subscribe(func(Snapshot) { called = true })
	unsubscribe()
	assert.False(t, called)
}

func TestFlowCustomCodeLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flow.CodeLength = 8
	transport := &fakeTransport{}
	engine, err := New().WithConfig(cfg).WithTransport(transport).Build()
	require.NoError(t, err)
	defer engine.Close()

	flow := engine.NewFlow(PurposeSignIn, nil)
	defer flow.Close()
	require.NoError(t, flow.SubmitCredentials(context.Background(), signinCreds))

	assert.ErrorIs(t, flow.SubmitCode(context.Background(), "123456"), ErrCodeIncomplete)
	assert.NoError(t, flow.SubmitCode(context.Background(), "12345678"))
}

func TestNilEngineFlow(t *testing.T) {
	var e *Engine
	flow := e.NewFlow(PurposeSignIn, nil)
	assert.ErrorIs(t, flow.SubmitCredentials(context.Background(), signinCreds), ErrEngineNotReady)
}
