package briefauth

import "errors"

var (
	// ErrEngineNotReady is returned when a Submitter or Flow is used without
	// the dependencies Build wires in.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrValidation wraps client-side validation failures. The flow exposes
	// the field messages through Snapshot.FieldErrors.
	ErrValidation = errors.New("credentials failed validation")
	// ErrInvalidTransition is returned when an event is not accepted in the
	// current flow state.
	ErrInvalidTransition = errors.New("event not allowed in current flow state")
	// ErrCodeIncomplete is returned when a submitted code does not have
	// exactly Flow.CodeLength digits (6 by default).
	ErrCodeIncomplete = errors.New("verification code incomplete")
	// ErrFlowClosed is returned by every flow operation after Close.
	ErrFlowClosed = errors.New("flow closed")
	// ErrSubmissionFailed is returned by the flow when the submission layer
	// settled with a mapped error. The message is in Snapshot.Outcome.Error.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrUnknownEvent is returned by Dispatch for event types it does not know.
	ErrUnknownEvent = errors.New("unknown flow event")
)
