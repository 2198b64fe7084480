package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrNotConfigured is returned by transports that have no provider endpoint
// or key. Callers surface it as an unavailable auth service.
var ErrNotConfigured = errors.New("identity provider not configured")

// SendRequest asks the provider to deliver a one-time passcode.
type SendRequest struct {
	Email    string
	Username string
	// CreateUser allows the provider to create a pending account for Email.
	CreateUser bool
}

// VerifyRequest submits a one-time passcode for Email.
type VerifyRequest struct {
	Email string
	Token string
}

// Transport is the provider boundary. Implementations return an
// *UpstreamError when the provider answered with a failure and any other
// error for transport-level failures.
//
// A successful VerifyOTP establishes a session that is published to a
// SessionStore rather than returned.
type Transport interface {
	SendOTP(ctx context.Context, req SendRequest) error
	VerifyOTP(ctx context.Context, req VerifyRequest) error
}

// UpstreamError is the opaque error object an identity provider answers with.
type UpstreamError struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("upstream")
	if e.Status != 0 {
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(e.Status))
	}
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// NumericCode returns the numeric code carried by the error. A numeric Code
// wins over Status. Zero means no numeric code is present.
func (e *UpstreamError) NumericCode() int {
	if e == nil {
		return 0
	}
	if n, err := strconv.Atoi(strings.TrimSpace(e.Code)); err == nil {
		return n
	}
	return e.Status
}

// NotConfiguredTransport answers every call with ErrNotConfigured.
type NotConfiguredTransport struct{}

func (NotConfiguredTransport) SendOTP(context.Context, SendRequest) error {
	return ErrNotConfigured
}

func (NotConfiguredTransport) VerifyOTP(context.Context, VerifyRequest) error {
	return ErrNotConfigured
}

// MaskEmail keeps the first character of the local part and the domain so
// addresses can be logged without being disclosed.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
