package briefauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/bullishbrief/briefauth/identity"
)

// ErrorContext names the user-facing flow that produced an upstream error.
type ErrorContext string

const (
	ContextSignIn    ErrorContext = "signin"
	ContextSignUp    ErrorContext = "signup"
	ContextOTPSend   ErrorContext = "otp_send"
	ContextOTPVerify ErrorContext = "otp_verify"
)

var (
	waitSecondsPattern  = regexp.MustCompile(`(\d+)\s*seconds?`)
	retryAfterPattern   = regexp.MustCompile(`after\s+\d+\s*seconds?`)
	dynamicWaitPattern  = regexp.MustCompile(`^Too many attempts\. Please wait \d+ seconds before trying again\.$`)
	rateLimitPhrases    = []string{"rate limit", "too many requests", "for security purposes", "only request this after"}
	rateLimitErrorCodes = []string{"over_email_send_rate_limit", "over_request_rate_limit", "over_sms_send_rate_limit"}
)

// mapRule is one step of the pattern cascade. Rules are evaluated in order
// and the first match decides the message.
type mapRule struct {
	message string
	phrases []string
	codes   []string
	match   func(msg string, status int) bool
}

var mapRules = []mapRule{
	{
		message: MsgUserNotFound,
		phrases: []string{"user not found", "no user found", "user does not exist", "account not found", "signups not allowed"},
		codes:   []string{"user_not_found", "otp_disabled"},
	},
	{
		message: MsgEmailAlreadyRegistered,
		phrases: []string{"already registered", "already exists", "already been registered", "user already", "email_exists"},
		codes:   []string{"user_already_exists", "email_exists", "identity_already_exists"},
	},
	{
		message: MsgExpiredOTP,
		phrases: []string{"expired"},
		codes:   []string{"otp_expired"},
	},
	{
		message: MsgInvalidOTP,
		phrases: []string{"invalid otp", "invalid token", "invalid code", "token is invalid", "code is invalid", "otp is invalid", "incorrect code", "invalid verification"},
	},
	{
		message: MsgEmailNotConfirmed,
		phrases: []string{"email not confirmed", "not confirmed", "confirm your email"},
		codes:   []string{"email_not_confirmed"},
	},
	{
		message: MsgNetworkError,
		phrases: []string{"network", "failed to fetch", "fetch failed", "connection", "timeout", "timed out", "econnrefused", "econnreset", "dial tcp", "no such host"},
	},
	{
		message: MsgServiceUnavailable,
		phrases: []string{"service unavailable", "temporarily unavailable", "bad gateway", "internal server error", "upstream connect error", "maintenance"},
		match: func(_ string, status int) bool {
			return status >= 500
		},
	},
	{
		message: MsgSignupFailed,
		phrases: []string{"database error", "database", "db error"},
		codes:   []string{"unexpected_failure"},
	},
	{
		message: MsgInvalidEmail,
		phrases: []string{"invalid email", "unable to validate email", "email address is invalid", "invalid format"},
		codes:   []string{"email_address_invalid", "invalid_email"},
	},
	{
		message: MsgSignupFailed,
		match: func(msg string, _ int) bool {
			return containsAny(msg, "signup", "sign up", "sign-up") && strings.Contains(msg, "fail")
		},
	},
	{
		message: MsgSigninFailed,
		match: func(msg string, _ int) bool {
			return containsAny(msg, "signin", "sign in", "sign-in", "login", "log in") && strings.Contains(msg, "fail")
		},
	},
	{
		message: MsgOTPSendFailed,
		phrases: []string{"error sending", "smtp", "mail server", "email provider"},
	},
}

func (r mapRule) matches(msg, code string, status int) bool {
	if containsAny(msg, r.phrases...) {
		return true
	}
	for _, c := range r.codes {
		if code == c {
			return true
		}
	}
	return r.match != nil && r.match(msg, status)
}

// MapContextualAuthError turns an upstream error into one user-facing
// message. The result depends only on err and errCtx.
//
// Rate limiting is checked before everything else. When no pattern matches,
// the context decides: the provider answers sign-in for an unknown account
// and sign-up for a known one with the same generic send failure, so a send
// failure on sign-in means the account does not exist and on sign-up that
// it already does.
func MapContextualAuthError(err *identity.UpstreamError, errCtx ErrorContext) string {
	if err == nil {
		return MsgUnexpectedError
	}

	msg := strings.ToLower(strings.TrimSpace(err.Message))
	code := strings.ToLower(strings.TrimSpace(err.Code))
	numeric := err.NumericCode()

	if isRateLimited(msg, code, numeric, err.Status) {
		if m := waitSecondsPattern.FindStringSubmatch(msg); m != nil {
			return waitMessage(m[1])
		}
		return MsgTooManyRequests
	}

	if mapped := mapAuthError(msg, code, err.Status, numeric); mapped != MsgUnexpectedError {
		return mapped
	}

	genericFailure := msg == "" || containsAny(msg, "send", "fail")
	switch errCtx {
	case ContextSignIn:
		if genericFailure {
			return MsgUserNotFound
		}
		return MsgSigninFailed
	case ContextSignUp:
		if genericFailure || containsAny(msg, "duplicate", "already", "exists") {
			return MsgEmailAlreadyRegistered
		}
		return MsgSignupFailed
	case ContextOTPSend:
		return MsgOTPSendFailed
	case ContextOTPVerify:
		return MsgOTPVerifyFailed
	default:
		return MsgUnexpectedError
	}
}

// IsRecoverableError reports whether retrying the same flow can succeed.
// False means the caller should offer the other flow or wait.
func IsRecoverableError(message string) bool {
	switch message {
	case MsgEmailAlreadyRegistered,
		MsgUserNotFound,
		MsgInvalidEmail,
		MsgEmailNotConfirmed,
		MsgTooManyRequests:
		return false
	}
	return !isWaitMessage(message)
}

func isWaitMessage(message string) bool {
	return dynamicWaitPattern.MatchString(message)
}

// ToUpstreamError normalizes any error returned across the transport
// boundary into the upstream shape the mapper understands.
func ToUpstreamError(err error) *identity.UpstreamError {
	if err == nil {
		return nil
	}

	var upstream *identity.UpstreamError
	if errors.As(err, &upstream) && upstream != nil {
		return upstream
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &identity.UpstreamError{Message: "network request timed out"}
	case errors.Is(err, context.Canceled):
		return &identity.UpstreamError{Message: "network request canceled"}
	case errors.As(err, &netErr):
		return &identity.UpstreamError{Message: "network error: " + err.Error()}
	}
	return &identity.UpstreamError{Message: err.Error()}
}

func isRateLimited(msg, code string, numeric, status int) bool {
	if containsAny(msg, rateLimitPhrases...) || retryAfterPattern.MatchString(msg) {
		return true
	}
	if numeric == 429 || status == 429 {
		return true
	}
	for _, c := range rateLimitErrorCodes {
		if code == c {
			return true
		}
	}
	return false
}

func mapAuthError(msg, code string, status, numeric int) string {
	if status == 0 {
		status = numeric
	}
	for _, rule := range mapRules {
		if rule.matches(msg, code, status) {
			return rule.message
		}
	}
	return MsgUnexpectedError
}

func waitMessage(seconds string) string {
	return fmt.Sprintf("Too many attempts. Please wait %s seconds before trying again.", seconds)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
