package idp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bullishbrief/briefauth/directory"
	"github.com/bullishbrief/briefauth/identity"
	"github.com/bullishbrief/briefauth/idp/internal/limiters"
	"github.com/bullishbrief/briefauth/idp/internal/stores"
)

// Provider messages, worded as a GoTrue server words them.
const (
	MsgInvalidEmail       = "Unable to validate email address: invalid format"
	MsgEmailRateLimit     = "email rate limit exceeded"
	MsgRequestRateLimit   = "Request rate limit reached"
	MsgSignupsDisabled    = "Signups not allowed for otp"
	MsgUserExists         = "User already registered"
	MsgGenericSendFailure = "Failed to send verification code"
	MsgMailFailure        = "Error sending magic link"
	MsgTokenInvalid       = "Token has expired or is invalid"
	MsgDatabaseError      = "Database error saving new user"
	MsgServiceUnavailable = "Service temporarily unavailable"

	cooldownMessageFormat = "For security purposes, you can only request this after %d seconds."
)

// Provider error codes.
const (
	CodeEmailInvalid       = "email_address_invalid"
	CodeEmailSendRateLimit = "over_email_send_rate_limit"
	CodeRequestRateLimit   = "over_request_rate_limit"
	CodeOTPDisabled        = "otp_disabled"
	CodeUserAlreadyExists  = "user_already_exists"
	CodeOTPExpired         = "otp_expired"
	CodeUnexpectedFailure  = "unexpected_failure"
	CodeServiceUnavailable = "service_unavailable"
)

var errMailerMissing = errors.New("idp: mailer is nil")

func upstream(status int, code, message string) *identity.UpstreamError {
	return &identity.UpstreamError{Status: status, Code: code, Message: message}
}

func errInvalidEmail() error {
	return upstream(http.StatusBadRequest, CodeEmailInvalid, MsgInvalidEmail)
}

func errCooldown(seconds int) error {
	return upstream(http.StatusTooManyRequests, CodeEmailSendRateLimit, fmt.Sprintf(cooldownMessageFormat, seconds))
}

func errTokenInvalid() error {
	return upstream(http.StatusForbidden, CodeOTPExpired, MsgTokenInvalid)
}

func errUnavailable() error {
	return upstream(http.StatusServiceUnavailable, CodeServiceUnavailable, MsgServiceUnavailable)
}

// mapSendLimiterError translates limiter failures on the send path.
func mapSendLimiterError(err error) error {
	var cd *limiters.CooldownError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cd):
		return errCooldown(cd.Seconds())
	case errors.Is(err, limiters.ErrOTPRateLimited):
		return upstream(http.StatusTooManyRequests, CodeEmailSendRateLimit, MsgEmailRateLimit)
	default:
		return errUnavailable()
	}
}

// mapVerifyLimiterError translates limiter failures on the verify path.
func mapVerifyLimiterError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrOTPRateLimited):
		return upstream(http.StatusTooManyRequests, CodeRequestRateLimit, MsgRequestRateLimit)
	default:
		return errUnavailable()
	}
}

// mapOTPStoreError translates store failures on the verify path. A missing,
// expired, wrong or exhausted code all answer the same way.
func mapOTPStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrOTPNotFound),
		errors.Is(err, stores.ErrOTPSecretMismatch),
		errors.Is(err, stores.ErrOTPAttemptsExceeded):
		return errTokenInvalid()
	default:
		return errUnavailable()
	}
}

// mapDirectoryError translates account store failures.
func mapDirectoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, directory.ErrDuplicate):
		return upstream(http.StatusUnprocessableEntity, CodeUserAlreadyExists, MsgUserExists)
	default:
		return upstream(http.StatusInternalServerError, CodeUnexpectedFailure, MsgDatabaseError)
	}
}
