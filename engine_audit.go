package briefauth

import (
	"context"
	"time"

	"github.com/bullishbrief/briefauth/identity"
)

// AuditErrorCode is the machine-readable failure class recorded in
// AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrRateLimited   AuditErrorCode = "rate_limited"
	auditErrUserNotFound  AuditErrorCode = "user_not_found"
	auditErrDuplicate     AuditErrorCode = "duplicate"
	auditErrInvalidOTP    AuditErrorCode = "invalid_otp"
	auditErrExpiredOTP    AuditErrorCode = "expired_otp"
	auditErrUnconfirmed   AuditErrorCode = "email_not_confirmed"
	auditErrInvalidEmail  AuditErrorCode = "invalid_email"
	auditErrNetwork       AuditErrorCode = "network"
	auditErrUnavailable   AuditErrorCode = "backend_unavailable"
	auditErrNotConfigured AuditErrorCode = "not_configured"
	auditErrSendFailed    AuditErrorCode = "send_failed"
	auditErrVerifyFailed  AuditErrorCode = "verify_failed"
	auditErrSignupFailed  AuditErrorCode = "signup_failed"
	auditErrSigninFailed  AuditErrorCode = "signin_failed"
	auditErrInternal      AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	email string,
	errCtx ErrorContext,
	mapped string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if reqID := identity.RequestIDFromContext(ctx); reqID != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = reqID
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Email:     identity.MaskEmail(email),
		Context:   string(errCtx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(mapped); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode classifies a mapped user-facing message. An empty
// message means success and yields no code.
func auditErrorCode(mapped string) AuditErrorCode {
	if mapped == "" {
		return ""
	}
	if isWaitMessage(mapped) {
		return auditErrRateLimited
	}

	switch mapped {
	case MsgTooManyRequests:
		return auditErrRateLimited
	case MsgUserNotFound:
		return auditErrUserNotFound
	case MsgEmailAlreadyRegistered, MsgUserAlreadyExists:
		return auditErrDuplicate
	case MsgInvalidOTP, MsgInvalidCredentials:
		return auditErrInvalidOTP
	case MsgExpiredOTP:
		return auditErrExpiredOTP
	case MsgEmailNotConfirmed:
		return auditErrUnconfirmed
	case MsgInvalidEmail:
		return auditErrInvalidEmail
	case MsgNetworkError:
		return auditErrNetwork
	case MsgServiceUnavailable:
		return auditErrUnavailable
	case MsgAuthServiceUnavailable:
		return auditErrNotConfigured
	case MsgOTPSendFailed:
		return auditErrSendFailed
	case MsgOTPVerifyFailed:
		return auditErrVerifyFailed
	case MsgSignupFailed:
		return auditErrSignupFailed
	case MsgSigninFailed:
		return auditErrSigninFailed
	default:
		return auditErrInternal
	}
}
