package idp

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bullishbrief/briefauth/identity"
)

// Message is one code delivery.
type Message struct {
	To        string
	Username  string
	Code      string
	SignUp    bool
	ExpiresIn time.Duration
}

// Mailer delivers codes. An error fails the send with MsgMailFailure.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogMailer writes deliveries to a zap logger instead of sending mail.
// The code is only logged when IncludeCode is set.
type LogMailer struct {
	Logger      *zap.Logger
	IncludeCode bool
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("to", identity.MaskEmail(msg.To)),
		zap.Bool("signup", msg.SignUp),
		zap.Duration("expires_in", msg.ExpiresIn),
	}
	if m.IncludeCode {
		fields = append(fields, zap.String("code", msg.Code))
	}
	logger.Info("verification code issued", fields...)
	return nil
}
