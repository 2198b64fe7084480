package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bullishbrief/briefauth/directory"
	"github.com/bullishbrief/briefauth/identity"
	"github.com/bullishbrief/briefauth/idp/internal"
	"github.com/bullishbrief/briefauth/idp/internal/limiters"
	"github.com/bullishbrief/briefauth/idp/internal/stores"
	"github.com/bullishbrief/briefauth/jwt"
)

const maxEmailLength = 254

// Provider issues and verifies one-time passcodes.
type Provider struct {
	cfg     Config
	otps    *stores.OTPStore
	limiter *limiters.OTPLimiter
	dir     directory.Directory
	mailer  Mailer
	tokens  *jwt.Manager
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the clock used for record expiry and confirmation times.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a Provider. A nil tokens manager is built from cfg.Session.
func New(cfg Config, rdb redis.UniversalClient, dir directory.Directory, mailer Mailer, tokens *jwt.Manager, opts ...Option) (*Provider, error) {
	if err := cfg.validatePolicy(); err != nil {
		return nil, err
	}
	if rdb == nil {
		return nil, errors.New("idp: redis client is nil")
	}
	if dir == nil {
		return nil, errors.New("idp: directory is nil")
	}
	if mailer == nil {
		return nil, errMailerMissing
	}
	if tokens == nil {
		m, err := cfg.TokenManager()
		if err != nil {
			return nil, fmt.Errorf("idp: %w", err)
		}
		tokens = m
	}

	p := &Provider{
		cfg:    cfg,
		otps:   stores.NewOTPStore(rdb, cfg.RedisPrefix),
		dir:    dir,
		mailer: mailer,
		tokens: tokens,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	p.limiter = limiters.NewOTPLimiter(rdb, limiters.OTPConfig{
		Prefix:           cfg.RedisPrefix,
		EnableIPThrottle: cfg.Limits.EnableIPThrottle,
		Window:           cfg.Limits.Window,
		MaxRequests:      cfg.Limits.MaxRequests,
		MaxVerifies:      cfg.Limits.MaxVerifies,
		ResendCooldown:   cfg.OTP.ResendCooldown,
	})
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Tokens returns the manager that signs and verifies access tokens.
func (p *Provider) Tokens() *jwt.Manager {
	return p.tokens
}

/*
====================================
SEND
====================================
*/

// SendOTP issues a fresh code for req.Email. The client IP, when present
// in ctx, feeds the per-IP window.
func (p *Provider) SendOTP(ctx context.Context, req identity.SendRequest) error {
	email := strings.TrimSpace(req.Email)
	if !validEmail(email) {
		return errInvalidEmail()
	}
	key := internal.EmailKey(email)
	masked := identity.MaskEmail(email)

	if err := p.limiter.CheckRequest(ctx, key, identity.ClientIPFromContext(ctx)); err != nil {
		p.logLimiter("otp send throttled", masked, err)
		return mapSendLimiterError(err)
	}
	if err := p.limiter.AcquireCooldown(ctx, key); err != nil {
		p.logLimiter("otp send in cooldown", masked, err)
		return mapSendLimiterError(err)
	}

	user, refused, err := p.resolveUser(ctx, email, req)
	if err != nil {
		if !refused {
			p.releaseCooldown(ctx, key)
		}
		return err
	}

	code, err := internal.NewOTP(p.cfg.OTP.Digits)
	if err != nil {
		p.releaseCooldown(ctx, key)
		p.logger.Error("otp generation failed", zap.Error(err))
		return upstream(http.StatusInternalServerError, CodeUnexpectedFailure, MsgMailFailure)
	}

	purpose := stores.PurposeSignIn
	if req.CreateUser {
		purpose = stores.PurposeSignUp
	}
	record := &stores.OTPRecord{
		UserID:     user.ID,
		Purpose:    purpose,
		ExpiresAt:  p.now().Add(p.cfg.OTP.TTL).Unix(),
		SecretHash: internal.HashOTP(email, code),
	}
	if err := p.otps.Save(ctx, key, record, p.cfg.OTP.TTL); err != nil {
		p.releaseCooldown(ctx, key)
		p.logger.Warn("otp store unavailable", zap.String("email", masked), zap.Error(err))
		return errUnavailable()
	}

	msg := Message{
		To:        email,
		Username:  user.Username,
		Code:      code,
		SignUp:    req.CreateUser,
		ExpiresIn: p.cfg.OTP.TTL,
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		_ = p.otps.Delete(ctx, key)
		p.releaseCooldown(ctx, key)
		p.logger.Warn("otp delivery failed", zap.String("email", masked), zap.Error(err))
		return upstream(http.StatusInternalServerError, CodeUnexpectedFailure, MsgMailFailure)
	}

	p.logger.Info("otp issued",
		zap.String("email", masked),
		zap.Bool("signup", req.CreateUser),
		zap.Duration("ttl", p.cfg.OTP.TTL))
	return nil
}

// resolveUser finds or creates the account a send is for. A sign-up for a
// confirmed account and a sign-in for an unknown one are refused; a sign-up
// for a pending account reissues its code. refused is false when the
// directory itself failed.
func (p *Provider) resolveUser(ctx context.Context, email string, req identity.SendRequest) (user directory.User, refused bool, err error) {
	user, err = p.dir.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		if !req.CreateUser {
			return directory.User{}, true, p.refuse(upstream(http.StatusUnprocessableEntity, CodeOTPDisabled, MsgSignupsDisabled))
		}
	case err != nil:
		p.logger.Warn("directory lookup failed", zap.Error(err))
		return directory.User{}, false, mapDirectoryError(err)
	case req.CreateUser && user.Confirmed():
		return directory.User{}, true, p.refuse(upstream(http.StatusUnprocessableEntity, CodeUserAlreadyExists, MsgUserExists))
	default:
		return user, false, nil
	}

	user, err = p.dir.Create(ctx, email, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, directory.ErrDuplicate) {
			return directory.User{}, true, p.refuse(mapDirectoryError(err))
		}
		p.logger.Warn("directory create failed", zap.Error(err))
		return directory.User{}, false, mapDirectoryError(err)
	}
	p.logger.Info("pending account created", zap.String("user_id", user.ID))
	return user, false, nil
}

// refuse hides account existence when EnumerationSafe is set.
func (p *Provider) refuse(err error) error {
	if p.cfg.EnumerationSafe {
		return upstream(http.StatusBadRequest, "", MsgGenericSendFailure)
	}
	return err
}

/*
====================================
VERIFY
====================================
*/

// VerifyOTP consumes the pending code for req.Email and returns the
// session it establishes.
func (p *Provider) VerifyOTP(ctx context.Context, req identity.VerifyRequest) (identity.Session, error) {
	email := strings.TrimSpace(req.Email)
	if !validEmail(email) {
		return identity.Session{}, errInvalidEmail()
	}
	key := internal.EmailKey(email)
	masked := identity.MaskEmail(email)

	if err := p.limiter.CheckVerify(ctx, key, identity.ClientIPFromContext(ctx)); err != nil {
		p.logLimiter("otp verify throttled", masked, err)
		return identity.Session{}, mapVerifyLimiterError(err)
	}

	token := strings.TrimSpace(req.Token)
	if !wellFormedCode(token, p.cfg.OTP.Digits) {
		return identity.Session{}, errTokenInvalid()
	}

	record, err := p.otps.Consume(ctx, key, internal.HashOTP(email, token), p.cfg.OTP.MaxAttempts, p.now())
	if err != nil {
		if errors.Is(err, stores.ErrOTPRedisUnavailable) {
			p.logger.Warn("otp store unavailable", zap.String("email", masked), zap.Error(err))
		} else {
			p.logger.Info("otp rejected", zap.String("email", masked), zap.Error(err))
		}
		return identity.Session{}, mapOTPStoreError(err)
	}

	user, err := p.dir.Confirm(ctx, record.UserID, p.now())
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return identity.Session{}, errTokenInvalid()
		}
		p.logger.Warn("directory confirm failed", zap.Error(err))
		return identity.Session{}, mapDirectoryError(err)
	}

	access, expiresAt, err := p.tokens.CreateAccess(user.ID, user.Email, user.Username)
	if err != nil {
		p.logger.Error("access token signing failed", zap.Error(err))
		return identity.Session{}, upstream(http.StatusInternalServerError, CodeUnexpectedFailure, MsgServiceUnavailable)
	}

	p.logger.Info("otp verified",
		zap.String("email", masked),
		zap.String("user_id", user.ID),
		zap.Bool("signup", record.Purpose == stores.PurposeSignUp))

	return identity.Session{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User: identity.User{
			ID:       user.ID,
			Email:    user.Email,
			Username: user.Username,
		},
	}, nil
}

/*
====================================
HELPERS
====================================
*/

func (p *Provider) releaseCooldown(ctx context.Context, key string) {
	if err := p.limiter.ReleaseCooldown(ctx, key); err != nil {
		p.logger.Warn("cooldown release failed", zap.Error(err))
	}
}

func (p *Provider) logLimiter(msg, masked string, err error) {
	if errors.Is(err, limiters.ErrOTPLimiterUnavailable) {
		p.logger.Warn("otp limiter unavailable", zap.String("email", masked), zap.Error(err))
		return
	}
	p.logger.Info(msg, zap.String("email", masked))
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

func wellFormedCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
