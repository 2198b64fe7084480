package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPRateLimited        = errors.New("otp rate limited")
	ErrOTPCooldownActive     = errors.New("otp resend cooldown active")
	ErrOTPLimiterUnavailable = errors.New("otp limiter unavailable")
)

// CooldownError reports how long the caller must wait before the next send.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrOTPCooldownActive, e.RetryAfter)
}

func (e *CooldownError) Unwrap() error {
	return ErrOTPCooldownActive
}

// Seconds rounds RetryAfter up to whole seconds, never below one.
func (e *CooldownError) Seconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type OTPConfig struct {
	Prefix           string
	EnableIPThrottle bool
	Window           time.Duration
	MaxRequests      int
	MaxVerifies      int
	ResendCooldown   time.Duration
}

type OTPLimiter struct {
	redis  redis.UniversalClient
	config OTPConfig
}

func NewOTPLimiter(redisClient redis.UniversalClient, cfg OTPConfig) *OTPLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "bba"
	}
	return &OTPLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRequest counts one send request for emailKey and ip.
func (l *OTPLimiter) CheckRequest(ctx context.Context, emailKey, ip string) error {
	if l == nil || l.config.MaxRequests <= 0 {
		return nil
	}
	if err := l.enforceFixedWindow(ctx, l.key("otpr", emailKey), l.config.MaxRequests); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, l.key("otprip", ip), l.config.MaxRequests); err != nil {
			return err
		}
	}
	return nil
}

// CheckVerify counts one verification attempt for emailKey and ip.
func (l *OTPLimiter) CheckVerify(ctx context.Context, emailKey, ip string) error {
	if l == nil || l.config.MaxVerifies <= 0 {
		return nil
	}
	if err := l.enforceFixedWindow(ctx, l.key("otpv", emailKey), l.config.MaxVerifies); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, l.key("otpvip", ip), l.config.MaxVerifies); err != nil {
			return err
		}
	}
	return nil
}

// AcquireCooldown claims the send slot for emailKey. While the slot is held
// it returns a *CooldownError carrying the remaining time.
func (l *OTPLimiter) AcquireCooldown(ctx context.Context, emailKey string) error {
	if l == nil || l.config.ResendCooldown <= 0 {
		return nil
	}
	key := l.key("otpc", emailKey)

	ok, err := l.redis.SetNX(ctx, key, 1, l.config.ResendCooldown).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPLimiterUnavailable, err)
	}
	if ok {
		return nil
	}

	remaining, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPLimiterUnavailable, err)
	}
	if remaining <= 0 {
		remaining = l.config.ResendCooldown
	}
	return &CooldownError{RetryAfter: remaining}
}

// ReleaseCooldown frees the send slot after a delivery that did not happen.
func (l *OTPLimiter) ReleaseCooldown(ctx context.Context, emailKey string) error {
	if l == nil || l.config.ResendCooldown <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.key("otpc", emailKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPLimiterUnavailable, err)
	}
	return nil
}

func (l *OTPLimiter) enforceFixedWindow(ctx context.Context, key string, max int) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrOTPLimiterUnavailable, err)
		}
	}

	if count > int64(max) {
		return ErrOTPRateLimited
	}
	return nil
}

func (l *OTPLimiter) key(kind, id string) string {
	return l.config.Prefix + ":" + kind + ":" + id
}
