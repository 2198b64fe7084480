package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestOTPLimiterRequestWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewOTPLimiter(rdb, OTPConfig{Prefix: "t", Window: time.Minute, MaxRequests: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckRequest(ctx, "addr", ""); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}
	if err := l.CheckRequest(ctx, "addr", ""); !errors.Is(err, ErrOTPRateLimited) {
		t.Fatalf("expected ErrOTPRateLimited, got %v", err)
	}
	if err := l.CheckRequest(ctx, "other", ""); err != nil {
		t.Fatalf("other address must have its own window: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckRequest(ctx, "addr", ""); err != nil {
		t.Fatalf("window must reset after expiry: %v", err)
	}
}

func TestOTPLimiterIPThrottle(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewOTPLimiter(rdb, OTPConfig{Prefix: "t", Window: time.Minute, MaxRequests: 2, EnableIPThrottle: true})
	ctx := context.Background()

	if err := l.CheckRequest(ctx, "a", "10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.CheckRequest(ctx, "b", "10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.CheckRequest(ctx, "c", "10.0.0.1"); !errors.Is(err, ErrOTPRateLimited) {
		t.Fatalf("expected per-IP limit, got %v", err)
	}
	if err := l.CheckRequest(ctx, "c", "10.0.0.2"); err != nil {
		t.Fatalf("different IP must pass: %v", err)
	}
}

func TestOTPLimiterVerifyWindowSeparateFromRequests(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewOTPLimiter(rdb, OTPConfig{Prefix: "t", Window: time.Minute, MaxRequests: 1, MaxVerifies: 2})
	ctx := context.Background()

	if err := l.CheckRequest(ctx, "addr", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := l.CheckVerify(ctx, "addr", ""); err != nil {
			t.Fatalf("verify %d: unexpected error %v", i+1, err)
		}
	}
	if err := l.CheckVerify(ctx, "addr", ""); !errors.Is(err, ErrOTPRateLimited) {
		t.Fatalf("expected ErrOTPRateLimited, got %v", err)
	}
}

func TestOTPLimiterCooldownReportsRemaining(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewOTPLimiter(rdb, OTPConfig{Prefix: "t", ResendCooldown: 60 * time.Second})
	ctx := context.Background()

	if err := l.AcquireCooldown(ctx, "addr"); err != nil {
		t.Fatalf("first send must pass: %v", err)
	}

	mr.FastForward(7 * time.Second)
	err := l.AcquireCooldown(ctx, "addr")
	var cd *CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("expected *CooldownError, got %v", err)
	}
	if !errors.Is(err, ErrOTPCooldownActive) {
		t.Fatalf("CooldownError must unwrap to ErrOTPCooldownActive")
	}
	if got := cd.Seconds(); got != 53 {
		t.Fatalf("expected 53 seconds left, got %d", got)
	}

	if err := l.ReleaseCooldown(ctx, "addr"); err != nil {
		t.Fatalf("ReleaseCooldown: %v", err)
	}
	if err := l.AcquireCooldown(ctx, "addr"); err != nil {
		t.Fatalf("released slot must be acquirable: %v", err)
	}
}

func TestCooldownErrorSecondsRoundsUp(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{in: 0, want: 1},
		{in: 200 * time.Millisecond, want: 1},
		{in: time.Second, want: 1},
		{in: 1500 * time.Millisecond, want: 2},
		{in: 59 * time.Second, want: 59},
	}
	for _, tc := range cases {
		if got := (&CooldownError{RetryAfter: tc.in}).Seconds(); got != tc.want {
			t.Fatalf("Seconds(%v): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestOTPLimiterNilAndDisabled(t *testing.T) {
	var l *OTPLimiter
	ctx := context.Background()
	if err := l.CheckRequest(ctx, "a", "ip"); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}
	if err := l.AcquireCooldown(ctx, "a"); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}

	_, rdb := newTestRedis(t)
	disabled := NewOTPLimiter(rdb, OTPConfig{})
	for i := 0; i < 10; i++ {
		if err := disabled.CheckRequest(ctx, "a", ""); err != nil {
			t.Fatalf("disabled limiter must allow: %v", err)
		}
		if err := disabled.AcquireCooldown(ctx, "a"); err != nil {
			t.Fatalf("disabled cooldown must allow: %v", err)
		}
	}
}

func TestOTPLimiterUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewOTPLimiter(rdb, OTPConfig{Window: time.Minute, MaxRequests: 3, ResendCooldown: time.Minute})
	mr.Close()

	if err := l.CheckRequest(context.Background(), "a", ""); !errors.Is(err, ErrOTPLimiterUnavailable) {
		t.Fatalf("expected ErrOTPLimiterUnavailable, got %v", err)
	}
	if err := l.AcquireCooldown(context.Background(), "a"); !errors.Is(err, ErrOTPLimiterUnavailable) {
		t.Fatalf("expected ErrOTPLimiterUnavailable, got %v", err)
	}
}
