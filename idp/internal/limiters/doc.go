// Package limiters throttles OTP traffic with Redis counters.
//
//   - [OTPLimiter.CheckRequest] and [OTPLimiter.CheckVerify]: fixed-window
//     INCR + EXPIRE per address and, optionally, per client IP.
//   - [OTPLimiter.AcquireCooldown]: one send per address per cooldown,
//     reporting the time left when a send arrives early.
//
// All methods are nil-safe: a nil limiter allows everything.
package limiters
