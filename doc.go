// Package briefauth provides passwordless e-mail OTP authentication for The
// Bullish Brief: credential validation, a closed set of user-facing error
// messages, a submission layer around an identity provider, and the
// credentials → otp-entry → authenticated flow controller.
//
// Build an [Engine] through [New] and [Builder.Build], then create a
// [Submitter] or a [Flow] per user interaction. Engine methods are safe to
// call from multiple goroutines.
//
// # Architecture boundaries
//
// briefauth owns validation, error mapping, orchestration, and flow state.
// The provider boundary ([identity.Transport]) and the ambient session
// signal ([identity.SessionStore]) live in package identity so transports
// such as gotrue and idp can implement them without importing briefauth.
//
// # What this package must NOT do
//
//   - Return raw upstream errors to callers. Every failure surfaces as one
//     of the Msg* messages or the dynamic wait message.
//   - Enforce request timeouts. The transport owns them.
//   - Log OTP codes or unmasked e-mail addresses.
//
// # Error mapping
//
// [MapContextualAuthError] checks rate limiting first, then an ordered
// pattern cascade, then falls back on the call context. The provider
// answers a sign-in for an unknown account and a sign-up for a known one
// with the same generic send failure, so the fallback reads that failure as
// "no account" on sign-in and "already registered" on sign-up.
package briefauth
