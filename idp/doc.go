// Package idp is a self-hosted OTP identity provider that speaks the same
// error vocabulary as a GoTrue server.
//
// A send validates the address, applies per-address and per-IP windows and
// a resend cooldown, checks the reader directory, then stores the SHA-256
// digest of a fresh code in Redis and hands the plaintext to a Mailer. A
// verify consumes the digest atomically, confirms the account and mints a
// signed access token.
//
// Every failure a caller can see is an *identity.UpstreamError carrying the
// provider message, code and HTTP status, so the client-side mapper treats
// this provider and a hosted one the same way.
//
// # What this package must NOT do
//
//   - Log plaintext codes or full addresses (LogMailer.IncludeCode is for
//     local development only).
//   - Reveal whether an address is registered when EnumerationSafe is set.
package idp
