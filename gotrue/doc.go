// Package gotrue implements identity.Transport against a GoTrue-compatible
// HTTP API (the /auth/v1/otp and /auth/v1/verify endpoints).
//
// Client publishes the session returned by a successful verify to the
// configured identity.SessionPublisher. Provider failures decode into
// *identity.UpstreamError; network failures are returned wrapped.
package gotrue
