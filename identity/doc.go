// Package identity defines the boundary between briefauth and an identity
// provider: the [Transport] the submission layer calls, the
// [UpstreamError] shape providers answer with, and the [SessionStore] through
// which an established session becomes observable.
//
// The package is a leaf. It imports nothing from briefauth so that both the
// root package and concrete transports (gotrue, idp) can depend on it.
package identity
