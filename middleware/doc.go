// Package middleware guards HTTP handlers with the access tokens the local
// identity provider mints on a successful verify.
//
// [RequireSession] reads the bearer token, verifies it with a
// [TokenVerifier] such as *jwt.Manager and stores the reader in the request
// context, where [UserFromContext] finds it. Verification is stateless: no
// Redis or directory call is made.
package middleware
