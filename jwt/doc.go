// Package jwt mints and verifies the access tokens the local identity
// provider hands out when a one-time passcode is accepted.
package jwt
