// Package stores keeps pending one-time passcodes in Redis.
//
// Each address has at most one live record: a versioned binary encoding of
// the owning user id, purpose, attempt count, expiry and the SHA-256 digest
// of the code, written with a TTL. Consume runs as a single Lua script so a
// code is accepted at most once and wrong guesses are counted atomically.
//
// # What this package must NOT do
//
//   - Store or log plaintext codes or addresses.
//   - Generate codes or apply rate limits.
package stores
