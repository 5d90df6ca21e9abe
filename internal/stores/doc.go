// Package stores provides the Redis-backed, short-lived stores used by goSession
// flows: the one-time recovery code store and the upstream response cache.
//
// # Design
//
// Codes are kept as a versioned binary record holding only a SHA-256 digest, under
// "<prefix>:otp:<principalID>" with a TTL. Consume uses a WATCH/MULTI optimistic
// transaction with retry so a code matches at most once. Cached responses are raw
// bytes under "<prefix>:<principalID>:<kind>".
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control only. It does NOT
// generate codes, enforce rate limits, or decide how an outage degrades. Those
// responsibilities belong to the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import goSession or any sibling internal package.
//   - Log or expose plaintext codes.
//   - Use non-constant-time comparisons for code matching.
package stores
