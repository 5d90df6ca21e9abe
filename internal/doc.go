// Package internal contains helper utilities that are private to goSession:
// one-time code generation and identifier normalization.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function flow orchestrators for every Engine operation
//   - rate: Redis-backed fixed-window rate limiters
//   - stores: Redis-backed one-time code store and response cache
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Be imported by any package outside the goSession module.
package internal
