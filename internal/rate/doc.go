// Package rate provides Redis-backed fixed-window limiters for the login and
// recovery flows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys live under
// "<prefix>:rl:":
//   - login:<identifier>: failed logins per identifier
//   - register:<ip|email>: registration attempts
//   - recover:<email>: recovery requests per e-mail address
//   - reset:<principalID>: failed recovery completions per principal
//
// Every method is nil-receiver safe and treats a zero Max as "limit disabled".
//
// # What this package must NOT do
//
//   - Decide how a Redis outage degrades. It reports ErrRedisUnavailable and the
//     flow functions choose to fail open.
//   - Be imported outside the goSession module.
package rate
