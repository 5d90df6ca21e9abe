// Package goSession provides the session and credential lifecycle core: issuance,
// rotation and revocation of first-party bearer tokens, one-time-code password
// recovery, and on-demand refresh-and-cache of a third-party OAuth credential used
// to call an external music API.
//
// Engine methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config], the
// collaborator contracts ([PrincipalStore], [Mailer], [ExternalAPI],
// [CredentialRefresher]) and value types. Flow orchestration, the Redis code store,
// the response cache, rate limiting and audit dispatch live under internal/ and are
// never exported.
//
// # Sessions
//
// A principal has at most one live session. Its session secret is the literal
// renewal token last issued to it; renewal and logout succeed only while the
// presented token still equals that secret, and both swap it with a compare-and-swap
// on the principal record. Access tokens are verified cryptographically and are never
// looked up, so revocation takes effect at the next renewal.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports goSession (no import cycles).
//   - Log tokens, one-time codes, secrets or password hashes.
package goSession
