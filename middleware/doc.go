// Package middleware exposes net/http middleware that authenticates requests with a
// goSession access token.
//
// [RequireAccess] reads the bearer token from the Authorization header, verifies it
// through Engine.Authenticate and injects the resulting [goSession.Claims] into the
// request context, where handlers read them with [ClaimsFromContext].
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly. Verification is delegated to the Engine.
//   - Access Redis or the principal store. Authenticate is stateless.
//   - Make authorization decisions beyond pass or reject.
package middleware
