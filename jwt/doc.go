// Package jwt issues and verifies the two session token kinds (access and renewal)
// as HS256 JWTs signed with independent secrets.
//
// # Claims
//
// Every token carries the identity triple (id, email, phone), a "typ" claim naming
// its kind, a random "jti" so two tokens issued in the same second never collide,
// plus "iss", "iat" and "exp".
//
// # What this package must NOT do
//
//   - Look up principals or session state. Verification is purely cryptographic.
//   - Import any other goSession package.
package jwt
