// Package password implements password hashing and verification with Argon2id defaults,
// plus the account password policy.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.Check] also accepts bcrypt hashes left by older deployments and reports
// needsRehash so the caller can replace them with Argon2id on the next successful
// login. The same flag is raised when the stored Argon2id parameters are weaker than
// the configured ones.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goSession package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
