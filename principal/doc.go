// Package principal groups the goSession PrincipalStore implementations.
//
//   - memory: mutex-guarded maps for tests and the --dev server.
//   - postgres: pgx over a caller-owned pool; CAS via conditional UPDATE.
//   - bolt: embedded bbolt file with email and phone index buckets.
//
// principaltest holds the behaviour suite every implementation runs.
package principal
