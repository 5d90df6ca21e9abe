// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunRenew, RunCompleteRecovery, RunCachedFetch, etc.)
// accepts a typed dependency struct of closures and returns results without
// side-effects beyond those dependencies. The Engine wires the closures once at
// build time and keeps its own methods thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the principal store, token codec, code store,
// response cache, rate limiter, audit dispatcher and metrics. They do NOT own any of
// these resources. Ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls (the shared singleflight group is owned by the Engine).
//   - Import goSession (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency closures.
package flows
