// Package jobs defines the persisted job record and its SQLite-backed store.
//
// A job carries the fixed five-stage plan, per-stage progress and errors, the
// cancellation flag, and the owning worker. All writes after creation go
// through CompareAndSwap on the job's version so concurrent writers (a worker
// persisting progress, an API request setting the cancel flag) never lose
// updates. Mutate wraps the load-modify-swap loop for callers.
package jobs
