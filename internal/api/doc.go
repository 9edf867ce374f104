// Package api defines the wire-format types shared by the HTTP daemon and the
// CLI. It projects internal job records into transport-friendly views that
// clients can render without coupling to the job store.
//
// # Key Types
//
// JobStatusView: a job's status, per-stage progress and errors, and the final
// result once publishing completes.
//
// HealthResponse: readiness of each stage collaborator plus queue counts.
//
// ErrorResponse: the JSON error envelope returned by every failing endpoint.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds in UTC.
// Stage errors expose only the taxonomy code and a client-safe message.
package api
