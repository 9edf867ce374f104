// Package services defines shared utilities consumed by the pipeline stage
// adapters and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the pipeline taxonomy (validation, transient, fatal, canceled,
//     conflict, not found).
//   - HTTP status classification shared by the collaborator clients so every
//     adapter reports transient versus fatal failures the same way.
//
// Subpackages hold the concrete collaborator clients (script generation,
// speech synthesis, template selection, lip-sync rendering, publishing). Use
// these helpers when wiring new adapters so retry behaviour stays uniform
// across the pipeline.
package services
