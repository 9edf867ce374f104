// Package logging assembles structured slog loggers and formatting helpers used
// across lipsync services.
//
// It owns the console and JSON handlers, fans records out to the terminal and
// the daemon log file, and exposes context-aware helpers so executor and
// workflow code automatically tag log lines with job IDs, stages, workers,
// and correlation IDs. A no-op logger is provided for tests and wiring code
// that cannot fail.
package logging
