// Package config loads, normalizes, and validates lipsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and LIPSYNC_API_TOKEN. The Config type centralizes every knob
// the daemon and CLI need: storage directories, the worker pool, retry policy,
// per-stage collaborator endpoints and timeouts, upload limits, and logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
