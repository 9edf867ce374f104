// Package daemon coordinates the long-running lipsync process.
//
// It wires configuration, the job store, the artifact store, and the workflow
// manager into a single lifecycle with flock-based locking to prevent multiple
// instances sharing one data directory. The daemon serves the REST API under
// /api/v1: document submission, job status and listing, cancellation, artifact
// download, and a health summary of the stage collaborators.
//
// Keep orchestration logic here: pipeline semantics live in workflow and
// stageexec while the daemon focuses on startup, shutdown, and transport.
package daemon
