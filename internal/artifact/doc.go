// Package artifact implements the content-addressed blob store holding
// uploaded documents and every stage output.
//
// Blobs are sharded by the first two hex characters of their SHA-256 id and
// accompanied by a JSON sidecar describing content type and extension.
package artifact
