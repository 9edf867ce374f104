// Package publish implements the publish stage: the rendered video is
// uploaded to the video platform with the job id as idempotency key, so a
// retried upload after a lost response resolves to the same video. The
// platform's answer is stored as a JSON receipt artifact.
package publish
