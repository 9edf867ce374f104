// Package render implements the lipsync stage against a queued rendering
// API (fal.ai queue protocol): the presenter video and narration audio are
// submitted as data URIs, the request status is polled until it completes,
// and the rendered video is downloaded into the artifact store.
package render
