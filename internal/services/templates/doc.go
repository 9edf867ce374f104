// Package templates implements the videoSelect stage. Presenter videos live
// in a directory on disk; each job is assigned one by a stable hash of its id
// so retries and recovery always pick the same template.
package templates
