// Package workflow advances submitted documents through the fixed five-stage
// pipeline: script, audio, videoSelect, lipsync, publish.
//
// The Manager validates and stores uploads, creates queued jobs, and runs a
// fixed pool of workers. Each worker claims the oldest queued job with a
// compare-and-swap on the owner field and keeps it until the job reaches a
// terminal state, delegating every stage to the stageexec.Executor. On Start
// the Manager resets jobs interrupted by a previous shutdown so they resume at
// their first unfinished stage.
//
// Cancellation is cooperative. A queued job is canceled immediately; a running
// job is flagged and the executor honours the flag at its next checkpoint,
// including while waiting out a retry backoff.
//
// Terminal transitions emit notifications through the notifications.Service.
package workflow
