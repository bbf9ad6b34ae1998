// Package runner provides a bounded-concurrency task runner.
//
// A Runner keeps submitted actions in a priority queue and promotes them into the
// running set from a single scheduling loop:
//   - at most MaxInParallel actions run at once
//   - higher priority first, submission order within a priority
//   - nothing new starts once ExpirationTime has passed
//   - a failing or panicking action is reported and counted, never propagated
//
// Callers submit work at any time and call DrainAndWait once no more work is coming.
package runner
