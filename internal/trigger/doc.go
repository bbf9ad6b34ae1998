// Package trigger fires named schedules and submits each firing into a runner.
//
// Triggers only submit; execution, concurrency and ordering belong to the runner.
package trigger
