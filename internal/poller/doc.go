// Package poller implements the polling scheduler.
//
// The Scheduler:
//   - Runs each registered job in its own goroutine on its own interval
//   - Runs every job once immediately on start
//   - Never overlaps two runs of the same job; different jobs never wait on each other
//   - Supports pause/resume and out-of-band refresh of named jobs
//   - Makes no further job calls once a job is removed or the scheduler stopped
package poller
