// Package jobs holds the state of background render jobs: the per-job Task
// that a worker goroutine mutates, and the Registry that maps job identities
// to live tasks. Both are safe for concurrent use from worker goroutines and
// the host main thread without any locking by the caller.
package jobs
