// Package engine runs background render jobs. Each job executes in its own
// goroutine: it prepares a fresh script engine, renders frames one at a time
// while publishing progress to its task in the job registry, observes
// cancellation between frames, and removes itself from the registry when it
// reaches a terminal status.
package engine
