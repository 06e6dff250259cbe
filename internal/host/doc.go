// Package host drives plugin instances from a single main-thread goroutine.
//
// The host application's command protocol is modelled as a channel of
// requests served by Host.Run. Everything that belongs to the main thread
// (the idle bridge, the instance map and the per-instance parameter tables)
// lives in a MainThread value that only exists inside that loop and is handed
// to Host.Do callbacks. Render jobs run on worker goroutines managed by
// the engine package; the job registry and the debug store are the only
// state shared with them.
package host
