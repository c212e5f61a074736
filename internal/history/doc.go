// Package history is the SQLite archive for finished background tasks.
//
// The in-memory task registry only keeps terminal tasks for a retention
// window; this store is where they go afterwards, so a task result submitted
// hours ago can still be looked up.
package history
