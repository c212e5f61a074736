// Package background runs agent tasks in remote sessions and tracks them to
// completion.
//
// The session host has no completion callback, so each launched task gets a
// poller goroutine that samples the host's status map and the session's
// message count on a fixed interval. A task completes when the session sits
// idle with a stable message count for several consecutive ticks; the result
// is the text of the final assistant message. Tasks fail on cancel, on host
// transport errors, or when the poll ceiling passes, with cancellation taking
// precedence over the ceiling.
//
// Terminal tasks stay queryable for a retention window, then get archived to
// the history store and pruned.
package background
