// Package sessionhost is the HTTP client for the external agent runtime that
// executes background tasks.
//
// The runtime exposes session creation, a status map (session id to
// idle/busy), an ordered message list per session, and prompt submission.
// Responses arrive in a {"data": ...} envelope; an explicit error field or a
// missing data payload surfaces as a HostError rather than a silent continue,
// because the background poller keys terminal decisions off these calls.
package sessionhost
