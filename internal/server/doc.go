// Package server implements the broadcast server for the activity channel.
//
// One server process is the sole broadcast authority: every connection,
// room membership, and rate-limit counter lives in its registry. Each
// connection's frames are processed in order on a dedicated read goroutine;
// an event is fanned out to the admins room only after the activity log
// acknowledged the append.
package server
