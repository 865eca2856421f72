// Package activitylog is the client for the external activity log store.
//
// The store is an append-only, key-ordered log backed by a Redis stream:
// every append is assigned a unique, monotonically increasing stream ID by
// the store itself. The channel core never generates keys.
//
// The archiver consumes the same stream through Reader; the broadcast path
// only ever appends.
package activitylog
