// Package client implements the consumer side of the activity channel: a
// managed websocket connection with deterministic reconnect backoff, and the
// admin-room join handshake on top of it.
package client
