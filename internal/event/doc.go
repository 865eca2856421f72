// Package event defines the ActivityEvent type carried on the activity channel.
//
// Conventions:
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Metadata: arbitrary string-keyed JSON object, opaque to the channel
//
// Parse is the single validation point: an event that did not come out of
// Parse never reaches the store or the broadcast path.
package event
