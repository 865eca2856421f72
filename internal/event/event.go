package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalid is returned by Parse for any payload that does not match the
// ActivityEvent schema.
var ErrInvalid = errors.New("invalid activity data")

// ActivityEvent is one user action recorded on the activity channel.
// Immutable once constructed: it is validated, persisted, then broadcast
// without further mutation.
type ActivityEvent struct {
	UserID       string         `json:"userId"`
	ActivityType string         `json:"activityType"`
	TargetID     string         `json:"targetId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    int64          `json:"timestamp,omitempty"` // Epoch millis; 0 = server assigns on receipt
}

// Well-known activity types emitted by the CMS tiers. The channel accepts
// any non-empty type; these exist so producers and dashboards agree on names.
const (
	TypeArticleSubmitted = "article_submitted"
	TypeReviewAssigned   = "review_assigned"
	TypeReviewCompleted  = "review_completed"
	TypeProfileUpdated   = "profile_updated"
)

// Parse validates raw JSON against the ActivityEvent schema.
//
// Required: userId, activityType (non-empty strings).
// Optional: targetId (string), metadata (object), timestamp (integer millis).
// Any type mismatch, missing required field, or negative timestamp fails
// with ErrInvalid. Parse is pure: it never fills in the timestamp.
func Parse(raw []byte) (ActivityEvent, error) {
	var ev ActivityEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ActivityEvent{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if ev.UserID == "" {
		return ActivityEvent{}, fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	if ev.ActivityType == "" {
		return ActivityEvent{}, fmt.Errorf("%w: activityType is required", ErrInvalid)
	}
	if ev.Timestamp < 0 {
		return ActivityEvent{}, fmt.Errorf("%w: timestamp must be non-negative", ErrInvalid)
	}

	return ev, nil
}

// WithTimestamp returns a copy of the event with the timestamp set when the
// producer omitted it. An explicit timestamp is preserved.
func (e ActivityEvent) WithTimestamp(nowMillis int64) ActivityEvent {
	if e.Timestamp == 0 {
		e.Timestamp = nowMillis
	}
	return e
}
