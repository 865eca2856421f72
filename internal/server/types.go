package server

import "time"

// AdminRoom is the multicast group receiving activity updates.
const AdminRoom = "admins"

// Structured error messages returned in acks. Deliberately generic on the
// auth path so clients cannot distinguish failure modes.
const (
	errTooManyAttempts = "Too many attempts"
	errAuthFailed      = "Authentication failed"
	errUnauthorized    = "Unauthorized"
	errInvalidActivity = "Invalid activity data"
	errTrackFailed     = "Failed to track activity"
	errUnknownEvent    = "Unknown event"
)

// Config holds broadcast server settings.
type Config struct {
	AllowedOrigins []string      // Empty = allow all (dev only)
	PingInterval   time.Duration // Server-initiated ping cadence
	PingTimeout    time.Duration // Read deadline; connection is dead past this
	WriteTimeout   time.Duration // Write deadline for outbound frames
	SendBufferSize int           // Per-connection outbound frame buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   10 * time.Second,
		PingTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendBufferSize: 32,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = d.SendBufferSize
	}
}

// Stats provides statistics about the broadcast server.
type Stats struct {
	OpenConnections  int
	TotalConnections int64
	Broadcasts       int64
	DroppedFrames    int64
}
