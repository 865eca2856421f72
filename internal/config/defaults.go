package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr            = ":8470"
	DefaultPath            = "/channel"
	DefaultPingInterval    = 10 * time.Second
	DefaultPingTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultSendBufferSize  = 32
	DefaultMaxJoinAttempts = 5
	DefaultStream          = "activity:log"
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultBatchSize       = 500
	DefaultFlushInterval   = 1 * time.Second
	DefaultBufferSize      = 10000
)

// DefaultPrivilegedRoles are the role claims admitted to the admins room.
var DefaultPrivilegedRoles = []string{"admin", "editor"}

func (c *ChannelConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PingTimeout == 0 {
		c.Server.PingTimeout = DefaultPingTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.SendBufferSize == 0 {
		c.Server.SendBufferSize = DefaultSendBufferSize
	}

	// Auth defaults
	if len(c.Auth.PrivilegedRoles) == 0 {
		c.Auth.PrivilegedRoles = append([]string(nil), DefaultPrivilegedRoles...)
	}
	if c.Auth.MaxJoinAttempts == 0 {
		c.Auth.MaxJoinAttempts = DefaultMaxJoinAttempts
	}

	// Activity log defaults
	if c.ActivityLog.Stream == "" {
		c.ActivityLog.Stream = DefaultStream
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Postgres)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
