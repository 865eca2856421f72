package config

import "time"

// ChannelConfig is the root configuration for the activity channel server.
type ChannelConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	ActivityLog ActivityLogConfig `yaml:"activity_log"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// InstanceConfig identifies this server process.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// ServerConfig holds the WebSocket endpoint settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`            // e.g. ":8470"
	Path           string        `yaml:"path"`            // WebSocket mount path
	AllowedOrigins []string      `yaml:"allowed_origins"` // Empty = allow all (dev only)
	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SendBufferSize int           `yaml:"send_buffer_size"` // Per-connection outbound frame buffer
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret       string   `yaml:"jwt_secret"`
	Issuer          string   `yaml:"issuer"`
	PrivilegedRoles []string `yaml:"privileged_roles"` // Roles allowed into the admins room
	MaxJoinAttempts int      `yaml:"max_join_attempts"`
}

// ActivityLogConfig holds the Redis stream backing the activity log.
type ActivityLogConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"` // Approximate stream trim length; 0 = unbounded
}

// ArchiveConfig holds the Postgres archiver settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Postgres      DBConfig      `yaml:"postgres"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	StartID       string        `yaml:"start_id"` // Stream position to resume from; empty = beginning
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
