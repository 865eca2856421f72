package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/pressfolio/activity-channel/internal/identity"
	"github.com/pressfolio/activity-channel/internal/wire"
)

// DefaultJoinTimeout bounds how long a join request waits for its ack. The
// server keeps no such timer; giving up is purely the client's business.
const DefaultJoinTimeout = 5 * time.Second

// AdminJoinClient performs the admin-room join handshake over a managed
// connection.
type AdminJoinClient struct {
	manager *ConnectionManager
	tokens  identity.TokenSource
	timeout time.Duration
	logger  *slog.Logger
}

// NewAdminJoinClient creates a join client. tokens supplies the fresh
// credential presented with each join request.
func NewAdminJoinClient(manager *ConnectionManager, tokens identity.TokenSource, logger *slog.Logger) *AdminJoinClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminJoinClient{
		manager: manager,
		tokens:  tokens,
		timeout: DefaultJoinTimeout,
		logger:  logger,
	}
}

// SetTimeout overrides the per-join ack deadline. For tests.
func (j *AdminJoinClient) SetTimeout(d time.Duration) {
	j.timeout = d
}

// JoinAdminRoom connects if needed, mints a fresh token, and requests
// membership in the admins room.
//
// Returns true only on an explicit success ack. Every expected failure
// (connect failure, token problems, rejection, timeout, malformed ack)
// collapses to false; this call is safe to retry and never panics on
// server misbehavior.
func (j *AdminJoinClient) JoinAdminRoom(ctx context.Context) bool {
	if err := j.manager.Connect(ctx, Options{RequireAuth: true}); err != nil {
		j.logger.Warn("join aborted, connect failed", "error", err)
		return false
	}
	conn := j.manager.Conn()
	if conn == nil {
		j.logger.Warn("join aborted, no live connection")
		return false
	}

	token, err := j.tokens.Token(ctx)
	if err != nil {
		j.logger.Warn("join aborted, token fetch failed", "error", err)
		return false
	}

	ack, err := conn.Call(ctx, wire.EventJoinAdmin, wire.JoinRequest{Token: token}, j.timeout)
	if err != nil {
		j.logger.Warn("join request failed", "error", err)
		return false
	}
	if !ack.Success {
		j.logger.Info("join rejected", "reason", ack.Error)
		return false
	}

	j.logger.Info("joined admins room")
	return true
}
