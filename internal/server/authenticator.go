package server

import (
	"context"
	"log/slog"

	"github.com/pressfolio/activity-channel/internal/identity"
	"github.com/pressfolio/activity-channel/internal/registry"
	"github.com/pressfolio/activity-channel/internal/wire"
)

// Authenticator decides whether a connection may join the admins room.
//
// Purely reactive: invoked once per join request, never retries on its own.
// The per-connection attempt counter is bumped before any other work, so a
// connection that keeps hammering the handshake stops reaching the
// identity provider once it crosses the ceiling.
type Authenticator struct {
	registry    *registry.Registry
	verifier    identity.Verifier
	privileged  map[string]struct{}
	maxAttempts int
	logger      *slog.Logger
}

// NewAuthenticator creates an authenticator. roles are the role claims
// admitted to the admins room.
func NewAuthenticator(reg *registry.Registry, verifier identity.Verifier, roles []string, maxAttempts int, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	privileged := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		privileged[r] = struct{}{}
	}
	return &Authenticator{
		registry:    reg,
		verifier:    verifier,
		privileged:  privileged,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Authorize handles one join request for the given connection.
func (a *Authenticator) Authorize(ctx context.Context, connID, token string) wire.Ack {
	attempts, ok := a.registry.IncrementJoinAttempts(connID)
	if !ok {
		// Connection already gone; nothing to join.
		return wire.Ack{Success: false, Error: errAuthFailed}
	}

	if attempts > a.maxAttempts {
		a.logger.Warn("admin join rate limited", "conn_id", connID, "attempts", attempts)
		return wire.Ack{Success: false, Error: errTooManyAttempts}
	}

	id, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.logger.Info("admin join token rejected", "conn_id", connID, "error", err)
		return wire.Ack{Success: false, Error: errAuthFailed}
	}

	if _, ok := a.privileged[id.Role]; !ok {
		a.logger.Info("admin join refused for role", "conn_id", connID, "subject", id.SubjectID, "role", id.Role)
		return wire.Ack{Success: false, Error: errUnauthorized}
	}

	if !a.registry.Join(connID, AdminRoom) {
		return wire.Ack{Success: false, Error: errAuthFailed}
	}

	a.logger.Info("connection joined admins room", "conn_id", connID, "subject", id.SubjectID, "role", id.Role)
	return wire.Ack{Success: true}
}
