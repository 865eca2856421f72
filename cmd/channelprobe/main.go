package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pressfolio/activity-channel/internal/client"
	"github.com/pressfolio/activity-channel/internal/event"
	"github.com/pressfolio/activity-channel/internal/identity"
	"github.com/pressfolio/activity-channel/internal/wire"
)

// channelprobe exercises a running channeld from the command line: join the
// admins room, submit an activity, and print every broadcast that arrives.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8470/channel", "channel endpoint")
		token    = flag.String("token", "", "pre-minted channel token")
		secret   = flag.String("secret", "", "shared secret to self-mint a token (dev only)")
		issuer   = flag.String("issuer", "", "issuer claim for self-minted tokens")
		subject  = flag.String("subject", "probe", "subject claim for self-minted tokens")
		role     = flag.String("role", "admin", "role claim for self-minted tokens")
		join     = flag.Bool("join", true, "join the admins room")
		track    = flag.String("track", "", "activity type to submit (empty = none)")
		trackUID = flag.String("track-user", "probe", "userId for the submitted activity")
		target   = flag.String("track-target", "", "targetId for the submitted activity")
		listen   = flag.Duration("listen", 30*time.Second, "how long to print broadcasts before exiting")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, err := tokenSource(*token, *secret, *issuer, *subject, *role)
	if err != nil {
		logger.Error("token setup failed", "error", err)
		os.Exit(1)
	}

	manager := client.NewManager(client.Config{
		URL:    *url,
		Tokens: tokens,
	}, logger)
	defer manager.Disconnect()

	if *join {
		joiner := client.NewAdminJoinClient(manager, tokens, logger)
		if !joiner.JoinAdminRoom(ctx) {
			logger.Error("join_admin failed")
			os.Exit(1)
		}
		fmt.Println("joined admins room")
	} else {
		if err := manager.Connect(ctx, client.Options{}); err != nil {
			logger.Error("connect failed", "error", err)
			os.Exit(1)
		}
	}

	conn := manager.Conn()
	if conn == nil {
		logger.Error("no live connection")
		os.Exit(1)
	}

	if *track != "" {
		ack, err := conn.Call(ctx, wire.EventTrackActivity, event.ActivityEvent{
			UserID:       *trackUID,
			ActivityType: *track,
			TargetID:     *target,
		}, 5*time.Second)
		if err != nil {
			logger.Error("track_activity failed", "error", err)
			os.Exit(1)
		}
		if !ack.Success {
			logger.Error("track_activity rejected", "reason", ack.Error)
			os.Exit(1)
		}
		fmt.Println("activity tracked")
	}

	deadline := time.NewTimer(*listen)
	defer deadline.Stop()

	for {
		select {
		case frame, ok := <-conn.Events():
			if !ok {
				logger.Warn("connection closed")
				return
			}
			printFrame(frame)
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func tokenSource(token, secret, issuer, subject, role string) (identity.TokenSource, error) {
	if token != "" {
		return identity.StaticTokenSource(token), nil
	}
	if secret == "" {
		return nil, fmt.Errorf("either -token or -secret is required")
	}
	minted, err := identity.Mint(secret, issuer, subject, role, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}
	return identity.StaticTokenSource(minted), nil
}

func printFrame(frame wire.Frame) {
	if frame.Type != wire.EventActivityUpdate {
		fmt.Printf("%s %s\n", frame.Type, string(frame.Payload))
		return
	}
	var ev event.ActivityEvent
	if err := json.Unmarshal(frame.Payload, &ev); err != nil {
		fmt.Printf("activity_update (undecodable): %s\n", string(frame.Payload))
		return
	}
	fmt.Printf("activity_update user=%s type=%s target=%s ts=%d\n",
		ev.UserID, ev.ActivityType, ev.TargetID, ev.Timestamp)
}
