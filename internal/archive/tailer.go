package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pressfolio/activity-channel/internal/activitylog"
)

const (
	tailBatchSize = 200
	tailBlock     = 2 * time.Second
	tailRetry     = time.Second
)

// StreamTailer follows the activity log from a start position and feeds
// every entry into the buffer.
type StreamTailer struct {
	reader activitylog.Reader
	buf    *entryBuffer
	logger *slog.Logger

	mu     sync.Mutex
	lastID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamTailer creates a tailer resuming after startID. An empty startID
// replays the stream from the beginning.
func NewStreamTailer(reader activitylog.Reader, buf *entryBuffer, startID string, logger *slog.Logger) *StreamTailer {
	if startID == "" {
		startID = "0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamTailer{
		reader: reader,
		buf:    buf,
		lastID: startID,
		logger: logger,
	}
}

// Start begins following the stream.
func (t *StreamTailer) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.tailLoop(ctx)
	t.logger.Info("stream tailer started", "start_id", t.LastID())
	return nil
}

// Stop halts tailing. Buffered entries stay available to the writer.
func (t *StreamTailer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.logger.Info("stream tailer stopped", "last_id", t.LastID())
}

// LastID returns the key of the newest entry handed to the buffer. Persist
// it across restarts to resume without replaying.
func (t *StreamTailer) LastID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastID
}

func (t *StreamTailer) tailLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := t.reader.ReadFrom(ctx, t.LastID(), tailBatchSize, tailBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Error("stream read failed", "error", err)
			select {
			case <-time.After(tailRetry):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, e := range entries {
			if !t.buf.push(e) {
				return
			}
			t.mu.Lock()
			t.lastID = e.ID
			t.mu.Unlock()
		}
	}
}
