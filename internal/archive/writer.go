package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressfolio/activity-channel/internal/activitylog"
)

// activityRow is one row bound for the activities table.
type activityRow struct {
	StreamKey    string
	UserID       string
	ActivityType string
	TargetID     string
	Metadata     []byte // JSON; nil when the event carried none
	OccurredAt   time.Time
}

// Stats counts writer outcomes since start.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// Writer drains the buffer and batch-inserts rows into PostgreSQL.
type Writer struct {
	db            *pgxpool.Pool
	buf           *entryBuffer
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	batchMu sync.Mutex
	batch   []activityRow
	stats   Stats

	flushTicker *time.Ticker
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWriter creates a writer flushing whenever batchSize rows accumulate or
// flushInterval elapses, whichever comes first.
func NewWriter(db *pgxpool.Pool, buf *entryBuffer, batchSize int, flushInterval time.Duration, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		db:            db,
		buf:           buf,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		batch:         make([]activityRow, 0, batchSize),
	}
}

// Start begins consuming and writing.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.flushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.batchSize,
		"flush_interval", w.flushInterval,
	)
	return nil
}

// Stop drains in-flight work and performs a final flush.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	w.buf.close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	w.flush(context.Background())
	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns a snapshot of writer counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		entries := w.buf.drain(w.batchSize)
		if entries == nil {
			return
		}

		w.batchMu.Lock()
		for _, e := range entries {
			row, err := transform(e)
			if err != nil {
				w.logger.Warn("skipping unarchivable entry", "stream_key", e.ID, "error", err)
				continue
			}
			w.batch = append(w.batch, row)
		}
		shouldFlush := len(w.batch) >= w.batchSize
		w.batchMu.Unlock()

		if shouldFlush {
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

func transform(e activitylog.Entry) (activityRow, error) {
	var metadata []byte
	if len(e.Event.Metadata) > 0 {
		data, err := json.Marshal(e.Event.Metadata)
		if err != nil {
			return activityRow{}, err
		}
		metadata = data
	}
	return activityRow{
		StreamKey:    e.ID,
		UserID:       e.Event.UserID,
		ActivityType: e.Event.ActivityType,
		TargetID:     e.Event.TargetID,
		Metadata:     metadata,
		OccurredAt:   time.UnixMilli(e.Event.Timestamp).UTC(),
	}, nil
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]activityRow, 0, w.batchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed activities",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows keyed on the stream key; replayed entries count
// as conflicts, not errors.
func (w *Writer) batchInsert(ctx context.Context, rows []activityRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO activities (stream_key, user_id, activity_type, target_id, metadata, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (stream_key) DO NOTHING
		`, r.StreamKey, r.UserID, r.ActivityType, r.TargetID, r.Metadata, r.OccurredAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
