package archive

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressfolio/activity-channel/internal/activitylog"
	"github.com/pressfolio/activity-channel/internal/config"
)

// Pipeline wires the tailer, buffer, and writer into one start/stoppable
// unit.
type Pipeline struct {
	tailer *StreamTailer
	writer *Writer
	buf    *entryBuffer
}

// NewPipeline builds an archive pipeline from config.
func NewPipeline(reader activitylog.Reader, db *pgxpool.Pool, cfg config.ArchiveConfig, logger *slog.Logger) *Pipeline {
	buf := newEntryBuffer(cfg.BufferSize)
	return &Pipeline{
		buf:    buf,
		tailer: NewStreamTailer(reader, buf, cfg.StartID, logger),
		writer: NewWriter(db, buf, cfg.BatchSize, cfg.FlushInterval, logger),
	}
}

// Start launches the writer first so the buffer never backs up on startup.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.writer.Start(ctx); err != nil {
		return err
	}
	return p.tailer.Start(ctx)
}

// Stop halts intake, then drains and flushes.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.tailer.Stop()
	return p.writer.Stop(ctx)
}

// LastID returns the stream position to resume from on the next run.
func (p *Pipeline) LastID() string {
	return p.tailer.LastID()
}

// Stats returns writer counters.
func (p *Pipeline) Stats() Stats {
	return p.writer.Stats()
}

// Backlog returns the number of buffered, unflushed entries.
func (p *Pipeline) Backlog() int {
	return p.buf.len()
}
