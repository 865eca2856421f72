// Package archive copies the activity log into PostgreSQL for long-term
// retention and reporting.
//
// The pipeline is tailer -> buffer -> writer: the tailer follows the
// stream, the buffer absorbs bursts, and the writer batches rows into the
// activities table. Inserts are keyed on the stream key with ON CONFLICT DO
// NOTHING, so replaying from an earlier position is safe.
package archive
