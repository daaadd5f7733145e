// Package pipeline hands extracted records to the configured output writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-rescue-extract/models"
	"github.com/aluiziolira/go-rescue-extract/telemetry"
)

var (
	// ErrPipelineClosed is returned when Emit is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// RecordWriter defines the interface for record output.
type RecordWriter interface {
	Write(stream string, records []models.Record) error
	Close() error
	Validate() error
}

// Pipeline writes records synchronously so that a checkpoint persisted after
// Emit returns never runs ahead of the output.
type Pipeline struct {
	writer RecordWriter
	obs    *telemetry.Observer

	mu     sync.Mutex // guards closed/err/counts
	closed bool
	err    error
	counts map[string]int
}

// NewPipeline builds a pipeline around writer.
func NewPipeline(writer RecordWriter, obs *telemetry.Observer) *Pipeline {
	if obs == nil {
		obs = telemetry.Nop()
	}
	return &Pipeline{
		writer: writer,
		obs:    obs,
		counts: make(map[string]int),
	}
}

// Emit writes a batch of records for stream. Nil records are dropped.
func (p *Pipeline) Emit(ctx context.Context, stream string, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrPipelineClosed
	}

	batch := make([]models.Record, 0, len(records))
	for _, record := range records {
		if record != nil {
			batch = append(batch, record)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	if err := p.writer.Write(stream, batch); err != nil {
		p.err = fmt.Errorf("write %s batch: %w", stream, err)
		p.closed = true
		return p.err
	}

	p.counts[stream] += len(batch)
	p.obs.Metrics.AddRecords(stream, len(batch))
	p.obs.Logger.Debug("records emitted", slog.String("stream", stream), slog.Int("count", len(batch)))
	return nil
}

// Counts returns a snapshot of records emitted per stream.
func (p *Pipeline) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// Close prevents more submissions and closes the writer.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	writer := p.writer
	p.writer = nil
	if writer == nil {
		return p.err
	}
	if err := writer.Close(); err != nil && p.err == nil {
		p.err = fmt.Errorf("close writer: %w", err)
	}
	return p.err
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
