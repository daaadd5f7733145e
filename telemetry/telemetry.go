// Package telemetry carries the logger, metrics and tracer that the
// extraction call graph receives explicitly.
package telemetry

import (
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aluiziolira/go-rescue-extract"

// Observer is the observability handle threaded through the extractor.
type Observer struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// New builds an observer; a nil logger discards output and nil metrics
// disable Prometheus collection.
func New(logger *slog.Logger, metrics *Metrics) *Observer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Observer{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  otel.Tracer(tracerName),
	}
}

// Nop returns an observer that records nothing.
func Nop() *Observer {
	return New(nil, nil)
}

// With returns a copy whose logger carries the given attributes.
func (o *Observer) With(args ...any) *Observer {
	if o == nil {
		return Nop().With(args...)
	}
	cp := *o
	cp.Logger = o.Logger.With(args...)
	return &cp
}
