package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-rescue-extract/models"
)

// DualWriter fans each batch out to the per-stream CSV files and the JSONL
// log, in that order. A batch rejected by the CSV side never reaches JSONL.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter opens the CSV directory and the JSONL log. Both are appended
// to when they already hold output from an earlier run.
func NewDualWriter(csvDir, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvDir)
	if err != nil {
		return nil, fmt.Errorf("dual output: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("dual output: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write hands the stream's batch to both sinks.
func (dw *DualWriter) Write(stream string, records []models.Record) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(stream, records); err != nil {
		return fmt.Errorf("%s csv sink: %w", stream, err)
	}
	if err := dw.jsonWriter.Write(stream, records); err != nil {
		return fmt.Errorf("%s jsonl sink: %w", stream, err)
	}
	return nil
}

// Close releases both sinks and reports every failure.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return errors.Join(
		wrapSink("csv sink", dw.csvWriter.Close()),
		wrapSink("jsonl sink", dw.jsonWriter.Close()),
	)
}

// Validate checks that each sink received records.
func (dw *DualWriter) Validate() error {
	return errors.Join(
		wrapSink("csv sink", dw.csvWriter.Validate()),
		wrapSink("jsonl sink", dw.jsonWriter.Validate()),
	)
}

func wrapSink(sink string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", sink, err)
}
