package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aluiziolira/go-rescue-extract/models"
)

// Output formats accepted by NewWriter.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatDual  = "dual"

	// Stdout selects standard output for JSONL.
	Stdout = "-"
)

// NewWriter builds the writer for format. JSONL writes to a file (or stdout
// for "-"); csv and dual treat output as a directory.
func NewWriter(format, output string) (RecordWriter, error) {
	switch format {
	case "", FormatJSONL:
		return NewJSONWriter(output)
	case FormatCSV:
		return NewCSVWriter(output)
	case FormatDual:
		return NewDualWriter(output, filepath.Join(output, "records.jsonl"))
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// recordMessage is one JSONL line.
type recordMessage struct {
	Type   string        `json:"type"`
	Stream string        `json:"stream"`
	Record models.Record `json:"record"`
}

// JSONWriter writes newline-delimited JSON record messages.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer; "-" writes to stdout.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if filename == Stdout {
		return newJSONWriter(nil, os.Stdout), nil
	}
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	// Append so lines emitted before the last checkpoint survive a resume.
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}
	return newJSONWriter(f, f), nil
}

func newJSONWriter(f *os.File, w io.Writer) *JSONWriter {
	buffer := bufio.NewWriter(w)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(stream string, records []models.Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, record := range records {
		msg := recordMessage{Type: "RECORD", Stream: stream, Record: record}
		if err := jw.encoder.Encode(msg); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file. Stdout stays open.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	if jw.file == nil {
		return nil
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	if jw.file == nil {
		return nil
	}
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// CSVWriter writes one CSV file per stream into a directory. Files are
// appended to across runs. A new stream's header is the sorted field set of
// its first batch; fields that show up later are appended as new columns and
// the file is rewritten with blanks for the rows already on disk.
type CSVWriter struct {
	dir     string
	streams map[string]*csvStream
	mu      sync.Mutex
}

type csvStream struct {
	path   string
	file   *os.File
	writer *csv.Writer
	header []string
	index  map[string]int
}

// NewCSVWriter prepares dir for per-stream CSV files.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", dir, err)
	}
	return &CSVWriter{
		dir:     dir,
		streams: make(map[string]*csvStream),
	}, nil
}

// Write appends records to the stream's CSV file.
func (cw *CSVWriter) Write(stream string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	out, err := cw.stream(stream, records)
	if err != nil {
		return err
	}
	if missing := out.missing(records); len(missing) > 0 {
		if err := out.widen(cw.dir, missing); err != nil {
			return fmt.Errorf("widen csv %s: %w", stream, err)
		}
	}

	for _, record := range records {
		row := make([]string, len(out.header))
		for field, value := range record {
			row[out.index[field]] = value
		}
		if err := out.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	out.writer.Flush()
	if err := out.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func (cw *CSVWriter) stream(stream string, first []models.Record) (*csvStream, error) {
	if out, ok := cw.streams[stream]; ok {
		return out, nil
	}

	path := filepath.Join(cw.dir, stream+".csv")
	header, err := readCSVHeader(path)
	if err != nil {
		return nil, err
	}
	fresh := header == nil
	if fresh {
		header = sortedFields(first, nil)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	out := &csvStream{path: path, file: f, writer: csv.NewWriter(f)}
	out.setHeader(header)
	if fresh {
		if err := out.writer.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	cw.streams[stream] = out
	return out, nil
}

func (out *csvStream) setHeader(header []string) {
	out.header = header
	out.index = make(map[string]int, len(header))
	for i, field := range header {
		out.index[field] = i
	}
}

// missing returns the sorted fields of records that have no column yet.
func (out *csvStream) missing(records []models.Record) []string {
	return sortedFields(records, out.index)
}

// widen appends columns to the header and rewrites the file so every existing
// row has a blank cell for them.
func (out *csvStream) widen(dir string, columns []string) error {
	out.writer.Flush()
	if err := out.writer.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := out.file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	rows, err := readCSVRows(out.path)
	if err != nil {
		return err
	}
	header := append(append([]string(nil), out.header...), columns...)

	tmp, err := os.CreateTemp(dir, filepath.Base(out.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows[min(1, len(rows)):] {
		padded := make([]string, len(header))
		copy(padded, row)
		if err := w.Write(padded); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("rewrite row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), out.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace csv file: %w", err)
	}

	f, err := os.OpenFile(out.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen csv file: %w", err)
	}
	out.file = f
	out.writer = csv.NewWriter(f)
	out.setHeader(header)
	return nil
}

// sortedFields returns the sorted set of record fields not present in known.
func sortedFields(records []models.Record, known map[string]int) []string {
	seen := make(map[string]struct{})
	for _, record := range records {
		for field := range record {
			if _, ok := known[field]; !ok {
				seen[field] = struct{}{}
			}
		}
	}
	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// readCSVHeader returns the first row of an existing CSV file, or nil when
// the file is absent or empty.
func readCSVHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return header, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows: %w", err)
	}
	return rows, nil
}

// Close flushes and closes every stream file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	var firstErr error
	for name, out := range cw.streams {
		out.writer.Flush()
		if err := out.writer.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush csv %s: %w", name, err)
		}
		if err := out.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close csv %s: %w", name, err)
		}
	}
	cw.streams = make(map[string]*csvStream)
	return firstErr
}

// Validate ensures every stream file has content besides the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if len(cw.streams) == 0 {
		return fmt.Errorf("no csv output written")
	}
	for name, out := range cw.streams {
		info, err := out.file.Stat()
		if err != nil {
			return fmt.Errorf("stat csv file %s: %w", name, err)
		}
		if info.Size() <= 0 {
			return fmt.Errorf("csv file %s is empty", name)
		}
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
