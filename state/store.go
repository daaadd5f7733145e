// Package state keeps per-stream checkpoints and hands them to a persistence
// backend.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-rescue-extract/config"
)

// Checkpoint fields written by the report extractor.
const (
	FieldStartDate    = "start_date"
	FieldTechnicianID = "technician_id"
)

// Bookmarks is the persisted blob: stream name -> field -> value.
type Bookmarks map[string]map[string]any

// Clone returns a deep copy.
func (b Bookmarks) Clone() Bookmarks {
	out := make(Bookmarks, len(b))
	for stream, fields := range b {
		cp := make(map[string]any, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[stream] = cp
	}
	return out
}

// Backend loads and durably saves the full bookmark set.
type Backend interface {
	Load(ctx context.Context) (Bookmarks, error)
	Save(ctx context.Context, bookmarks Bookmarks) error
}

// Store is the in-memory checkpoint set. Streams this run does not touch are
// carried through to every save unchanged.
type Store struct {
	mu        sync.Mutex
	backend   Backend
	bookmarks Bookmarks
}

// Open loads the current bookmarks from backend.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	bookmarks, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	return NewStore(backend, bookmarks), nil
}

// NewStore wraps already loaded bookmarks.
func NewStore(backend Backend, bookmarks Bookmarks) *Store {
	s := &Store{backend: backend, bookmarks: make(Bookmarks)}
	for stream, fields := range bookmarks {
		for field, value := range fields {
			s.set(stream, field, normalizeValue(value))
		}
	}
	return s
}

// Get returns a checkpoint field.
func (s *Store) Get(stream, field string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bookmarks[stream][field]
	return v, ok
}

// Put sets a checkpoint field. Without force the field only moves forward:
// a value not greater than the current one is ignored. Put reports whether
// the stored value changed.
func (s *Store) Put(stream, field string, value any, force bool) bool {
	if value == nil {
		return false
	}
	value = normalizeValue(value)

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.bookmarks[stream][field]
	if ok && !force && compareValues(value, current) <= 0 {
		return false
	}
	if ok && force && compareValues(value, current) == 0 {
		return false
	}
	s.set(stream, field, value)
	return true
}

// Persist writes the full bookmark set through the backend.
func (s *Store) Persist(ctx context.Context) error {
	snapshot := s.Snapshot()
	if err := s.backend.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("persist checkpoints: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the bookmarks.
func (s *Store) Snapshot() Bookmarks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookmarks.Clone()
}

// StartDate returns the stream's start_date checkpoint.
func (s *Store) StartDate(stream string) (time.Time, bool, error) {
	v, ok := s.Get(stream, FieldStartDate)
	if !ok {
		return time.Time{}, false, nil
	}
	str, isString := v.(string)
	if !isString {
		return time.Time{}, false, fmt.Errorf("%s.%s: unexpected value %v", stream, FieldStartDate, v)
	}
	t, err := config.ParseTimestamp(str)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s.%s: %w", stream, FieldStartDate, err)
	}
	return t, true, nil
}

// TechnicianID returns the stream's technician_id checkpoint.
func (s *Store) TechnicianID(stream string) (int, bool, error) {
	v, ok := s.Get(stream, FieldTechnicianID)
	if !ok {
		return 0, false, nil
	}
	switch id := v.(type) {
	case int64:
		return int(id), true, nil
	case string:
		n, err := strconv.Atoi(id)
		if err != nil {
			return 0, false, fmt.Errorf("%s.%s: %w", stream, FieldTechnicianID, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("%s.%s: unexpected value %v", stream, FieldTechnicianID, v)
	}
}

func (s *Store) set(stream, field string, value any) {
	fields, ok := s.bookmarks[stream]
	if !ok {
		fields = make(map[string]any)
		s.bookmarks[stream] = fields
	}
	fields[field] = value
}

// normalizeValue folds integers to int64 and timestamps to RFC3339Nano UTC so
// values compare the same whether they came from code, JSON or sqlite.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		if x == math.Trunc(x) {
			return int64(x)
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// compareValues orders integers numerically and timestamp strings as
// instants, falling back to string order.
func compareValues(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}

	as := fmt.Sprint(a)
	bs := fmt.Sprint(b)
	at, aErr := config.ParseTimestamp(as)
	bt, bErr := config.ParseTimestamp(bs)
	if aErr == nil && bErr == nil {
		return at.Compare(bt)
	}
	return strings.Compare(as, bs)
}
