package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type fileState struct {
	Bookmarks Bookmarks `json:"bookmarks"`
}

// FileBackend stores bookmarks as a JSON document, replaced atomically on
// every save.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the state file; a missing file is an empty state.
func (b *FileBackend) Load(_ context.Context) (Bookmarks, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Bookmarks{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Bookmarks{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var st fileState
	if err := decoder.Decode(&st); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", b.path, err)
	}
	if st.Bookmarks == nil {
		st.Bookmarks = Bookmarks{}
	}
	return st.Bookmarks, nil
}

// Save writes to a temp file next to the target and renames it into place.
func (b *FileBackend) Save(_ context.Context, bookmarks Bookmarks) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	payload, err := json.MarshalIndent(fileState{Bookmarks: bookmarks}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// MemoryBackend keeps bookmarks in memory; used for dry runs and tests.
type MemoryBackend struct {
	Saved Bookmarks
	Saves int
}

// Load returns the last saved bookmarks.
func (b *MemoryBackend) Load(_ context.Context) (Bookmarks, error) {
	if b.Saved == nil {
		return Bookmarks{}, nil
	}
	return b.Saved.Clone(), nil
}

// Save records a copy of bookmarks.
func (b *MemoryBackend) Save(_ context.Context, bookmarks Bookmarks) error {
	b.Saved = bookmarks.Clone()
	b.Saves++
	return nil
}
