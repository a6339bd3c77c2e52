package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Table is a string-keyed map that lives in one JSON file. The whole map is
// read once by OpenTable and rewritten on every mutation.
type Table[V any] struct {
	mu   sync.RWMutex
	path string
	rows map[string]V
}

func OpenTable[V any](path string) (*Table[V], error) {
	t := &Table[V]{path: path, rows: make(map[string]V)}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table[V]) load() error {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()

	rows := make(map[string]V)
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s: %w", t.path, err)
	}
	if rows != nil {
		t.rows = rows
	}
	return nil
}

func (t *Table[V]) Get(key string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	return v, ok
}

// Put upserts one row and rewrites the file.
func (t *Table[V]) Put(key string, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[key] = v
	return t.persistLocked()
}

// Update applies fn to the row under key and rewrites the file. fn reports
// whether it changed anything; nothing is written otherwise.
func (t *Table[V]) Update(key string, fn func(v V, exists bool) (V, bool)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.rows[key]
	next, changed := fn(cur, ok)
	if !changed {
		return nil
	}
	t.rows[key] = next
	return t.persistLocked()
}

// Mutate runs fn over the whole map and rewrites the file once.
func (t *Table[V]) Mutate(fn func(rows map[string]V)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.rows)
	return t.persistLocked()
}

// Keys returns a sorted snapshot of the keys.
func (t *Table[V]) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Table[V]) All() map[string]V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]V, len(t.rows))
	for k, v := range t.rows {
		out[k] = v
	}
	return out
}

func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table[V]) persistLocked() error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t.rows); err != nil {
		return fmt.Errorf("encode %s: %w", t.path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("flush %s: %w", t.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		return fmt.Errorf("replace %s: %w", t.path, err)
	}
	success = true
	return nil
}
