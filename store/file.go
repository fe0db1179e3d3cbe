package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	todo "github.com/chimerakang/todo-go"
)

// File keeps values in a single JSON document readable only by the owner.
// Every write replaces the document atomically.
type File struct {
	path string

	mu    sync.Mutex
	items map[string]string
}

// NewFile opens (or prepares) the document at path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("todo/store: file driver requires a path")
	}
	f := &File{path: path, items: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("todo/store: read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.items); err != nil {
			return nil, fmt.Errorf("todo/store: decode %s: %w", path, err)
		}
	}
	return f, nil
}

// Path returns the document path.
func (f *File) Path() string { return f.path }

// Get implements todo.Store.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	if !ok {
		return nil, todo.ErrNotFound
	}
	return []byte(v), nil
}

// Set implements todo.Store.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.snapshot()
	next[key] = string(value)
	return f.commit(next)
}

// Delete implements todo.Store.
func (f *File) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.snapshot()
	for _, k := range keys {
		delete(next, k)
	}
	if len(next) == len(f.items) {
		return nil
	}
	return f.commit(next)
}

// Close implements todo.Store.
func (f *File) Close() error { return nil }

// snapshot copies the current items. Caller holds mu.
func (f *File) snapshot() map[string]string {
	next := make(map[string]string, len(f.items)+1)
	for k, v := range f.items {
		next[k] = v
	}
	return next
}

// commit writes next to disk and only then makes it visible. Caller holds mu.
func (f *File) commit(next map[string]string) error {
	if err := f.flush(next); err != nil {
		return err
	}
	f.items = next
	return nil
}

// flush writes the document through a temp file and rename.
func (f *File) flush(items map[string]string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("todo/store: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("todo/store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("todo/store: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("todo/store: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("todo/store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("todo/store: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("todo/store: rename: %w", err)
	}
	return nil
}
