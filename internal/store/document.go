package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
)

// Document is one JSON file with a cache of its canonical bytes.
// Every Load decodes a fresh value, so callers can mutate what they get.
type Document[T any] struct {
	path  string
	fs    FS
	empty func() T

	mu     sync.Mutex
	cached []byte
}

func newDocument[T any](path string, fsys FS, empty func() T) *Document[T] {
	return &Document[T]{path: path, fs: fsys, empty: empty}
}

func (d *Document[T]) Path() string { return d.path }

// Load returns a private copy of the document.
func (d *Document[T]) Load() (T, error) {
	var zero T
	raw, err := d.canonical()
	if err != nil {
		return zero, err
	}
	return decode[T](raw, d.path)
}

// Save writes data atomically. The cache is dropped before the write starts.
func (d *Document[T]) Save(data T) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	d.Invalidate()
	tmp, err := d.stage(raw)
	if err != nil {
		return err
	}
	if err := d.fs.Rename(tmp, d.path); err != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrPersistFailed, d.path, err)
	}
	return nil
}

func (d *Document[T]) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func (d *Document[T]) cachedBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached
}

// canonical returns the document re-encoded with the store's own formatting,
// reading the file only on a cache miss.
func (d *Document[T]) canonical() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != nil {
		return d.cached, nil
	}
	raw, err := d.fs.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	v, err := decode[T](raw, d.path)
	if err != nil {
		return nil, err
	}
	out, err := encode(v)
	if err != nil {
		return nil, err
	}
	d.cached = out
	return out, nil
}

// ensure creates the file with the empty value when it does not exist yet.
func (d *Document[T]) ensure() error {
	_, err := d.fs.ReadFile(d.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", d.path, err)
	}
	if err := d.fs.MkdirAll(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("create dir for %s: %w", d.path, err)
	}
	return d.Save(d.empty())
}

func (d *Document[T]) stage(raw []byte) (string, error) {
	tmp := d.path + ".tmp"
	if err := d.fs.WriteFile(tmp, raw); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("%w: write %s: %v", ErrPersistFailed, tmp, err)
	}
	return tmp, nil
}

func decode[T any](raw []byte, path string) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return v, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}
