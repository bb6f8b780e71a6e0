// Package filestore persists JSON documents as files. The hub uses it for
// the config document when no database is configured; gateways use it for
// their cached config, secrets and certificate metadata.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

// File is a JSON document stored at Path.
type File struct {
	Path string
}

var _ store.ConfigStorage = (*File)(nil)

// Read returns the file contents, or store.ErrNotFound if it does not exist.
func (f *File) Read() (json.RawMessage, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("read %s: invalid JSON", f.Path)
	}
	return json.RawMessage(data), nil
}

// Write replaces the file atomically.
func (f *File) Write(doc json.RawMessage) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(f.Path))
	if err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

// Version returns the top-level "version" string of the document, or ""
// if the file is missing or has none.
func (f *File) Version() string {
	doc, err := f.Read()
	if err != nil {
		return ""
	}
	var v struct {
		Version string `json:"version"`
	}
	_ = json.Unmarshal(doc, &v)
	return v.Version
}

func (f *File) LoadConfig(context.Context) (json.RawMessage, error) {
	return f.Read()
}

func (f *File) SaveConfig(_ context.Context, doc json.RawMessage) error {
	return f.Write(doc)
}
