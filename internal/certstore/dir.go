package certstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

// Dir reads certificates from a local directory.
type Dir string

func (d Dir) Read(_ context.Context, domain, name string) ([]byte, error) {
	path := filepath.Join(string(d), domain, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
