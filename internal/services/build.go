package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

// BuildOptions locates the YAML sources of a config document.
type BuildOptions struct {
	// DefaultDir holds the shipped defaults, one YAML file per top-level key.
	DefaultDir string
	// UserDir holds overrides; a file here replaces the default of the same name.
	UserDir string
	// Extra keys are set last, e.g. domain and environment.
	Extra map[string]any
	// Now stamps the version. Zero means time.Now.
	Now time.Time
}

// BuildConfig assembles a config document from YAML files and stamps it
// with a version.
func BuildConfig(opts BuildOptions) (json.RawMessage, error) {
	doc := map[string]any{}
	for _, dir := range []string{opts.DefaultDir, opts.UserDir} {
		if dir == "" {
			continue
		}
		if err := loadYAMLDir(dir, doc); err != nil {
			return nil, err
		}
	}
	for k, v := range opts.Extra {
		doc[k] = v
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	doc["version"] = store.FormatVersion(now)

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return raw, nil
}

func loadYAMLDir(dir string, into map[string]any) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		into[strings.TrimSuffix(name, filepath.Ext(name))] = jsonable(v)
	}
	return nil
}

// jsonable converts YAML maps with non-string keys into string-keyed maps.
func jsonable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = jsonable(x)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[fmt.Sprint(k)] = jsonable(x)
		}
		return m
	case []any:
		for i, x := range t {
			t[i] = jsonable(x)
		}
		return t
	default:
		return v
	}
}
