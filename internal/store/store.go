// Package store defines the persistence interfaces the hub reads and
// writes through. Tree and branch records are owned by an external admin
// API; this process only reads them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// VersionLayout formats document versions: second precision, no zone.
const VersionLayout = "2006-01-02T15:04:05"

// FormatVersion formats t in UTC with VersionLayout.
func FormatVersion(t time.Time) string {
	return t.UTC().Format(VersionLayout)
}

// ConfigStorage persists the config document.
type ConfigStorage interface {
	// LoadConfig returns ErrNotFound if nothing has been saved yet.
	LoadConfig(ctx context.Context) (json.RawMessage, error)
	SaveConfig(ctx context.Context, doc json.RawMessage) error
}

// Branch is one branch of a tree.
type Branch struct {
	ID        string    `json:"branch_id"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Tree is a registered tree and its branches.
type Tree struct {
	UUID      string    `json:"uuid"`
	ID        string    `json:"tree_id"`
	Name      string    `json:"name"`
	Disabled  bool      `json:"disabled"`
	UpdatedAt time.Time `json:"updated_at"`
	Branches  []Branch  `json:"branches"`
}

// Version is the most recent update to the tree or any of its branches.
func (t *Tree) Version() string {
	latest := t.UpdatedAt
	for _, b := range t.Branches {
		if b.UpdatedAt.After(latest) {
			latest = b.UpdatedAt
		}
	}
	return FormatVersion(latest)
}

// TreeStore looks up trees by their public id.
type TreeStore interface {
	GetTree(ctx context.Context, treeID string) (*Tree, error)
}
