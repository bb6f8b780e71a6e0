// Package postgres implements the store interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store reads trees and persists the config document.
type Store struct {
	db *sql.DB
}

var (
	_ store.ConfigStorage = (*Store)(nil)
	_ store.TreeStore     = (*Store)(nil)
)

// New connects to databaseURL and brings the schema up to date. The
// context bounds only the initial ping.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The hub issues a handful of queries per gateway handshake.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("reaching database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// migrateUp applies the embedded migrations. An already current schema is
// not an error.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	target, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "leafbus_migrations"})
	if err != nil {
		return fmt.Errorf("preparing migration target: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	switch err := m.Up(); {
	case err == nil, errors.Is(err, migrate.ErrNoChange):
		return nil
	default:
		return fmt.Errorf("migrating schema: %w", err)
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadConfig(ctx context.Context) (json.RawMessage, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM earth_config WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return json.RawMessage(doc), nil
}

func (s *Store) SaveConfig(ctx context.Context, doc json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO earth_config (id, document, updated_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		[]byte(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (s *Store) GetTree(ctx context.Context, treeID string) (*store.Tree, error) {
	t := &store.Tree{}
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, tree_id, name, disabled, updated_at FROM trees WHERE tree_id = $1`, treeID).
		Scan(&t.UUID, &t.ID, &t.Name, &t.Disabled, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tree %s: %w", treeID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", treeID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT branch_id, updated_at FROM branches WHERE tree_uuid = $1 ORDER BY branch_id`, t.UUID)
	if err != nil {
		return nil, fmt.Errorf("get branches of %s: %w", treeID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b         store.Branch
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&b.ID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		if updatedAt.Valid {
			b.UpdatedAt = updatedAt.Time
		}
		t.Branches = append(t.Branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return t, nil
}
