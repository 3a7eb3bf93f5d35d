// Package storage persists tree snapshots in a SQLite database.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/spatialtree/models"
	_ "modernc.org/sqlite"
)

const treesSchema = `
CREATE TABLE IF NOT EXISTS trees (
    id TEXT PRIMARY KEY,
    dims INTEGER NOT NULL,
    data BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Open opens the SQLite database at the given data source name. ":memory:"
// opens a database that lives as long as the returned handle.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New("opening sqlite database failed").
			WithType(models.ErrTypeStorage).
			WithTag("dsn", dsn).
			Wrap(err)
	}

	// SQLite serializes writers anyway, and an in-memory database only exists
	// within a single connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

// EnsureSchema creates the trees table if it does not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, treesSchema); err != nil {
		return errors.New("creating sqlite schema failed").
			WithType(models.ErrTypeStorage).
			Wrap(err)
	}
	return nil
}

// SQLiteStore saves tree snapshots in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store backed by db and ensures its schema exists.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("sqlite database is nil").
			WithType(models.ErrTypeStorage)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snapshot models.TreeSnapshot) error {
	if snapshot.ID == "" {
		return errors.New("snapshot id is empty").
			WithType(models.ErrTypeStorage)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trees(id, dims, data, created_at, updated_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dims = excluded.dims,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		snapshot.ID,
		snapshot.Dims,
		snapshot.Data,
		snapshot.CreatedAt.UnixNano(),
		snapshot.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return errors.New("saving snapshot failed").
			WithType(models.ErrTypeStorage).
			WithTag("tree_id", snapshot.ID).
			Wrap(err)
	}
	return nil
}

// Load returns the snapshot with the given id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (models.TreeSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dims, data, created_at, updated_at FROM trees WHERE id = ?`, id)

	snapshot, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return models.TreeSnapshot{}, errors.New("snapshot not found").
			WithType(models.ErrTypeTreeNotFound).
			WithTag("tree_id", id)
	}
	if err != nil {
		return models.TreeSnapshot{}, errors.New("loading snapshot failed").
			WithType(models.ErrTypeStorage).
			WithTag("tree_id", id).
			Wrap(err)
	}
	return snapshot, nil
}

// LoadAll returns every snapshot, oldest tree first.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]models.TreeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dims, data, created_at, updated_at FROM trees ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.New("loading snapshots failed").
			WithType(models.ErrTypeStorage).
			Wrap(err)
	}
	defer rows.Close()

	var snapshots []models.TreeSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.New("reading snapshot row failed").
				WithType(models.ErrTypeStorage).
				Wrap(err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("iterating snapshots failed").
			WithType(models.ErrTypeStorage).
			Wrap(err)
	}
	return snapshots, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trees WHERE id = ?`, id); err != nil {
		return errors.New("deleting snapshot failed").
			WithType(models.ErrTypeStorage).
			WithTag("tree_id", id).
			Wrap(err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (models.TreeSnapshot, error) {
	var snapshot models.TreeSnapshot
	var createdAt, updatedAt int64

	err := row.Scan(
		&snapshot.ID,
		&snapshot.Dims,
		&snapshot.Data,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return models.TreeSnapshot{}, err
	}

	snapshot.CreatedAt = time.Unix(0, createdAt).UTC()
	snapshot.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return snapshot, nil
}

var _ models.Persister = (*SQLiteStore)(nil)
