package calibrationdb

import (
	"bytes"
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// sqlite driver.
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key is not in the store.
var ErrNotFound = errors.New("calibration not found")

const schema = `
CREATE TABLE IF NOT EXISTS calibrations (
	key TEXT PRIMARY KEY,
	camera_model TEXT NOT NULL,
	record TEXT NOT NULL,
	updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// SQLStore keeps records in a sqlite database under string keys.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens, creating when needed, the sqlite database at path.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, multierr.Combine(errors.Wrap(err, "initializing calibration store"), db.Close())
		}
	}
	return &SQLStore{db: db}, nil
}

// Save stores rec under key, replacing any previous record. An empty key is replaced by a new
// uuid. The key used is returned.
func (s *SQLStore) Save(ctx context.Context, key string, rec *Record) (_ string, err error) {
	if key == "" {
		key = uuid.NewString()
	}
	var buf bytes.Buffer
	if err := rec.Encode(&buf); err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, tx.Rollback())
		}
	}()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calibrations (key, camera_model, record) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			camera_model = excluded.camera_model,
			record = excluded.record,
			updated = CURRENT_TIMESTAMP`,
		key, rec.CameraModel, buf.String()); err != nil {
		return "", errors.Wrapf(err, "saving calibration %q", key)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the record stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM calibrations WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "key %q", key)
	}
	if err != nil {
		return nil, err
	}
	return DecodeRecord([]byte(data))
}

// Has reports whether key is stored.
func (s *SQLStore) Has(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calibrations WHERE key = ?", key).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM calibrations WHERE key = ?", key)
	return err
}

// FindKeysStartingWith returns the sorted keys with the given prefix.
func (s *SQLStore) FindKeysStartingWith(ctx context.Context, prefix string) (keys []string, err error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM calibrations WHERE substr(key, 1, length(?)) = ? ORDER BY key", prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
