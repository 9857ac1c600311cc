package vault

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const createConnectionsTable = `
CREATE TABLE IF NOT EXISTS connections (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	provider      TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	UNIQUE (owner_id, provider)
)`

// SQLiteStore keeps connections in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrapf(err, "could not open database at %s", path)
	}
	if _, err := db.ExecContext(ctx, createConnectionsTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not create connections table")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner_id, provider, access_token, refresh_token, expires_at, updated_at
		FROM connections WHERE id = ?`, id)

	var conn Connection
	var expires, updated int64
	err := row.Scan(&conn.ID, &conn.OwnerID, &conn.Provider, &conn.AccessToken, &conn.RefreshToken, &expires, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not load connection %s", id)
	}
	conn.ExpiresAt = time.Unix(0, expires).UTC()
	conn.UpdatedAt = time.Unix(0, updated).UTC()
	return &conn, nil
}

// Put upserts the full record in one statement.
func (s *SQLiteStore) Put(ctx context.Context, conn *Connection) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO connections
		(id, owner_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		conn.ID, conn.OwnerID, conn.Provider, conn.AccessToken, conn.RefreshToken,
		conn.ExpiresAt.UnixNano(), conn.UpdatedAt.UnixNano())
	if err != nil {
		return errors.Wrapf(err, "could not store connection %s", conn.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "could not delete connection %s", id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
