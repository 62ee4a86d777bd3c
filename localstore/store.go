// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

// Package localstore provides the durable local persistence layer for the
// sync engine: two structured artifact collections (routes, trail guides),
// the backup-notification outbox, and single-slot storage for the flat
// photo/survey queues. Everything lives in one SQLite database file so the
// engine has a single durability domain.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreUnavailable is returned by every operation invoked before Open
// succeeded or after Close.
var ErrStoreUnavailable = errors.New("localstore: store not open")

// ErrNotFound is returned by Get when no record has the given local ID.
var ErrNotFound = errors.New("localstore: record not found")

// schemaVersion is the current PRAGMA user_version. Migrations are additive
// and idempotent; opening an already-migrated store is a no-op.
const schemaVersion = 2

// timeLayout is RFC 3339 with fixed-width nanoseconds. RFC3339Nano drops
// trailing fractional zeros, which breaks lexicographic ordering of stored
// timestamps within a second; the prune queries compare created_at as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Store owns the embedded SQLite database. All operations are atomic at the
// single-record level; the design requires no cross-collection transactions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and migrates the
// schema to the current version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := OpenDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an existing database handle, migrating the schema. The caller
// retains ownership of db only until OpenDB returns nil error; afterwards
// Close on the Store closes it.
func OpenDB(db *sql.DB) (*Store, error) {
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. Subsequent operations return
// ErrStoreUnavailable.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func migrate(db *sql.DB) error {
	// WAL keeps readers unblocked during the engine's background writes.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version < 1 {
		if err := migrateV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateV2(db); err != nil {
			return err
		}
	}
	if version != schemaVersion {
		if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version=%d`, schemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	artifactTable := `(
		local_id       INTEGER PRIMARY KEY AUTOINCREMENT,
		payload        TEXT NOT NULL,
		owner_user_id  TEXT NOT NULL DEFAULT 'anonymous',
		owner_email    TEXT NOT NULL DEFAULT '',
		owner_name     TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','uploaded')),
		retry_count    INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
		remote_id      TEXT NOT NULL DEFAULT '',
		uploaded_at    TEXT,
		CHECK ((status = 'pending' AND remote_id = '' AND uploaded_at IS NULL)
		    OR (status = 'uploaded' AND remote_id <> '' AND uploaded_at IS NOT NULL))
	)`

	tables := []string{
		`CREATE TABLE IF NOT EXISTS pending_routes ` + artifactTable,
		`CREATE TABLE IF NOT EXISTS pending_guides ` + artifactTable,

		`CREATE TABLE IF NOT EXISTS backup_outbox (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL CHECK (kind IN ('route','guide')),
			payload     TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			sent        INTEGER NOT NULL DEFAULT 0,
			sent_at     TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0)
		)`,

		// One value per queue; the flat queues rewrite the whole slot.
		`CREATE TABLE IF NOT EXISTS queue_slots (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func migrateV2(db *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_pending_routes_status ON pending_routes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_routes_created ON pending_routes(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_guides_status ON pending_guides(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_guides_created ON pending_guides(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_backup_outbox_sent ON backup_outbox(sent)`,
	}
	for _, ddl := range indexes {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Insert persists a new artifact and returns its store-assigned local ID.
// Zero-value fields are normalized: empty owner becomes anonymous, zero
// CreatedAt becomes now, empty status becomes pending.
func (s *Store) Insert(ctx context.Context, col Collection, a *Artifact) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if !col.Valid() {
		return 0, fmt.Errorf("localstore: unknown collection %q", col)
	}
	if a.Owner.UserID == "" {
		a.Owner.UserID = AnonymousUserID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (payload, owner_user_id, owner_email, owner_name, created_at,
			status, retry_count, remote_id, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, col), string(a.Payload), a.Owner.UserID, a.Owner.UserEmail, a.Owner.UserName,
		formatTime(a.CreatedAt), string(a.Status), a.RetryCount,
		a.RemoteID, formatNullableTime(a.UploadedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", col, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	a.LocalID = id
	return id, nil
}

// Get returns the artifact with the given local ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, col Collection, localID int64) (*Artifact, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !col.Valid() {
		return nil, fmt.Errorf("localstore: unknown collection %q", col)
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT local_id, payload, owner_user_id, owner_email, owner_name,
			created_at, status, retry_count, remote_id, uploaded_at
		FROM %s WHERE local_id = ?
	`, col), localID)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%d: %w", col, localID, err)
	}
	return a, nil
}

// GetAll returns every artifact in the collection in insertion order.
func (s *Store) GetAll(ctx context.Context, col Collection) ([]*Artifact, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !col.Valid() {
		return nil, fmt.Errorf("localstore: unknown collection %q", col)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT local_id, payload, owner_user_id, owner_email, owner_name,
			created_at, status, retry_count, remote_id, uploaded_at
		FROM %s ORDER BY local_id
	`, col))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", col, err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", col, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", col, err)
	}
	return out, nil
}

// Put fully replaces the stored record identified by a.LocalID. Used for
// status transitions so the uploaded/remoteID/uploadedAt triple lands in a
// single atomic write.
func (s *Store) Put(ctx context.Context, col Collection, a *Artifact) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !col.Valid() {
		return fmt.Errorf("localstore: unknown collection %q", col)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET payload = ?, owner_user_id = ?, owner_email = ?, owner_name = ?,
			created_at = ?, status = ?, retry_count = ?, remote_id = ?, uploaded_at = ?
		WHERE local_id = ?
	`, col), string(a.Payload), a.Owner.UserID, a.Owner.UserEmail, a.Owner.UserName,
		formatTime(a.CreatedAt), string(a.Status), a.RetryCount,
		a.RemoteID, formatNullableTime(a.UploadedAt), a.LocalID)
	if err != nil {
		return fmt.Errorf("failed to update %s/%d: %w", col, a.LocalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record with the given local ID. Deleting a missing
// record is not an error.
func (s *Store) Delete(ctx context.Context, col Collection, localID int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !col.Valid() {
		return fmt.Errorf("localstore: unknown collection %q", col)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, col), localID); err != nil {
		return fmt.Errorf("failed to delete %s/%d: %w", col, localID, err)
	}
	return nil
}

// CountWhere counts the records in col matching pred.
func (s *Store) CountWhere(ctx context.Context, col Collection, pred func(*Artifact) bool) (int, error) {
	all, err := s.GetAll(ctx, col)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if pred(a) {
			n++
		}
	}
	return n, nil
}

// CountPending counts pending records using the status index.
func (s *Store) CountPending(ctx context.Context, col Collection) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if !col.Valid() {
		return 0, fmt.Errorf("localstore: unknown collection %q", col)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = 'pending'`, col)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending in %s: %w", col, err)
	}
	return n, nil
}

// DeleteUploaded prunes every uploaded artifact from the collection and
// returns how many were removed ("clear uploaded" maintenance).
func (s *Store) DeleteUploaded(ctx context.Context, col Collection) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if !col.Valid() {
		return 0, fmt.Errorf("localstore: unknown collection %q", col)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE status = 'uploaded'`, col))
	if err != nil {
		return 0, fmt.Errorf("failed to clear uploaded from %s: %w", col, err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(r rowScanner) (*Artifact, error) {
	var (
		a          Artifact
		payload    string
		createdAt  string
		status     string
		uploadedAt sql.NullString
	)
	err := r.Scan(&a.LocalID, &payload, &a.Owner.UserID, &a.Owner.UserEmail,
		&a.Owner.UserName, &createdAt, &status, &a.RetryCount, &a.RemoteID, &uploadedAt)
	if err != nil {
		return nil, err
	}
	a.Payload = []byte(payload)
	a.Status = ArtifactStatus(status)
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if uploadedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, uploadedAt.String)
		if err != nil {
			return nil, fmt.Errorf("bad uploaded_at %q: %w", uploadedAt.String, err)
		}
		a.UploadedAt = &t
	}
	return &a, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
