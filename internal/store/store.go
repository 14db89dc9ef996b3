package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// Container states. Provisioning never persists a row (failures roll
// back to absent) and removal always tears the sandbox down, so records
// only ever hold these two.
const (
	StateRunning = "running"
	StateRemoved = "removed"
)

// Container is the persisted record binding one user to one sandbox
// container. user_id is the primary key, so at most one record exists per
// user; re-provisioning a removed user replaces the row wholesale.
type Container struct {
	UserID      string    `json:"user_id"`
	ContainerID string    `json:"container_id"`
	Image       string    `json:"image"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
}

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS containers (
	user_id      TEXT PRIMARY KEY,
	container_id TEXT NOT NULL,
	image        TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'running',
	created_at   DATETIME NOT NULL,
	last_active  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_containers_state ON containers(state);
`

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. PRAGMAs in the DSN are applied
// per-connection by the driver.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (manager and reaper overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL, far faster writes than FULL
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetByUser returns the record for userID, or nil when none exists.
func (s *Store) GetByUser(userID string) (*Container, error) {
	row := s.db.QueryRow(
		`SELECT user_id, container_id, image, state, created_at, last_active
		 FROM containers WHERE user_id = ?`, userID,
	)
	return scanContainer(row)
}

// Upsert inserts the record, replacing any existing row for the same user.
func (s *Store) Upsert(c *Container) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO containers (user_id, container_id, image, state, created_at, last_active)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
				container_id = excluded.container_id,
				image        = excluded.image,
				state        = excluded.state,
				created_at   = excluded.created_at,
				last_active  = excluded.last_active`,
			c.UserID, c.ContainerID, c.Image, c.State,
			c.CreatedAt.UTC(), c.LastActive.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("upserting container: %w", err)
	}
	return nil
}

// Touch refreshes last_active for the user's record.
func (s *Store) Touch(userID string, at time.Time) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE containers SET last_active = ? WHERE user_id = ?`,
			at.UTC(), userID,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("touching container: %w", err)
	}
	return checkRowAffected(result, userID)
}

// MarkRemoved transitions the user's record to the removed state. Marking
// an absent or already-removed record is a no-op.
func (s *Store) MarkRemoved(userID string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`UPDATE containers SET state = ? WHERE user_id = ?`,
			StateRemoved, userID,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("marking container removed: %w", err)
	}
	return nil
}

// ListRunning returns records in the running state, the candidate set
// for idle eviction.
func (s *Store) ListRunning() ([]*Container, error) {
	rows, err := s.db.Query(
		`SELECT user_id, container_id, image, state, created_at, last_active
		 FROM containers WHERE state = ?`, StateRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("listing running containers: %w", err)
	}
	defer rows.Close()
	return scanContainers(rows)
}

// List returns every record regardless of state. Reconciliation uses it
// to tell orphaned containers apart from recorded ones.
func (s *Store) List() ([]*Container, error) {
	rows, err := s.db.Query(
		`SELECT user_id, container_id, image, state, created_at, last_active
		 FROM containers ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	defer rows.Close()
	return scanContainers(rows)
}

// Delete removes the row entirely. Full teardown (purge) uses this:
// unlike MarkRemoved, no tombstone survives for the user. Deleting an
// absent row is a no-op.
func (s *Store) Delete(userID string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(`DELETE FROM containers WHERE user_id = ?`, userID)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting container: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanContainer(row scannable) (*Container, error) {
	var c Container
	err := row.Scan(
		&c.UserID, &c.ContainerID, &c.Image, &c.State,
		&c.CreatedAt, &c.LastActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning container: %w", err)
	}
	return &c, nil
}

func scanContainers(rows *sql.Rows) ([]*Container, error) {
	var containers []*Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating containers: %w", err)
	}
	return containers, nil
}

func checkRowAffected(result sql.Result, userID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("container for user %s: %w", userID, ErrNotFound)
	}
	return nil
}
