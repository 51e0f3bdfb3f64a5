package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pders01/ttsync/internal/debuglog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrUnavailable is logged when an operation runs against a closed or
// never-opened store. Callers receive empty results instead.
var ErrUnavailable = errors.New("local store unavailable")

const memoryPath = ":memory:"

// Store is the relational article cache. Readers share mu, every write path
// holds it exclusively for the whole transaction.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string

	freshMaxAge atomic.Int64
	now         func() time.Time
}

// Open creates or opens the cache at dbPath. A database that fails the
// schema probe is moved aside and recreated.
func Open(dbPath string) (*Store, error) {
	s, err := open(dbPath)
	if err == nil || dbPath == memoryPath || !isCorrupt(err) {
		return s, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	debuglog.Warnf("cache database %s is corrupt (%v), moving it to %s", dbPath, err, aside)
	if renameErr := os.Rename(dbPath, aside); renameErr != nil {
		return nil, fmt.Errorf("moving corrupt database aside: %w", renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	return open(dbPath)
}

func open(dbPath string) (*Store, error) {
	dsn := memoryPath + "?_pragma=foreign_keys(1)"
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == memoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("probing schema: %w", err)
	}

	s := &Store{db: db, path: dbPath, now: time.Now}
	s.freshMaxAge.Store(int64(24 * time.Hour))
	return s, nil
}

func isCorrupt(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Available reports whether the store can serve queries.
func (s *Store) Available() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// SetFreshMaxAge sets the age limit used by the Fresh virtual category.
func (s *Store) SetFreshMaxAge(d time.Duration) {
	if d > 0 {
		s.freshMaxAge.Store(int64(d))
	}
}

// FreshMaxAge returns the age limit used by the Fresh virtual category.
func (s *Store) FreshMaxAge() time.Duration {
	return time.Duration(s.freshMaxAge.Load())
}

func (s *Store) freshSince() int64 {
	return s.now().Add(-s.FreshMaxAge()).Unix()
}

// view runs fn under the read lock. It reports false when the store is
// unavailable, in which case fn is not called.
func (s *Store) view(op string, fn func(db *sql.DB) error) (bool, error) {
	if s == nil {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		debuglog.Warnf("storage: %s skipped: %v", op, ErrUnavailable)
		return false, nil
	}
	if err := fn(s.db); err != nil {
		return true, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// update runs fn inside one transaction under the write lock.
func (s *Store) update(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		debuglog.Warnf("storage: %s skipped: %v", op, ErrUnavailable)
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// idList encodes ids as a JSON array for use with json_each(?).
func idList(ids []int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	b.WriteByte(']')
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanIDs(rows *sql.Rows) ([]int, error) {
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
