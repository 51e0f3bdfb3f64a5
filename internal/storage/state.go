package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	syncBucket  = []byte("sync")
	prefsBucket = []byte("prefs")
	iconsBucket = []byte("icons")

	syncStateKey = []byte("state")
)

// StateStore persists sync metadata that must survive restarts. Per-scope
// freshness timestamps live in memory only.
type StateStore struct {
	db *bolt.DB
}

func OpenState(dbPath string, timeout time.Duration) (*StateStore, error) {
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{syncBucket, prefsBucket, iconsBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &StateStore{db: db}, nil
}

func (s *StateStore) Close() error {
	return s.db.Close()
}

// Load returns the stored sync state, zero valued on first run.
func (s *StateStore) Load() (SyncState, error) {
	var st SyncState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(syncBucket).Get(syncStateKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &st)
	})
	return st, err
}

// Update applies fn to the stored state in one bolt transaction.
func (s *StateStore) Update(fn func(*SyncState)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncBucket)
		var st SyncState
		if data := b.Get(syncStateKey); data != nil {
			if err := json.Unmarshal(data, &st); err != nil {
				return err
			}
		}
		fn(&st)
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put(syncStateKey, data)
	})
}

func (s *StateStore) SinceID() (int, error) {
	st, err := s.Load()
	return st.SinceID, err
}

// SetSinceID raises the high-water mark. It never moves backwards.
func (s *StateStore) SetSinceID(id int) error {
	return s.Update(func(st *SyncState) {
		if id > st.SinceID {
			st.SinceID = id
		}
	})
}

func (s *StateStore) SetLastSync(t time.Time) error {
	return s.Update(func(st *SyncState) { st.LastSync = t })
}

func (s *StateStore) SetLastCleanup(t time.Time) error {
	return s.Update(func(st *SyncState) { st.LastCleanup = t })
}

// Pref returns a cached server preference.
func (s *StateStore) Pref(name string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(prefsBucket).Get([]byte(name)); data != nil {
			value, found = string(data), true
		}
		return nil
	})
	return value, found, err
}

func (s *StateStore) SetPref(name, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(prefsBucket).Put([]byte(name), []byte(value))
	})
}

// IconMeta returns nil when no icon was fetched for the feed yet.
func (s *StateStore) IconMeta(feedID int) (*IconMetadata, error) {
	var meta *IconMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(iconsBucket).Get([]byte(strconv.Itoa(feedID)))
		if data == nil {
			return nil
		}
		meta = &IconMetadata{}
		return json.Unmarshal(data, meta)
	})
	return meta, err
}

func (s *StateStore) SaveIconMeta(meta *IconMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(iconsBucket).Put([]byte(strconv.Itoa(meta.FeedID)), data)
	})
}
