package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/types"
)

var bucketOperations = []byte("operations")

const (
	// DefaultPath is the default location of the journal database
	DefaultPath = "/var/lib/burrow/journal.db"

	// DefaultMaxEntries is the number of entries kept when none is configured
	DefaultMaxEntries = 1000
)

// Journal records finished operations
type Journal interface {
	Record(entry *types.JournalEntry) error
	List(limit int) ([]types.JournalEntry, error)
	Close() error
}

// BoltStore implements Journal using BoltDB
type BoltStore struct {
	db         *bolt.DB
	maxEntries int
}

// Open opens or creates the journal database at path
func Open(path string, maxEntries int) (*BoltStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketOperations); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketOperations, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, maxEntries: maxEntries}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Record appends an entry, assigning an ID when it has none, and drops the
// oldest entries beyond the configured maximum
func (s *BoltStore) Record(entry *types.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-s.maxEntries; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
func (s *BoltStore) List(limit int) ([]types.JournalEntry, error) {
	entries := []types.JournalEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOperations).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry types.JournalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Ping verifies the database is readable
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketOperations) == nil {
			return fmt.Errorf("bucket %s missing", bucketOperations)
		}
		return nil
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
