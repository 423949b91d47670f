// Package store persists per-source playback positions so a player can
// resume where it left off. Positions are kept in a single-bucket bbolt
// database keyed by source path.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var positionsBucket = []byte("positions")

// entry is the stored value for one source.
type entry struct {
	PositionNs int64     `json:"positionNs"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store is a bbolt-backed resume-position database. It is safe for
// concurrent use.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(positionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// SavePosition records the playback position for source, overwriting any
// previous value.
func (s *Store) SavePosition(source string, position time.Duration) error {
	value, err := json.Marshal(entry{
		PositionNs: int64(position),
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store: encode position: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(positionsBucket).Put([]byte(source), value)
	})
}

// Position returns the saved position for source. The second return value
// is false when no position has been saved.
func (s *Store) Position(source string) (time.Duration, bool, error) {
	var e entry
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(positionsBucket).Get([]byte(source))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &e)
	})
	if err != nil {
		return 0, false, fmt.Errorf("store: read position: %w", err)
	}
	return time.Duration(e.PositionNs), found, nil
}

// Forget removes the saved position for source, if any.
func (s *Store) Forget(source string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(positionsBucket).Delete([]byte(source))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
