// Package history keeps a bounded, persistent log of past predictions.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"cxrscan/internal/apperr"
)

// Entry is one recorded prediction.
type Entry struct {
	ID             string             `json:"id"`
	Timestamp      time.Time          `json:"timestamp"`
	Thumbnail      string             `json:"thumbnail,omitempty"`
	PredictedClass string             `json:"predicted_class"`
	Confidence     float32            `json:"confidence"`
	AllPredictions map[string]float32 `json:"all_predictions"`
	OverlayRef     string             `json:"overlay_ref,omitempty"`
}

// Store is the bounded append-only log. Record appends and evicts as one
// atomic unit; List returns entries newest first, at most limit of them.
type Store interface {
	Record(e Entry) error
	List(limit int) ([]Entry, error)
	Close() error
}

var bucketHistory = []byte("history")

// BoltStore persists entries in a single-file embedded store. Keys are the
// bucket's monotonically increasing sequence number, so byte order equals
// insertion order and eviction is a prefix delete.
type BoltStore struct {
	db  *bolt.DB
	max int
}

func OpenBolt(path string, maxItems int) (*BoltStore, error) {
	if maxItems <= 0 {
		return nil, &apperr.PersistenceError{Err: fmt.Errorf("max items must be positive, got %d", maxItems)}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, &apperr.PersistenceError{Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &apperr.PersistenceError{Err: err}
	}
	return &BoltStore{db: db, max: maxItems}, nil
}

// Record appends the entry and trims the oldest ones until the bound
// holds, all inside one write transaction. A crash mid-way leaves either
// the previous state or the fully updated one, and readers never observe
// the store above its bound.
func (s *BoltStore) Record(e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return &apperr.PersistenceError{Err: fmt.Errorf("encode entry: %w", err)}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, raw); err != nil {
			return err
		}

		count := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for count > s.max {
			k, _ := b.Cursor().First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
	if err != nil {
		return &apperr.PersistenceError{Err: err}
	}
	return nil
}

func (s *BoltStore) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %x: %w", k, err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, &apperr.PersistenceError{Err: err}
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
