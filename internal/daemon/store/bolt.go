// internal/daemon/store/bolt.go
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names. Each target gets a nested bucket under bucketBuilds keyed by
// "<started-at nanos, zero padded>/<id>" so a cursor walks attempts in order.
var (
	bucketBuilds = []byte("builds")
	bucketMeta   = []byte("meta")
)

// DefaultKeepPerTarget is the history kept per target when none is given.
const DefaultKeepPerTarget = 100

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	keep int
}

// NewBoltStore creates a new BoltDB-backed store keeping at most
// keepPerTarget records per target.
func NewBoltStore(path string, keepPerTarget int) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBuilds, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if keepPerTarget <= 0 {
		keepPerTarget = DefaultKeepPerTarget
	}
	return &BoltStore{db: db, keep: keepPerTarget}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// RecordBuild persists a finished attempt and prunes the oldest records of
// its target beyond the retention limit.
func (s *BoltStore) RecordBuild(ctx context.Context, rec *BuildRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBuilds)
		if root == nil {
			return fmt.Errorf("builds bucket not found")
		}
		b, err := root.CreateBucketIfNotExists([]byte(rec.Target))
		if err != nil {
			return err
		}

		key := recordKey(rec)
		if b.Get(key) != nil {
			return ErrAlreadyExists
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		return prune(b, s.keep)
	})
}

// GetBuild retrieves one attempt by target and ID.
func (s *BoltStore) GetBuild(ctx context.Context, target, id string) (*BuildRecord, error) {
	var rec *BuildRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := targetBucket(tx, target)
		if b == nil {
			return &NotFoundError{Target: target, ID: id}
		}

		suffix := []byte("/" + id)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if !bytes.HasSuffix(k, suffix) {
				continue
			}
			var r BuildRecord
			if err := decode(v, &r); err != nil {
				return err
			}
			rec = &r
			return nil
		}
		return &NotFoundError{Target: target, ID: id}
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListBuilds lists attempts newest first.
func (s *BoltStore) ListBuilds(ctx context.Context, target string, limit int) ([]*BuildRecord, error) {
	var recs []*BuildRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		if target != "" {
			b := targetBucket(tx, target)
			if b == nil {
				return nil // No bucket = no builds
			}
			var err error
			recs, err = newestFirst(b, limit)
			return err
		}

		root := tx.Bucket(bucketBuilds)
		if root == nil {
			return nil
		}
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil // not a nested bucket
			}
			more, err := newestFirst(root.Bucket(name), limit)
			if err != nil {
				return err
			}
			recs = append(recs, more...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if target == "" {
		sortNewestFirst(recs)
		if limit > 0 && len(recs) > limit {
			recs = recs[:limit]
		}
	}
	return recs, nil
}

func targetBucket(tx *bolt.Tx, target string) *bolt.Bucket {
	root := tx.Bucket(bucketBuilds)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(target))
}

func newestFirst(b *bolt.Bucket, limit int) ([]*BuildRecord, error) {
	var recs []*BuildRecord
	c := b.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		if limit > 0 && len(recs) >= limit {
			break
		}
		var rec BuildRecord
		if err := decode(v, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

// prune deletes the oldest records until at most keep remain.
func prune(b *bolt.Bucket, keep int) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= keep {
		return nil
	}
	for _, k := range keys[:len(keys)-keep] {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func recordKey(rec *BuildRecord) []byte {
	return []byte(fmt.Sprintf("%020d/%s", rec.StartedAt.UnixNano(), rec.ID))
}

func sortNewestFirst(recs []*BuildRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})
}

// encode marshals a value to JSON.
func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// decode unmarshals JSON to a value.
func decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
