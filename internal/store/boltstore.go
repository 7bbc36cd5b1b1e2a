package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/holdfast-net/holdfast/internal/chunk"
)

var (
	bucketRecords   = []byte("records")
	bucketEnvelopes = []byte("envelopes")
)

// BoltStore is the bbolt backend: records and envelopes live in two buckets
// of a single database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a bolt store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketEnvelopes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) put(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) list(bucket []byte) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// PutRecord persists a holder record.
func (s *BoltStore) PutRecord(rec *chunk.HolderRecord) error {
	if err := validateChunkID(rec.ChunkID); err != nil {
		return err
	}
	return s.put(bucketRecords, rec.ChunkID, rec)
}

// GetRecord loads a holder record, returning ErrNotFound if absent.
func (s *BoltStore) GetRecord(chunkID string) (*chunk.HolderRecord, error) {
	var rec chunk.HolderRecord
	if err := s.get(bucketRecords, chunkID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord removes a holder record.
func (s *BoltStore) DeleteRecord(chunkID string) error {
	return s.delete(bucketRecords, chunkID)
}

// ListRecords returns all stored record ids.
func (s *BoltStore) ListRecords() ([]string, error) {
	return s.list(bucketRecords)
}

// PutEnvelope persists an owner envelope.
func (s *BoltStore) PutEnvelope(env *chunk.OwnerEnvelope) error {
	if err := validateChunkID(env.ChunkID); err != nil {
		return err
	}
	return s.put(bucketEnvelopes, env.ChunkID, env)
}

// GetEnvelope loads an owner envelope, returning ErrNotFound if absent.
func (s *BoltStore) GetEnvelope(chunkID string) (*chunk.OwnerEnvelope, error) {
	var env chunk.OwnerEnvelope
	if err := s.get(bucketEnvelopes, chunkID, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DeleteEnvelope removes an owner envelope.
func (s *BoltStore) DeleteEnvelope(chunkID string) error {
	return s.delete(bucketEnvelopes, chunkID)
}

// ListEnvelopes returns all stored envelope ids.
func (s *BoltStore) ListEnvelopes() ([]string, error) {
	return s.list(bucketEnvelopes)
}

// UsedBytes sums the payload bytes of all holder records.
func (s *BoltStore) UsedBytes() (int64, error) {
	var total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var rec chunk.HolderRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			total += int64(len(rec.Payload))
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
