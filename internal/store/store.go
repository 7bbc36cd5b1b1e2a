// Package store defines the persistent chunk store boundary and its backends.
// Holders persist HolderRecords; owners persist their reference
// OwnerEnvelopes. Backend failures are always surfaced, never masked as
// success.
package store

import (
	"errors"

	"github.com/holdfast-net/holdfast/internal/chunk"
)

// ErrNotFound is returned when no record or envelope exists for a chunk id.
// It is the only "absence" signal; everything else is a backend failure.
var ErrNotFound = errors.New("store: chunk not found")

// Store persists opaque encrypted blobs and their metadata by chunk id.
type Store interface {
	// Holder-side records (doubly-encrypted payloads).
	PutRecord(rec *chunk.HolderRecord) error
	GetRecord(chunkID string) (*chunk.HolderRecord, error)
	DeleteRecord(chunkID string) error
	ListRecords() ([]string, error)

	// Owner-side reference envelopes (owner-encrypted payloads).
	PutEnvelope(env *chunk.OwnerEnvelope) error
	GetEnvelope(chunkID string) (*chunk.OwnerEnvelope, error)
	DeleteEnvelope(chunkID string) error
	ListEnvelopes() ([]string, error)

	// UsedBytes reports the total payload bytes held in records, for
	// admission capacity checks.
	UsedBytes() (int64, error)

	Close() error
}
