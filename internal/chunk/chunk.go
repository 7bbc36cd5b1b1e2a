// Package chunk defines the data model for replicated chunks: content-derived
// identifiers, the owner's reference envelope, the holder's local record, and
// the owner-side lifecycle tracker.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ID derives the chunk identifier from the owner-encrypted payload.
// The id is a pure function of the ciphertext, so any two nodes holding the
// same owner payload compute the same id without coordination, and the id
// reveals nothing about the plaintext.
func ID(ownerPayload []byte) string {
	hash := sha256.Sum256(ownerPayload)
	return hex.EncodeToString(hash[:])
}

// OwnerEnvelope is the owner's reference copy of a chunk: the owner-encrypted
// payload plus the ownership-proof artifact bound to it. Created once at store
// time; immutable thereafter. The owner retains it locally to verify storage
// proofs during audits.
type OwnerEnvelope struct {
	ChunkID        string    `json:"chunk_id"`
	Payload        []byte    `json:"payload"`
	OwnershipProof []byte    `json:"ownership_proof"`
	CreatedAt      time.Time `json:"created_at"`
}

// HolderRecord is a holder's local record for a chunk it stores: the
// doubly-encrypted payload and the ownership-proof artifact encrypted under
// the holder's own key. The owner has no visibility into this representation.
type HolderRecord struct {
	ChunkID        string    `json:"chunk_id"`
	Payload        []byte    `json:"payload"`
	EncryptedProof []byte    `json:"encrypted_proof"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"` // zero means no TTL
}

// Expired reports whether the record's TTL has elapsed.
func (r *HolderRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
