package protocol

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/holdfast-net/holdfast/internal/crypto"
)

// Holder responses are signed over a canonical digest of their fields
// (signature excluded), so owners can verify the response is bound to the
// holder identity that produced it.

func canonicalDigest(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign data: %w", err)
	}
	hash := sha256.Sum256(data)
	return hash[:], nil
}

// SigningDigest returns the canonical digest a store ACK is signed over.
func (m *StoreAck) SigningDigest() ([]byte, error) {
	return canonicalDigest(struct {
		Type      string `json:"type"`
		ChunkID   string `json:"chunk_id"`
		RoundID   string `json:"round_id"`
		HolderID  string `json:"holder_id"`
		HolderKey []byte `json:"holder_key"`
	}{TypeStoreAck, m.ChunkID, m.RoundID, m.HolderID, m.HolderKey})
}

// Sign fills in the holder signature.
func (m *StoreAck) Sign(privateKey []byte) error {
	digest, err := m.SigningDigest()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(privateKey, digest)
	if err != nil {
		return fmt.Errorf("failed to sign store ack: %w", err)
	}
	m.Signature = sig
	return nil
}

// VerifySignature checks the signature against the embedded holder key and
// that the holder id matches that key.
func (m *StoreAck) VerifySignature() bool {
	digest, err := m.SigningDigest()
	if err != nil {
		return false
	}
	return crypto.KeyID(m.HolderKey) == m.HolderID && crypto.Verify(m.HolderKey, digest, m.Signature)
}

// SigningDigest returns the canonical digest a retrieve response is signed over.
func (m *RetrieveResponse) SigningDigest() ([]byte, error) {
	payloadHash := sha256.Sum256(m.Payload)
	return canonicalDigest(struct {
		Type        string `json:"type"`
		ChunkID     string `json:"chunk_id"`
		PayloadHash []byte `json:"payload_hash"`
		HolderID    string `json:"holder_id"`
		HolderKey   []byte `json:"holder_key"`
	}{TypeRetrieveResponse, m.ChunkID, payloadHash[:], m.HolderID, m.HolderKey})
}

// Sign fills in the holder signature.
func (m *RetrieveResponse) Sign(privateKey []byte) error {
	digest, err := m.SigningDigest()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(privateKey, digest)
	if err != nil {
		return fmt.Errorf("failed to sign retrieve response: %w", err)
	}
	m.Signature = sig
	return nil
}

// VerifySignature checks the signature against the embedded holder key.
func (m *RetrieveResponse) VerifySignature() bool {
	digest, err := m.SigningDigest()
	if err != nil {
		return false
	}
	return crypto.KeyID(m.HolderKey) == m.HolderID && crypto.Verify(m.HolderKey, digest, m.Signature)
}

// SigningDigest returns the canonical digest a storage proof response is
// signed over.
func (m *StorageProofResponse) SigningDigest() ([]byte, error) {
	return canonicalDigest(struct {
		Type          string `json:"type"`
		ChunkID       string `json:"chunk_id"`
		ChallengeSeed []byte `json:"challenge_seed"`
		Proof         []byte `json:"proof"`
		HolderID      string `json:"holder_id"`
		HolderKey     []byte `json:"holder_key"`
	}{TypeStorageProofResponse, m.ChunkID, m.ChallengeSeed, m.Proof, m.HolderID, m.HolderKey})
}

// Sign fills in the holder signature.
func (m *StorageProofResponse) Sign(privateKey []byte) error {
	digest, err := m.SigningDigest()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(privateKey, digest)
	if err != nil {
		return fmt.Errorf("failed to sign proof response: %w", err)
	}
	m.Signature = sig
	return nil
}

// VerifySignature checks the signature against the embedded holder key.
func (m *StorageProofResponse) VerifySignature() bool {
	digest, err := m.SigningDigest()
	if err != nil {
		return false
	}
	return crypto.KeyID(m.HolderKey) == m.HolderID && crypto.Verify(m.HolderKey, digest, m.Signature)
}
