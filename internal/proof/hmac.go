package proof

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// ownershipContext domain-separates ownership proofs from any other HMAC use
// of the node key.
const ownershipContext = "holdfast/ownership/v1"

// HMACScheme is the minimum-viable proof backend: HMAC-SHA256 for both
// ownership and storage proofs.
type HMACScheme struct{}

// NewHMACScheme returns the keyed-hash proof backend.
func NewHMACScheme() *HMACScheme {
	return &HMACScheme{}
}

// Name implements Scheme.
func (s *HMACScheme) Name() string { return "hmac-sha256" }

// GenerateOwnershipProof computes HMAC-SHA256(ownerKey, context || chunkID).
func (s *HMACScheme) GenerateOwnershipProof(ownerKey []byte, chunkID string) ([]byte, error) {
	if len(ownerKey) == 0 {
		return nil, errors.New("owner key required")
	}
	mac := hmac.New(sha256.New, ownerKey)
	mac.Write([]byte(ownershipContext))
	mac.Write([]byte(chunkID))
	return mac.Sum(nil), nil
}

// VerifyOwnershipProof compares the presented proof against the reference
// artifact in constant time. The chunk id is implicit in the reference, which
// was generated bound to it.
func (s *HMACScheme) VerifyOwnershipProof(presented, reference []byte, chunkID string) bool {
	if len(presented) == 0 || len(reference) == 0 {
		return false
	}
	return hmac.Equal(presented, reference)
}

// GenerateStorageProof computes HMAC-SHA256(challengeSeed, chunkID || payload).
// Keying by the seed makes the proof worthless outside its challenge.
func (s *HMACScheme) GenerateStorageProof(chunkID string, payload, challengeSeed []byte) ([]byte, error) {
	if len(challengeSeed) == 0 {
		return nil, errors.New("challenge seed required")
	}
	if len(payload) == 0 {
		return nil, errors.New("payload required")
	}
	mac := hmac.New(sha256.New, challengeSeed)
	mac.Write([]byte(chunkID))
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// VerifyStorageProof recomputes the expected proof from the reference payload
// and compares in constant time.
func (s *HMACScheme) VerifyStorageProof(presented []byte, chunkID string, payload, challengeSeed []byte) bool {
	expected, err := s.GenerateStorageProof(chunkID, payload, challengeSeed)
	if err != nil {
		return false
	}
	return hmac.Equal(presented, expected)
}
