// Package proof defines the pluggable ownership/storage proof capability and
// its keyed-hash backend. Callers depend only on the Scheme interface so the
// backend can later be swapped for a succinct proof system without touching
// the protocol engines.
package proof

// Scheme is the abstract proof capability.
//
// Ownership proofs demonstrate possession of the owner's decryption key for a
// chunk without revealing the key. They are deterministic: generating twice
// with the same key and chunk id yields the same artifact. Holders verify a
// presented proof against the reference artifact stored at store time, with
// no owner interaction.
//
// Storage proofs demonstrate byte-exact possession of the stored ciphertext,
// bound to a one-time challenge seed. Any corruption or substitution of the
// payload changes the proof.
type Scheme interface {
	// Name identifies the backend on the wire and in logs.
	Name() string

	// GenerateOwnershipProof derives the ownership artifact for chunkID
	// from the owner's secret key.
	GenerateOwnershipProof(ownerKey []byte, chunkID string) ([]byte, error)

	// VerifyOwnershipProof checks a presented proof against the reference
	// artifact recorded at store time.
	VerifyOwnershipProof(presented, reference []byte, chunkID string) bool

	// GenerateStorageProof computes the proof a holder sends in answer to
	// a challenge: bound to the chunk id, the exact owner-encrypted
	// payload, and the single-use challenge seed.
	GenerateStorageProof(chunkID string, payload, challengeSeed []byte) ([]byte, error)

	// VerifyStorageProof recomputes the expected proof from the verifier's
	// reference payload and compares.
	VerifyStorageProof(presented []byte, chunkID string, payload, challengeSeed []byte) bool
}
