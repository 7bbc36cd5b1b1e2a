// Package protocol defines the wire messages exchanged between owners and
// holders, their topics, and the canonical digests holder responses are
// signed over. Owners are identity-free on the wire; their authority is the
// ownership proof. Holder responses are bound to an Ed25519 identity so
// owners can pin the key on first contact.
package protocol

import "encoding/json"

// Message type identifiers, carried in the envelope.
const (
	TypeStoreRequest         = "store_request"
	TypeStoreAck             = "store_ack"
	TypeRetrieveRequest      = "retrieve_request"
	TypeRetrieveResponse     = "retrieve_response"
	TypeStorageProofRequest  = "proof_of_storage_request"
	TypeStorageProofResponse = "proof_of_storage_response"
	TypeDeleteRequest        = "delete_request"
)

// Topics. Requests fan out to all listening holders; responses come back on
// the shared response topics and are correlated by chunk id, round id, or
// challenge seed.
const (
	TopicStoreRequest         = "holdfast/store/request"
	TopicStoreAck             = "holdfast/store/ack"
	TopicRetrieveRequest      = "holdfast/retrieve/request"
	TopicRetrieveResponse     = "holdfast/retrieve/response"
	TopicStorageProofRequest  = "holdfast/proof/request"
	TopicStorageProofResponse = "holdfast/proof/response"
	TopicDeleteRequest        = "holdfast/delete/request"
)

// StoreRequest asks listening holders to store an owner-encrypted payload.
// RoundID correlates ACKs with one store round; holders that already hold
// the chunk re-ACK idempotently without re-storing.
type StoreRequest struct {
	ChunkID        string `json:"chunk_id"`
	RoundID        string `json:"round_id"`
	Payload        []byte `json:"owner_payload"`
	OwnershipProof []byte `json:"ownership_proof"`
	QuorumN        int    `json:"quorum_n"`
	TTLSeconds     int64  `json:"ttl,omitempty"`
}

// StoreAck is a holder's signed acknowledgement that it persisted the chunk.
type StoreAck struct {
	ChunkID   string `json:"chunk_id"`
	RoundID   string `json:"round_id"`
	HolderID  string `json:"holder_id"`
	HolderKey []byte `json:"holder_key"`
	Signature []byte `json:"signature"`
}

// RetrieveRequest asks holders of a chunk to return the owner-encrypted
// payload. The ownership proof gates the response; the request is idempotent
// and retried verbatim.
type RetrieveRequest struct {
	ChunkID        string `json:"chunk_id"`
	OwnershipProof []byte `json:"ownership_proof"`
}

// RetrieveResponse returns the owner-encrypted payload (the holder's outer
// layer already stripped), signed by the responding holder.
type RetrieveResponse struct {
	ChunkID   string `json:"chunk_id"`
	Payload   []byte `json:"payload"`
	HolderID  string `json:"holder_id"`
	HolderKey []byte `json:"holder_key"`
	Signature []byte `json:"signature"`
}

// StorageProofRequest challenges holders to prove byte-exact possession.
// The seed is a single-use nonce; it also correlates responses to the round.
type StorageProofRequest struct {
	ChunkID       string `json:"chunk_id"`
	ChallengeSeed []byte `json:"challenge_seed"`
}

// StorageProofResponse carries a holder's storage proof for one challenge.
type StorageProofResponse struct {
	ChunkID       string `json:"chunk_id"`
	ChallengeSeed []byte `json:"challenge_seed"`
	Proof         []byte `json:"proof"`
	HolderID      string `json:"holder_id"`
	HolderKey     []byte `json:"holder_key"`
	Signature     []byte `json:"signature"`
}

// DeleteRequest asks holders to drop their record for a chunk. Gated by the
// same ownership proof as retrieval; holders stay silent either way.
type DeleteRequest struct {
	ChunkID        string `json:"chunk_id"`
	OwnershipProof []byte `json:"ownership_proof"`
}

// Envelope wraps a typed message for the wire.
type Envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}
