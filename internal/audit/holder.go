package audit

import (
	"errors"
	"time"

	"github.com/holdfast-net/holdfast/internal/crypto"
	"github.com/holdfast-net/holdfast/internal/keystore"
	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/proof"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/store"
	"github.com/holdfast-net/holdfast/internal/transport"
)

// Holder answers storage proof challenges for chunks it holds. Each
// (chunk, seed) pair is answered at most once; a repeated seed is a replay
// and is dropped without response.
type Holder struct {
	ks     *keystore.Keystore
	store  store.Store
	bus    transport.Bus
	scheme proof.Scheme
	ledger *Ledger
}

// NewHolder wires the holder-side challenge handler.
func NewHolder(ks *keystore.Keystore, st store.Store, bus transport.Bus, scheme proof.Scheme, ledger *Ledger) *Holder {
	return &Holder{ks: ks, store: st, bus: bus, scheme: scheme, ledger: ledger}
}

// HandleStorageProofRequest generates and publishes a storage proof for one
// challenge. Misses and expired records are silent.
func (h *Holder) HandleStorageProofRequest(req *protocol.StorageProofRequest) {
	if len(req.ChallengeSeed) == 0 {
		return
	}

	rec, err := h.store.GetRecord(req.ChunkID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Error("store backend failure on challenge lookup", logging.Err(err))
		}
		return
	}
	if rec.Expired(time.Now()) {
		return
	}

	if err := h.ledger.Consume(req.ChunkID, req.ChallengeSeed); err != nil {
		if errors.Is(err, ErrReplayDetected) {
			logging.Debug("dropping replayed challenge",
				logging.String("chunk_id", req.ChunkID))
			return
		}
		logging.Error("failed to record challenge nonce", logging.Err(err))
		return
	}

	// The proof covers the owner-encrypted bytes, so strip this holder's
	// outer layer first.
	var payload []byte
	err = h.ks.UseKey(func(key []byte) error {
		var err error
		payload, err = crypto.Decrypt(key, rec.Payload)
		return err
	})
	if err != nil {
		logging.Error("failed to decrypt holder record for challenge", logging.Err(err),
			logging.String("chunk_id", req.ChunkID))
		return
	}

	p, err := h.scheme.GenerateStorageProof(req.ChunkID, payload, req.ChallengeSeed)
	if err != nil {
		logging.Error("failed to generate storage proof", logging.Err(err))
		return
	}

	resp := &protocol.StorageProofResponse{
		ChunkID:       req.ChunkID,
		ChallengeSeed: req.ChallengeSeed,
		Proof:         p,
		HolderID:      h.ks.NodeID(),
		HolderKey:     h.ks.IdentityPublic(),
	}
	if err := h.ks.UseIdentity(resp.Sign); err != nil {
		logging.Error("failed to sign proof response", logging.Err(err))
		return
	}

	data, err := protocol.Encode(protocol.TypeStorageProofResponse, resp)
	if err != nil {
		logging.Error("failed to encode proof response", logging.Err(err))
		return
	}
	if err := h.bus.Publish(protocol.TopicStorageProofResponse, data); err != nil {
		logging.Error("failed to publish proof response", logging.Err(err))
	}
}
