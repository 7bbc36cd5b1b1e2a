package replicate

import (
	"errors"
	"time"

	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/crypto"
	"github.com/holdfast-net/holdfast/internal/keystore"
	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/proof"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/store"
	"github.com/holdfast-net/holdfast/internal/transport"
)

// Holder is the holder-side store path: admission, double encryption,
// persistence, and the signed ACK. Every rejection is silent.
type Holder struct {
	ks     *keystore.Keystore
	store  store.Store
	bus    transport.Bus
	policy *AdmissionPolicy
	scheme proof.Scheme
}

// NewHolder wires the holder-side store handler.
func NewHolder(ks *keystore.Keystore, st store.Store, bus transport.Bus, policy *AdmissionPolicy, scheme proof.Scheme) *Holder {
	return &Holder{ks: ks, store: st, bus: bus, policy: policy, scheme: scheme}
}

// HandleStoreRequest processes one inbound store request. A request for a
// chunk already held re-ACKs without re-storing (idempotent under
// at-least-once delivery and healing rounds).
func (h *Holder) HandleStoreRequest(req *protocol.StoreRequest) {
	log := logging.L().With(
		logging.String("chunk_id", req.ChunkID),
		logging.String("round_id", req.RoundID))

	existing, err := h.store.GetRecord(req.ChunkID)
	if err == nil && !existing.Expired(time.Now()) {
		log.Debug("already holding chunk, re-acking")
		h.publishAck(req)
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("store backend failure on lookup", logging.Err(err))
		return
	}

	// The id must be the digest of the payload; a mismatch is either
	// corruption or an attempt to poison the id space.
	if chunk.ID(req.Payload) != req.ChunkID {
		log.Debug("chunk id does not match payload digest, ignoring")
		return
	}
	if len(req.OwnershipProof) == 0 {
		log.Debug("store request without ownership proof, ignoring")
		return
	}

	if !h.policy.Admit(int64(len(req.Payload))) {
		log.Debug("admission policy rejected store request")
		return
	}

	rec := &chunk.HolderRecord{
		ChunkID:   req.ChunkID,
		CreatedAt: time.Now().UTC(),
	}
	if req.TTLSeconds > 0 {
		rec.ExpiresAt = rec.CreatedAt.Add(time.Duration(req.TTLSeconds) * time.Second)
	}

	err = h.ks.UseKey(func(key []byte) error {
		var err error
		if rec.Payload, err = crypto.Encrypt(key, req.Payload); err != nil {
			return err
		}
		rec.EncryptedProof, err = crypto.Encrypt(key, req.OwnershipProof)
		return err
	})
	if err != nil {
		log.Error("failed to encrypt holder record", logging.Err(err))
		return
	}

	if err := h.store.PutRecord(rec); err != nil {
		log.Error("failed to persist holder record", logging.Err(err))
		return
	}

	log.Info("stored chunk", logging.Int("payload_bytes", len(req.Payload)))
	h.publishAck(req)
}

func (h *Holder) publishAck(req *protocol.StoreRequest) {
	ack := &protocol.StoreAck{
		ChunkID:   req.ChunkID,
		RoundID:   req.RoundID,
		HolderID:  h.ks.NodeID(),
		HolderKey: h.ks.IdentityPublic(),
	}
	if err := h.ks.UseIdentity(ack.Sign); err != nil {
		logging.Error("failed to sign store ack", logging.Err(err))
		return
	}

	data, err := protocol.Encode(protocol.TypeStoreAck, ack)
	if err != nil {
		logging.Error("failed to encode store ack", logging.Err(err))
		return
	}
	if err := h.bus.Publish(protocol.TopicStoreAck, data); err != nil {
		logging.Error("failed to publish store ack", logging.Err(err))
	}
}

// HandleDeleteRequest drops the holder's record when the presented ownership
// proof matches the artifact stored at store time. Silent either way: no
// delete response message exists.
func (h *Holder) HandleDeleteRequest(req *protocol.DeleteRequest) {
	rec, err := h.store.GetRecord(req.ChunkID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Error("store backend failure on delete lookup", logging.Err(err))
		}
		return
	}

	var reference []byte
	err = h.ks.UseKey(func(key []byte) error {
		var err error
		reference, err = crypto.Decrypt(key, rec.EncryptedProof)
		return err
	})
	if err != nil {
		logging.Error("failed to decrypt stored ownership proof", logging.Err(err))
		return
	}

	if !h.scheme.VerifyOwnershipProof(req.OwnershipProof, reference, req.ChunkID) {
		logging.Debug("delete request with invalid ownership proof, ignoring",
			logging.String("chunk_id", req.ChunkID))
		return
	}

	if err := h.store.DeleteRecord(req.ChunkID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Error("failed to delete holder record", logging.Err(err))
		return
	}
	logging.Info("deleted chunk on owner request", logging.String("chunk_id", req.ChunkID))
}

// EvictExpired removes records whose TTL elapsed. Expired records behave
// exactly like absent ones from then on.
func (h *Holder) EvictExpired(now time.Time) int {
	ids, err := h.store.ListRecords()
	if err != nil {
		logging.Error("janitor: failed to list records", logging.Err(err))
		return 0
	}

	evicted := 0
	for _, id := range ids {
		rec, err := h.store.GetRecord(id)
		if err != nil {
			continue
		}
		if !rec.Expired(now) {
			continue
		}
		if err := h.store.DeleteRecord(id); err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.Error("janitor: failed to evict record", logging.Err(err))
			continue
		}
		evicted++
		logging.Info("evicted expired chunk", logging.String("chunk_id", id))
	}
	return evicted
}
