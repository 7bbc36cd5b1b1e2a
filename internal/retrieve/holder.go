package retrieve

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

// Holder is the holder-side retrieval path. A miss, an expired record, or an
// invalid ownership proof all produce the same observable behavior: nothing.
// A non-match must be indistinguishable from a holder that is not listening.
type Holder struct {
	ks     *keystore.Keystore
	store  store.Store
	bus    transport.Bus
	scheme proof.Scheme
}

// NewHolder wires the holder-side retrieval handler.
func NewHolder(ks *keystore.Keystore, st store.Store, bus transport.Bus, scheme proof.Scheme) *Holder {
	return &Holder{ks: ks, store: st, bus: bus, scheme: scheme}
}

// HandleRetrieveRequest answers a retrieval request if and only if this
// holder has a live record and the presented ownership proof matches the
// artifact stored at store time. The response payload is the record with
// only this holder's outer encryption layer stripped: still owner-encrypted,
// never plaintext.
func (h *Holder) HandleRetrieveRequest(req *protocol.RetrieveRequest) {
	rec, err := h.store.GetRecord(req.ChunkID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Error("store backend failure on retrieve lookup", logging.Err(err))
		}
		return
	}
	if rec.Expired(time.Now()) {
		return
	}

	var reference, payload []byte
	err = h.ks.UseKey(func(key []byte) error {
		var err error
		if reference, err = crypto.Decrypt(key, rec.EncryptedProof); err != nil {
			return err
		}
		payload, err = crypto.Decrypt(key, rec.Payload)
		return err
	})
	if err != nil {
		logging.Error("failed to decrypt holder record", logging.Err(err),
			logging.String("chunk_id", req.ChunkID))
		return
	}

	if !h.scheme.VerifyOwnershipProof(req.OwnershipProof, reference, req.ChunkID) {
		logging.Debug("retrieve request with invalid ownership proof, staying silent",
			logging.String("chunk_id", req.ChunkID))
		return
	}

	resp := &protocol.RetrieveResponse{
		ChunkID:   req.ChunkID,
		Payload:   payload,
		HolderID:  h.ks.NodeID(),
		HolderKey: h.ks.IdentityPublic(),
	}
	if err := h.ks.UseIdentity(resp.Sign); err != nil {
		logging.Error("failed to sign retrieve response", logging.Err(err))
		return
	}

	data, err := protocol.Encode(protocol.TypeRetrieveResponse, resp)
	if err != nil {
		logging.Error("failed to encode retrieve response", logging.Err(err))
		return
	}
	if err := h.bus.Publish(protocol.TopicRetrieveResponse, data); err != nil {
		logging.Error("failed to publish retrieve response", logging.Err(err))
	}
}
