// Package node wires a holdfast node: key material, store backend, protocol
// engines, and the router, over one transport bus. A node can play the owner
// role, the holder role, or both.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/holdfast-net/holdfast/internal/audit"
	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/config"
	"github.com/holdfast-net/holdfast/internal/crypto"
	"github.com/holdfast-net/holdfast/internal/keystore"
	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/proof"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/replicate"
	"github.com/holdfast-net/holdfast/internal/retrieve"
	"github.com/holdfast-net/holdfast/internal/router"
	"github.com/holdfast-net/holdfast/internal/store"
	"github.com/holdfast-net/holdfast/internal/transport"
)

// Options configures a node.
type Options struct {
	Config   *config.Config
	Keystore *keystore.Keystore
	Bus      transport.Bus

	// Store overrides the backend built from Config when non-nil.
	Store store.Store

	// Roles. A node with neither is useless; New rejects it.
	Owner  bool
	Holder bool
}

// Node is one running holdfast participant.
type Node struct {
	cfg    *config.Config
	ks     *keystore.Keystore
	bus    transport.Bus
	store  store.Store
	scheme proof.Scheme

	// Owner side.
	tracker    *chunk.Tracker
	replicator *replicate.Engine
	retriever  *retrieve.Engine
	auditor    *audit.Engine

	// Holder side.
	storeHandler    *replicate.Holder
	retrieveHandler *retrieve.Holder
	proofHandler    *audit.Holder

	router *router.Router
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds and starts a node: opens the store backend, wires the engines
// for the requested roles, subscribes the router, and starts the holder
// janitor and (if configured) the audit scheduler.
func New(opts Options) (*Node, error) {
	if !opts.Owner && !opts.Holder {
		return nil, errors.New("node: at least one of owner/holder role required")
	}
	if opts.Config == nil || opts.Keystore == nil || opts.Bus == nil {
		return nil, errors.New("node: config, keystore, and bus required")
	}

	n := &Node{
		cfg:    opts.Config,
		ks:     opts.Keystore,
		bus:    opts.Bus,
		store:  opts.Store,
		scheme: proof.NewHMACScheme(),
	}

	dataDir := opts.Config.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if n.store == nil {
		var err error
		switch opts.Config.StoreBackend {
		case "bolt":
			n.store, err = store.NewBoltStore(filepath.Join(dataDir, "chunks.db"))
		default:
			n.store, err = store.NewFSStore(dataDir)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open store backend: %w", err)
		}
	}

	var handlers router.Handlers

	if opts.Owner {
		tracker, err := chunk.NewTracker(dataDir)
		if err != nil {
			n.store.Close()
			return nil, err
		}
		ownerLedger, err := audit.NewLedger(filepath.Join(dataDir, "issued-nonces.log"))
		if err != nil {
			n.store.Close()
			return nil, err
		}

		n.tracker = tracker
		n.replicator = replicate.NewEngine(opts.Config.Replication, opts.Bus, tracker)
		n.retriever = retrieve.NewEngine(opts.Config.Retrieval, opts.Bus, tracker)
		n.auditor = audit.NewEngine(opts.Config.Audit, opts.Bus, tracker, n.store, n.scheme, ownerLedger, n.replicator)

		handlers.StoreAck = n.replicator.HandleStoreAck
		handlers.RetrieveResponse = n.retriever.HandleRetrieveResponse
		handlers.StorageProofResponse = n.auditor.HandleStorageProofResponse
	}

	if opts.Holder {
		holderLedger, err := audit.NewLedger(filepath.Join(dataDir, "answered-nonces.log"))
		if err != nil {
			n.store.Close()
			return nil, err
		}

		policy := replicate.NewAdmissionPolicy(opts.Config.Admission, n.store, time.Now().UnixNano())
		n.storeHandler = replicate.NewHolder(opts.Keystore, n.store, opts.Bus, policy, n.scheme)
		n.retrieveHandler = retrieve.NewHolder(opts.Keystore, n.store, opts.Bus, n.scheme)
		n.proofHandler = audit.NewHolder(opts.Keystore, n.store, opts.Bus, n.scheme, holderLedger)

		handlers.StoreRequest = n.storeHandler.HandleStoreRequest
		handlers.RetrieveRequest = n.retrieveHandler.HandleRetrieveRequest
		handlers.StorageProofRequest = n.proofHandler.HandleStorageProofRequest
		handlers.DeleteRequest = n.storeHandler.HandleDeleteRequest
	}

	n.router = router.New(opts.Bus, opts.Config.InboundRatePerSecond)
	if err := n.router.Start(handlers); err != nil {
		n.store.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	if opts.Holder {
		n.wg.Add(1)
		go n.janitorLoop(ctx)
	}
	if opts.Owner && opts.Config.Audit.Interval > 0 {
		scheduler, err := audit.NewScheduler(n.auditor, opts.Config.Audit.Interval)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			scheduler.Run(ctx)
		}()
	}

	logging.Info("node started",
		logging.String("node_id", opts.Keystore.NodeID()),
		logging.Bool("owner", opts.Owner),
		logging.Bool("holder", opts.Holder))
	return n, nil
}

func (n *Node) janitorLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if evicted := n.storeHandler.EvictExpired(time.Now()); evicted > 0 {
				logging.Info("janitor evicted expired records", logging.Int("count", evicted))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ownershipProof derives the chunk's ownership proof from the node key.
// Deterministic, so it can be regenerated even after the local envelope is
// lost.
func (n *Node) ownershipProof(chunkID string) ([]byte, error) {
	var artifact []byte
	err := n.ks.UseKey(func(key []byte) error {
		var err error
		artifact, err = n.scheme.GenerateOwnershipProof(key, chunkID)
		return err
	})
	return artifact, err
}

// StoreChunk encrypts plaintext under the node key, persists the owner
// envelope locally, and replicates it to quorum holders. The chunk id is
// returned even when replication ends under-replicated, since the local copy
// exists and the caller may retry.
func (n *Node) StoreChunk(ctx context.Context, plaintext []byte, ttl time.Duration) (string, error) {
	if n.replicator == nil {
		return "", errors.New("node: not running the owner role")
	}

	var payload []byte
	err := n.ks.UseKey(func(key []byte) error {
		var err error
		payload, err = crypto.Encrypt(key, plaintext)
		return err
	})
	if err != nil {
		return "", err
	}

	chunkID := chunk.ID(payload)
	artifact, err := n.ownershipProof(chunkID)
	if err != nil {
		return "", err
	}

	env := &chunk.OwnerEnvelope{
		ChunkID:        chunkID,
		Payload:        payload,
		OwnershipProof: artifact,
		CreatedAt:      time.Now().UTC(),
	}
	// Local first: the owner's reference copy exists before any holder
	// hears about the chunk.
	if err := n.store.PutEnvelope(env); err != nil {
		return "", err
	}

	if err := n.replicator.Replicate(ctx, env, ttl); err != nil {
		return chunkID, err
	}
	return chunkID, nil
}

// RetrieveChunk returns the chunk's plaintext. The local envelope
// short-circuits the network; otherwise the ownership proof is re-derived
// from the node key and the network is asked, and the recovered envelope is
// re-persisted locally.
func (n *Node) RetrieveChunk(ctx context.Context, chunkID string) ([]byte, error) {
	if n.retriever == nil {
		return nil, errors.New("node: not running the owner role")
	}

	env, err := n.store.GetEnvelope(chunkID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err != nil { // local copy lost, go to the network
		artifact, err := n.ownershipProof(chunkID)
		if err != nil {
			return nil, err
		}
		payload, err := n.retriever.Retrieve(ctx, chunkID, artifact)
		if err != nil {
			return nil, err
		}
		env = &chunk.OwnerEnvelope{
			ChunkID:        chunkID,
			Payload:        payload,
			OwnershipProof: artifact,
			CreatedAt:      time.Now().UTC(),
		}
		if err := n.store.PutEnvelope(env); err != nil {
			logging.Error("failed to restore local envelope", logging.Err(err))
		}
	}

	var plaintext []byte
	err = n.ks.UseKey(func(key []byte) error {
		var err error
		plaintext, err = crypto.Decrypt(key, env.Payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// AuditChunk runs one audit round for the chunk.
func (n *Node) AuditChunk(ctx context.Context, chunkID string) (*audit.Result, error) {
	if n.auditor == nil {
		return nil, errors.New("node: not running the owner role")
	}
	return n.auditor.AuditChunk(ctx, chunkID)
}

// AuditAll runs one audit round for every auditable chunk.
func (n *Node) AuditAll(ctx context.Context) []*audit.Result {
	if n.auditor == nil {
		return nil
	}
	return n.auditor.AuditAll(ctx)
}

// AbandonChunk deletes the chunk everywhere the owner can reach: the local
// envelope, the tracker entry (terminal Abandoned), and via a proof-gated
// delete request, every holder's record.
func (n *Node) AbandonChunk(ctx context.Context, chunkID string) error {
	if n.tracker == nil {
		return errors.New("node: not running the owner role")
	}

	artifact, err := n.ownershipProof(chunkID)
	if err != nil {
		return err
	}

	data, err := protocol.Encode(protocol.TypeDeleteRequest, &protocol.DeleteRequest{
		ChunkID:        chunkID,
		OwnershipProof: artifact,
	})
	if err != nil {
		return err
	}
	if err := n.bus.Publish(protocol.TopicDeleteRequest, data); err != nil {
		return fmt.Errorf("failed to publish delete request: %w", err)
	}

	if err := n.tracker.Abandon(chunkID); err != nil && !errors.Is(err, chunk.ErrNotTracked) {
		return err
	}
	if err := n.store.DeleteEnvelope(chunkID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	logging.Info("chunk abandoned", logging.String("chunk_id", chunkID))
	return nil
}

// DropEnvelope removes the local reference copy of a chunk, reclaiming disk
// once quorum holds it. Retrieval and audit then depend on the network;
// audits need the envelope back first.
func (n *Node) DropEnvelope(chunkID string) error {
	return n.store.DeleteEnvelope(chunkID)
}

// Chunks returns the owner's tracked chunk entries.
func (n *Node) Chunks() []*chunk.Entry {
	if n.tracker == nil {
		return nil
	}
	return n.tracker.List()
}

// HeldRecords returns the ids of records this node holds for others.
func (n *Node) HeldRecords() ([]string, error) {
	return n.store.ListRecords()
}

// NodeID returns this node's identity-derived identifier.
func (n *Node) NodeID() string { return n.ks.NodeID() }

// Close stops loops and subscriptions and closes the store.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	if n.router != nil {
		n.router.Stop()
	}
	return n.store.Close()
}
