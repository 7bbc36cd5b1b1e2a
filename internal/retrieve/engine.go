// Package retrieve owns the retrieval protocol: the owner publishes a
// proof-gated request and accepts the first response whose payload digest
// matches the requested chunk id; holders answer only when the ownership
// proof verifies, and stay silent otherwise.
package retrieve

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/transport"
)

var (
	// ErrRetrievalFailed is returned when the retry budget is exhausted
	// without a valid response.
	ErrRetrievalFailed = errors.New("retrieve: retrieval failed")
	// ErrRoundActive is returned when a retrieval is already in flight
	// for the chunk.
	ErrRoundActive = errors.New("retrieve: retrieval already in flight for chunk")
)

// Config tunes the owner-side retrieval protocol.
type Config struct {
	// ResponseTimeout bounds one retrieval round.
	ResponseTimeout time.Duration `json:"response_timeout"`
	// RetryBudget is how many rounds to attempt before giving up.
	RetryBudget int `json:"retry_budget"`
}

// DefaultConfig returns the default retrieval tunables.
func DefaultConfig() Config {
	return Config{ResponseTimeout: 10 * time.Second, RetryBudget: 3}
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = d.RetryBudget
	}
}

// retrieveOp is the pending-operation entry for one in-flight retrieval.
type retrieveOp struct {
	mu      sync.Mutex
	payload []byte
	done    chan struct{}
}

func (op *retrieveOp) resolve(payload []byte) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.payload != nil {
		return // duplicate valid response, discard
	}
	op.payload = payload
	close(op.done)
}

// Engine drives owner-side retrievals.
type Engine struct {
	cfg     Config
	bus     transport.Bus
	tracker *chunk.Tracker

	mu  sync.Mutex
	ops map[string]*retrieveOp // chunk id -> in-flight op
}

// NewEngine creates the owner-side retrieval engine. Zero config fields fall
// back to defaults.
func NewEngine(cfg Config, bus transport.Bus, tracker *chunk.Tracker) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		cfg:     cfg,
		bus:     bus,
		tracker: tracker,
		ops:     make(map[string]*retrieveOp),
	}
}

// Retrieve publishes a retrieval request and waits for the first response
// whose re-derived chunk id matches. The request carries no mutable state,
// so retries republish it verbatim. After the retry budget it returns
// ErrRetrievalFailed.
func (e *Engine) Retrieve(ctx context.Context, chunkID string, ownershipProof []byte) ([]byte, error) {
	op := &retrieveOp{done: make(chan struct{})}

	e.mu.Lock()
	if _, active := e.ops[chunkID]; active {
		e.mu.Unlock()
		return nil, ErrRoundActive
	}
	e.ops[chunkID] = op
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.ops, chunkID)
		e.mu.Unlock()
	}()

	data, err := protocol.Encode(protocol.TypeRetrieveRequest, &protocol.RetrieveRequest{
		ChunkID:        chunkID,
		OwnershipProof: ownershipProof,
	})
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= e.cfg.RetryBudget; attempt++ {
		if err := e.bus.Publish(protocol.TopicRetrieveRequest, data); err != nil {
			return nil, fmt.Errorf("failed to publish retrieve request: %w", err)
		}

		logging.Debug("retrieve round published",
			logging.String("chunk_id", chunkID),
			logging.Int("attempt", attempt))

		select {
		case <-op.done:
			return op.payload, nil
		case <-time.After(e.cfg.ResponseTimeout):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: no valid response for chunk %s after %d attempts",
		ErrRetrievalFailed, chunkID, e.cfg.RetryBudget)
}

// HandleRetrieveResponse processes an inbound response. The payload must
// re-derive to the requested chunk id (a tamper check independent of the
// proof system); responses from holders whose pinned key conflicts are
// excluded; duplicates are discarded.
func (e *Engine) HandleRetrieveResponse(resp *protocol.RetrieveResponse) {
	e.mu.Lock()
	op, active := e.ops[resp.ChunkID]
	e.mu.Unlock()
	if !active {
		return
	}

	if !resp.VerifySignature() {
		logging.Debug("dropping retrieve response with bad signature",
			logging.String("chunk_id", resp.ChunkID),
			logging.String("holder_id", resp.HolderID))
		return
	}

	if pinned, seen := e.tracker.PinnedKey(resp.ChunkID, resp.HolderID); seen && pinned != hex.EncodeToString(resp.HolderKey) {
		logging.Warn("retrieve response key conflicts with pinned key, excluding",
			logging.String("chunk_id", resp.ChunkID),
			logging.String("holder_id", resp.HolderID))
		return
	}

	if chunk.ID(resp.Payload) != resp.ChunkID {
		logging.Warn("retrieve response payload digest mismatch, excluding",
			logging.String("chunk_id", resp.ChunkID),
			logging.String("holder_id", resp.HolderID))
		return
	}

	op.resolve(resp.Payload)
}
