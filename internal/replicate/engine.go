// Package replicate owns the store/quorum protocol: the owner-side state
// machine that drives a chunk from Pending to Quorate (and back through
// Healing after audit failures), and the holder-side admission path.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/transport"
)

var (
	// ErrUnderReplicated is returned when the retry budget is exhausted
	// with fewer than quorum distinct holder ACKs. The chunk is not
	// dropped; accumulated replicas are kept and the caller may retry.
	ErrUnderReplicated = errors.New("replicate: under-replicated")
	// ErrRoundActive is returned when a store or healing operation is
	// already in flight for the chunk.
	ErrRoundActive = errors.New("replicate: operation already in flight for chunk")
)

// Config tunes the owner-side store/quorum protocol.
type Config struct {
	// QuorumN is the number of distinct holder ACKs required for a chunk
	// to be considered safely replicated.
	QuorumN int `json:"quorum_n"`
	// AckTimeout bounds one store round before it is republished.
	AckTimeout time.Duration `json:"ack_timeout"`
	// RetryBudget is how many rounds to attempt before reporting
	// under-replication.
	RetryBudget int `json:"retry_budget"`
	// DefaultTTL is attached to store requests; zero means no TTL.
	DefaultTTL time.Duration `json:"default_ttl,omitempty"`
}

// DefaultConfig returns the default replication tunables.
func DefaultConfig() Config {
	return Config{
		QuorumN:     3,
		AckTimeout:  10 * time.Second,
		RetryBudget: 3,
	}
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.QuorumN <= 0 {
		c.QuorumN = d.QuorumN
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = d.RetryBudget
	}
}

// storeOp is the pending-operation entry for one in-flight store or healing
// cycle. It spans all rounds of the cycle: republished rounds keep
// accumulating ACKs into the same op.
type storeOp struct {
	mu       sync.Mutex
	baseline map[string]bool // holders that already count (healing)
	acks     map[string]bool // new distinct holders observed this cycle
	need     int

	once sync.Once
	done chan struct{}
}

func (op *storeOp) record(holderID string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.baseline[holderID] || op.acks[holderID] {
		return
	}
	op.acks[holderID] = true
	if len(op.acks) >= op.need {
		op.once.Do(func() { close(op.done) })
	}
}

func (op *storeOp) ackCount() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return len(op.acks)
}

// Engine drives owner-side replication for all chunks. Per-chunk operations
// are independent; the engine holds no cross-chunk state beyond the op map.
type Engine struct {
	cfg     Config
	bus     transport.Bus
	tracker *chunk.Tracker

	mu  sync.Mutex
	ops map[string]*storeOp // chunk id -> in-flight op
}

// NewEngine creates the owner-side replication engine. Zero config fields
// fall back to defaults.
func NewEngine(cfg Config, bus transport.Bus, tracker *chunk.Tracker) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		cfg:     cfg,
		bus:     bus,
		tracker: tracker,
		ops:     make(map[string]*storeOp),
	}
}

// Quorum returns the configured quorum N.
func (e *Engine) Quorum() int { return e.cfg.QuorumN }

// Replicate runs store rounds for env until quorum distinct holders ACK or
// the retry budget is exhausted, in which case ErrUnderReplicated is
// returned and the chunk stays Pending with its partial replica set intact.
func (e *Engine) Replicate(ctx context.Context, env *chunk.OwnerEnvelope, ttl time.Duration) error {
	if err := e.tracker.Track(env.ChunkID, e.cfg.QuorumN); err != nil {
		return err
	}

	existing := e.tracker.Replicas(env.ChunkID)
	need := e.cfg.QuorumN - len(existing)
	if need <= 0 {
		return e.tracker.SetState(env.ChunkID, chunk.StateQuorate)
	}

	// On a retry of a previously under-replicated chunk, surviving holders
	// re-ACK idempotently; only holders outside the recorded set may count
	// toward quorum.
	baseline := make(map[string]bool, len(existing))
	for _, h := range existing {
		baseline[h] = true
	}

	err := e.runRounds(ctx, env, ttl, baseline, need)
	if err != nil {
		return err
	}
	return e.tracker.SetState(env.ChunkID, chunk.StateQuorate)
}

// Heal re-replicates a degraded chunk: the replica set is first reduced to
// the holders that passed the audit, then store rounds run until quorum
// minus the still-valid count new holders ACK. On success the chunk returns
// to Quorate; on budget exhaustion it falls back to Degraded.
func (e *Engine) Heal(ctx context.Context, env *chunk.OwnerEnvelope, valid []string, ttl time.Duration) error {
	if err := e.tracker.SetReplicas(env.ChunkID, valid); err != nil {
		return err
	}
	if err := e.tracker.SetState(env.ChunkID, chunk.StateHealing); err != nil {
		return err
	}

	need := e.cfg.QuorumN - len(valid)
	if need <= 0 {
		return e.tracker.SetState(env.ChunkID, chunk.StateQuorate)
	}

	baseline := make(map[string]bool, len(valid))
	for _, h := range valid {
		baseline[h] = true
	}

	logging.Info("healing chunk",
		logging.String("chunk_id", env.ChunkID),
		logging.Int("valid_holders", len(valid)),
		logging.Int("replicas_needed", need))

	if err := e.runRounds(ctx, env, ttl, baseline, need); err != nil {
		if stateErr := e.tracker.SetState(env.ChunkID, chunk.StateDegraded); stateErr != nil {
			logging.Error("failed to mark chunk degraded", logging.Err(stateErr))
		}
		return err
	}
	return e.tracker.SetState(env.ChunkID, chunk.StateQuorate)
}

// runRounds publishes store requests until need new distinct holders ACK or
// the budget runs out. The pending op spans every round of the cycle.
func (e *Engine) runRounds(ctx context.Context, env *chunk.OwnerEnvelope, ttl time.Duration, baseline map[string]bool, need int) error {
	if baseline == nil {
		baseline = make(map[string]bool)
	}
	op := &storeOp{
		baseline: baseline,
		acks:     make(map[string]bool),
		need:     need,
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	if _, active := e.ops[env.ChunkID]; active {
		e.mu.Unlock()
		return ErrRoundActive
	}
	e.ops[env.ChunkID] = op
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.ops, env.ChunkID)
		e.mu.Unlock()
	}()

	if ttl <= 0 {
		ttl = e.cfg.DefaultTTL
	}

	for attempt := 1; attempt <= e.cfg.RetryBudget; attempt++ {
		req := &protocol.StoreRequest{
			ChunkID:        env.ChunkID,
			RoundID:        uuid.NewString(),
			Payload:        env.Payload,
			OwnershipProof: env.OwnershipProof,
			QuorumN:        e.cfg.QuorumN,
		}
		if ttl > 0 {
			req.TTLSeconds = int64(ttl / time.Second)
		}

		data, err := protocol.Encode(protocol.TypeStoreRequest, req)
		if err != nil {
			return err
		}
		if err := e.bus.Publish(protocol.TopicStoreRequest, data); err != nil {
			return fmt.Errorf("failed to publish store request: %w", err)
		}

		logging.Debug("store round published",
			logging.String("chunk_id", env.ChunkID),
			logging.String("round_id", req.RoundID),
			logging.Int("attempt", attempt))

		select {
		case <-op.done:
			return nil
		case <-time.After(e.cfg.AckTimeout):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	got := op.ackCount() + len(baseline)
	return fmt.Errorf("%w: %d of %d holders acked for chunk %s",
		ErrUnderReplicated, got, e.cfg.QuorumN, env.ChunkID)
}

// HandleStoreAck processes an inbound ACK. Unsigned or mis-bound ACKs are
// dropped; duplicates merge as no-ops; a holder re-appearing with a
// different key than the one pinned on first contact is excluded.
func (e *Engine) HandleStoreAck(ack *protocol.StoreAck) {
	if !ack.VerifySignature() {
		logging.Debug("dropping store ack with bad signature",
			logging.String("chunk_id", ack.ChunkID),
			logging.String("holder_id", ack.HolderID))
		return
	}

	state, tracked := e.tracker.State(ack.ChunkID)
	if !tracked || state.Terminal() {
		return
	}

	if _, err := e.tracker.AddReplica(ack.ChunkID, ack.HolderID, fmt.Sprintf("%x", ack.HolderKey)); err != nil {
		if errors.Is(err, chunk.ErrKeyMismatch) {
			logging.Warn("holder key conflicts with pinned key, excluding ack",
				logging.String("chunk_id", ack.ChunkID),
				logging.String("holder_id", ack.HolderID))
			return
		}
		logging.Error("failed to record replica", logging.Err(err))
		return
	}

	e.mu.Lock()
	op, active := e.ops[ack.ChunkID]
	e.mu.Unlock()
	if active {
		op.record(ack.HolderID)
	}
}
