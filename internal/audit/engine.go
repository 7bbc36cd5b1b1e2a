package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/proof"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/store"
	"github.com/holdfast-net/holdfast/internal/transport"
)

const seedSize = 32

// Config tunes the owner-side audit engine. There is deliberately no default
// cadence: rounds run only when the caller triggers or schedules them.
type Config struct {
	// CollectTimeout is how long one round collects proof responses.
	CollectTimeout time.Duration `json:"collect_timeout"`
	// Parallelism bounds concurrent audit rounds across chunks.
	Parallelism int `json:"parallelism"`
	// RoundsPerSecond paces challenge publication; zero means unpaced.
	RoundsPerSecond float64 `json:"rounds_per_second,omitempty"`
	// Interval, when set, is the cadence the Scheduler audits all chunks
	// at. Zero means never.
	Interval time.Duration `json:"interval,omitempty"`
}

// DefaultConfig returns the default audit tunables. Interval stays zero.
func DefaultConfig() Config {
	return Config{CollectTimeout: 15 * time.Second, Parallelism: 4}
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = d.CollectTimeout
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
}

// Healer is the replication engine's healing entry point, consumed as an
// interface so the audit engine stays decoupled from replication internals.
type Healer interface {
	Heal(ctx context.Context, env *chunk.OwnerEnvelope, valid []string, ttl time.Duration) error
}

// Result is the outcome of one audit round for one chunk.
type Result struct {
	ChunkID   string        `json:"chunk_id"`
	Valid     []string      `json:"valid,omitempty"`
	Invalid   []string      `json:"invalid,omitempty"`
	Healthy   bool          `json:"healthy"`
	Healed    bool          `json:"healed,omitempty"`
	State     chunk.State   `json:"state"`
	Elapsed   time.Duration `json:"elapsed"`
	AuditedAt time.Time     `json:"audited_at"`
}

// auditOp is the pending-operation entry for one challenge round, keyed by
// the challenge seed.
type auditOp struct {
	chunkID string

	mu        sync.Mutex
	responses map[string]*protocol.StorageProofResponse // holder id -> first response
	expected  int
	full      chan struct{}
	closed    bool
}

func (op *auditOp) record(resp *protocol.StorageProofResponse) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if _, dup := op.responses[resp.HolderID]; dup {
		return
	}
	op.responses[resp.HolderID] = resp
	if !op.closed && len(op.responses) >= op.expected {
		op.closed = true
		close(op.full)
	}
}

func (op *auditOp) snapshot() []*protocol.StorageProofResponse {
	op.mu.Lock()
	defer op.mu.Unlock()
	out := make([]*protocol.StorageProofResponse, 0, len(op.responses))
	for _, r := range op.responses {
		out = append(out, r)
	}
	return out
}

// Engine drives owner-side audits.
type Engine struct {
	cfg     Config
	bus     transport.Bus
	tracker *chunk.Tracker
	store   store.Store
	scheme  proof.Scheme
	ledger  *Ledger
	healer  Healer
	limiter *rate.Limiter

	mu  sync.Mutex
	ops map[string]*auditOp // hex seed -> in-flight round
}

// NewEngine creates the owner-side audit engine. The store must hold the
// owner's reference envelopes; the healer may be nil to disable self-healing.
func NewEngine(cfg Config, bus transport.Bus, tracker *chunk.Tracker, st store.Store, scheme proof.Scheme, ledger *Ledger, healer Healer) *Engine {
	cfg.ApplyDefaults()
	e := &Engine{
		cfg:     cfg,
		bus:     bus,
		tracker: tracker,
		store:   st,
		scheme:  scheme,
		ledger:  ledger,
		healer:  healer,
		ops:     make(map[string]*auditOp),
	}
	if cfg.RoundsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RoundsPerSecond), 1)
	}
	return e
}

// AuditChunk runs one challenge round for the chunk: mint a fresh single-use
// seed, publish the challenge, collect responses until the timeout (or until
// every replica-set holder has answered), verify each against the owner's
// reference ciphertext, and transition the chunk accordingly. When fewer
// than quorum holders verify, the chunk goes Degraded and healing is handed
// off to the replication engine.
func (e *Engine) AuditChunk(ctx context.Context, chunkID string) (*Result, error) {
	started := time.Now()

	entry, tracked := e.tracker.Get(chunkID)
	if !tracked {
		return nil, chunk.ErrNotTracked
	}
	if entry.State.Terminal() {
		return nil, fmt.Errorf("chunk %s is abandoned", chunkID)
	}

	env, err := e.store.GetEnvelope(chunkID)
	if err != nil {
		return nil, fmt.Errorf("owner reference copy unavailable: %w", err)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("failed to mint challenge seed: %w", err)
	}
	if err := e.ledger.Consume(chunkID, seed); err != nil {
		return nil, err
	}

	op := &auditOp{
		chunkID:   chunkID,
		responses: make(map[string]*protocol.StorageProofResponse),
		expected:  len(entry.Replicas),
		full:      make(chan struct{}),
	}
	if op.expected == 0 {
		op.closed = true
		close(op.full)
	}
	seedKey := hex.EncodeToString(seed)

	e.mu.Lock()
	e.ops[seedKey] = op
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.ops, seedKey)
		e.mu.Unlock()
	}()

	data, err := protocol.Encode(protocol.TypeStorageProofRequest, &protocol.StorageProofRequest{
		ChunkID:       chunkID,
		ChallengeSeed: seed,
	})
	if err != nil {
		return nil, err
	}
	if err := e.bus.Publish(protocol.TopicStorageProofRequest, data); err != nil {
		return nil, fmt.Errorf("failed to publish storage proof request: %w", err)
	}

	logging.Debug("audit round published",
		logging.String("chunk_id", chunkID),
		logging.Int("replica_set", op.expected))

	select {
	case <-op.full:
	case <-time.After(e.cfg.CollectTimeout):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result := &Result{ChunkID: chunkID, AuditedAt: started}
	validSet := make(map[string]bool)
	for _, resp := range op.snapshot() {
		if e.verifyResponse(entry, env, seed, resp) {
			validSet[resp.HolderID] = true
			result.Valid = append(result.Valid, resp.HolderID)
		} else {
			result.Invalid = append(result.Invalid, resp.HolderID)
		}
	}
	// Holders that never answered count as failures too.
	for holderID := range entry.Replicas {
		if !validSet[holderID] && !contains(result.Invalid, holderID) {
			result.Invalid = append(result.Invalid, holderID)
		}
	}

	quorum := entry.QuorumN
	result.Healthy = len(result.Valid) >= quorum

	if result.Healthy {
		if err := e.tracker.SetReplicas(chunkID, result.Valid); err != nil {
			return nil, err
		}
		result.State, _ = e.tracker.State(chunkID)
		result.Elapsed = time.Since(started)
		logging.Info("audit round healthy",
			logging.String("chunk_id", chunkID),
			logging.Int("valid", len(result.Valid)))
		return result, nil
	}

	logging.Warn("audit round below quorum",
		logging.String("chunk_id", chunkID),
		logging.Int("valid", len(result.Valid)),
		logging.Int("quorum", quorum))

	if err := e.tracker.SetState(chunkID, chunk.StateDegraded); err != nil {
		return nil, err
	}

	if e.healer != nil {
		if err := e.healer.Heal(ctx, env, result.Valid, 0); err != nil {
			logging.Error("healing failed", logging.Err(err),
				logging.String("chunk_id", chunkID))
		} else {
			result.Healed = true
		}
	}

	result.State, _ = e.tracker.State(chunkID)
	result.Elapsed = time.Since(started)
	return result, nil
}

// verifyResponse checks one proof response: signature, binding to this
// round's seed, membership and key pinning, then the storage proof itself
// against the reference payload.
func (e *Engine) verifyResponse(entry *chunk.Entry, env *chunk.OwnerEnvelope, seed []byte, resp *protocol.StorageProofResponse) bool {
	if !resp.VerifySignature() {
		logging.Debug("proof response with bad signature",
			logging.String("holder_id", resp.HolderID))
		return false
	}

	pinned, member := entry.Replicas[resp.HolderID]
	if !member {
		logging.Debug("proof response from holder outside replica set, excluding",
			logging.String("holder_id", resp.HolderID))
		return false
	}
	if pinned != hex.EncodeToString(resp.HolderKey) {
		logging.Warn("proof response key conflicts with pinned key, excluding",
			logging.String("holder_id", resp.HolderID))
		return false
	}

	if !e.scheme.VerifyStorageProof(resp.Proof, env.ChunkID, env.Payload, seed) {
		logging.Warn("storage proof failed verification",
			logging.String("chunk_id", env.ChunkID),
			logging.String("holder_id", resp.HolderID))
		return false
	}
	return true
}

// HandleStorageProofResponse routes an inbound response to its round. A
// response bearing a consumed nonce with no live round is a replay and is
// rejected outright.
func (e *Engine) HandleStorageProofResponse(resp *protocol.StorageProofResponse) {
	e.mu.Lock()
	op, active := e.ops[hex.EncodeToString(resp.ChallengeSeed)]
	e.mu.Unlock()

	if !active {
		if e.ledger.Seen(resp.ChunkID, resp.ChallengeSeed) {
			logging.Warn("rejecting proof response with consumed nonce",
				logging.String("chunk_id", resp.ChunkID),
				logging.String("holder_id", resp.HolderID),
				logging.Err(ErrReplayDetected))
		}
		return
	}
	if op.chunkID != resp.ChunkID {
		return
	}
	op.record(resp)
}

// AuditAll runs one audit round for every auditable chunk (Quorate or
// Degraded), with bounded parallelism. Pending and Abandoned chunks are
// skipped: the owner only audits after observing quorum.
func (e *Engine) AuditAll(ctx context.Context) []*Result {
	sem := make(chan struct{}, e.cfg.Parallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []*Result

	for _, entry := range e.tracker.List() {
		if entry.State != chunk.StateQuorate && entry.State != chunk.StateDegraded {
			continue
		}
		wg.Add(1)
		go func(chunkID string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			res, err := e.AuditChunk(ctx, chunkID)
			if err != nil {
				logging.Error("audit round failed", logging.Err(err),
					logging.String("chunk_id", chunkID))
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(entry.ChunkID)
	}

	wg.Wait()
	return results
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
