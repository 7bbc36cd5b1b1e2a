package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdfast-net/holdfast/internal/audit"
	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/proof"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/replicate"
	"github.com/holdfast-net/holdfast/internal/store"
	"github.com/holdfast-net/holdfast/internal/testutil"
	"github.com/holdfast-net/holdfast/internal/transport"
)

// ownerSide is the owner half of an audit test: tracker, reference store,
// replication engine (as healer), and the audit engine, all wired to bus.
type ownerSide struct {
	tracker    *chunk.Tracker
	store      store.Store
	replicator *replicate.Engine
	auditor    *audit.Engine
}

func newOwnerSide(t *testing.T, bus *transport.MemBus, quorum int) *ownerSide {
	t.Helper()

	tracker := testutil.NewTracker(t)
	st := testutil.NewStore(t)
	ledger, err := audit.NewLedger(filepath.Join(t.TempDir(), "nonces.log"))
	require.NoError(t, err)

	replicator := replicate.NewEngine(replicate.Config{
		QuorumN:     quorum,
		AckTimeout:  2 * time.Second,
		RetryBudget: 2,
	}, bus, tracker)
	auditor := audit.NewEngine(audit.Config{
		CollectTimeout: 2 * time.Second,
	}, bus, tracker, st, proof.NewHMACScheme(), ledger, replicator)

	// Route responses the way the router does in production.
	unsubAck, err := bus.Subscribe(protocol.TopicStoreAck, func(topic string, payload []byte) {
		env, err := protocol.Decode(payload)
		if err != nil {
			return
		}
		var ack protocol.StoreAck
		if env.DecodeBody(&ack) == nil {
			replicator.HandleStoreAck(&ack)
		}
	})
	require.NoError(t, err)
	t.Cleanup(unsubAck)

	unsubProof, err := bus.Subscribe(protocol.TopicStorageProofResponse, func(topic string, payload []byte) {
		env, err := protocol.Decode(payload)
		if err != nil {
			return
		}
		var resp protocol.StorageProofResponse
		if env.DecodeBody(&resp) == nil {
			auditor.HandleStorageProofResponse(&resp)
		}
	})
	require.NoError(t, err)
	t.Cleanup(unsubProof)

	return &ownerSide{tracker: tracker, store: st, replicator: replicator, auditor: auditor}
}

// storeChunk replicates env to the bus's holders and persists the owner's
// reference copy.
func (o *ownerSide) storeChunk(t *testing.T, env *chunk.OwnerEnvelope) {
	t.Helper()
	require.NoError(t, o.store.PutEnvelope(env))
	require.NoError(t, o.replicator.Replicate(context.Background(), env, 0))
}

func TestAuditHealthyRound(t *testing.T) {
	bus := testutil.NewBus(t)
	testutil.StartHolders(t, bus, 3)
	owner := newOwnerSide(t, bus, 3)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("well replicated"))
	owner.storeChunk(t, env)

	result, err := owner.auditor.AuditChunk(context.Background(), env.ChunkID)
	require.NoError(t, err)

	assert.True(t, result.Healthy)
	assert.Len(t, result.Valid, 3)
	assert.Empty(t, result.Invalid)
	assert.False(t, result.Healed)
	assert.Equal(t, chunk.StateQuorate, result.State)
}

func TestAuditHealsLostReplica(t *testing.T) {
	bus := testutil.NewBus(t)
	holders := testutil.StartHolders(t, bus, 3)
	owner := newOwnerSide(t, bus, 3)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("one replica dies"))
	owner.storeChunk(t, env)

	// One holder silently loses its record, and a fresh holder joins so
	// healing has somewhere to go.
	require.NoError(t, holders[0].Store.DeleteRecord(env.ChunkID))
	testutil.StartHolder(t, bus)

	result, err := owner.auditor.AuditChunk(context.Background(), env.ChunkID)
	require.NoError(t, err)

	assert.False(t, result.Healthy)
	assert.Len(t, result.Valid, 2)
	assert.Contains(t, result.Invalid, holders[0].NodeID())
	assert.True(t, result.Healed)
	assert.Equal(t, chunk.StateQuorate, result.State)
	assert.GreaterOrEqual(t, len(owner.tracker.Replicas(env.ChunkID)), 3)
}

func TestAuditDegradedWhenHealingImpossible(t *testing.T) {
	bus := testutil.NewBus(t)
	holders := testutil.StartHolders(t, bus, 3)
	owner := newOwnerSide(t, bus, 3)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("no spare holders"))
	owner.storeChunk(t, env)

	// All three lose the record and stop listening, so healing has no
	// holders left to recruit.
	for _, h := range holders {
		require.NoError(t, h.Store.DeleteRecord(env.ChunkID))
		h.Router.Stop()
	}

	result, err := owner.auditor.AuditChunk(context.Background(), env.ChunkID)
	require.NoError(t, err)

	assert.False(t, result.Healthy)
	assert.Empty(t, result.Valid)
	assert.Len(t, result.Invalid, 3)
	assert.False(t, result.Healed)
	assert.Equal(t, chunk.StateDegraded, result.State)
}

func TestAuditUntrackedChunk(t *testing.T) {
	bus := testutil.NewBus(t)
	owner := newOwnerSide(t, bus, 3)

	_, err := owner.auditor.AuditChunk(context.Background(),
		"cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
	assert.ErrorIs(t, err, chunk.ErrNotTracked)
}

func TestAuditRequiresReferenceCopy(t *testing.T) {
	bus := testutil.NewBus(t)
	owner := newOwnerSide(t, bus, 3)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("no local copy"))
	require.NoError(t, owner.tracker.Track(env.ChunkID, 3))

	_, err := owner.auditor.AuditChunk(context.Background(), env.ChunkID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuditAllSkipsPendingChunks(t *testing.T) {
	bus := testutil.NewBus(t)
	owner := newOwnerSide(t, bus, 3)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("never reached quorum"))
	require.NoError(t, owner.tracker.Track(env.ChunkID, 3))

	assert.Empty(t, owner.auditor.AuditAll(context.Background()))
}

func TestHolderDropsReplayedChallenge(t *testing.T) {
	bus := testutil.NewBus(t)
	testutil.StartHolder(t, bus)
	owner := newOwnerSide(t, bus, 1)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("challenge once"))
	owner.storeChunk(t, env)

	responses := make(chan struct{}, 16)
	unsub, err := bus.Subscribe(protocol.TopicStorageProofResponse, func(topic string, payload []byte) {
		responses <- struct{}{}
	})
	require.NoError(t, err)
	defer unsub()

	challenge := &protocol.StorageProofRequest{
		ChunkID:       env.ChunkID,
		ChallengeSeed: []byte("only good once, this seed........"),
	}
	data, err := protocol.Encode(protocol.TypeStorageProofRequest, challenge)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(protocol.TopicStorageProofRequest, data))
	select {
	case <-responses:
	case <-time.After(2 * time.Second):
		t.Fatal("no proof response to the first challenge")
	}

	// Replaying the identical seed gets silence.
	require.NoError(t, bus.Publish(protocol.TopicStorageProofRequest, data))
	select {
	case <-responses:
		t.Fatal("holder answered a replayed challenge")
	case <-time.After(300 * time.Millisecond):
	}
}
