package replicate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/crypto"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/replicate"
	"github.com/holdfast-net/holdfast/internal/testutil"
	"github.com/holdfast-net/holdfast/internal/transport"
)

func fastConfig() replicate.Config {
	return replicate.Config{
		QuorumN:     3,
		AckTimeout:  200 * time.Millisecond,
		RetryBudget: 2,
	}
}

// wireAcks routes store ACKs from the bus into the engine, the way the
// router does in production.
func wireAcks(t *testing.T, bus *transport.MemBus, engine *replicate.Engine) {
	t.Helper()
	unsub, err := bus.Subscribe(protocol.TopicStoreAck, func(topic string, payload []byte) {
		env, err := protocol.Decode(payload)
		if err != nil {
			return
		}
		var ack protocol.StoreAck
		if env.DecodeBody(&ack) == nil {
			engine.HandleStoreAck(&ack)
		}
	})
	require.NoError(t, err)
	t.Cleanup(unsub)
}

func TestReplicateReachesQuorum(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	testutil.StartHolders(t, bus, 5)

	engine := replicate.NewEngine(replicate.Config{QuorumN: 3, AckTimeout: 2 * time.Second, RetryBudget: 2}, bus, tracker)
	wireAcks(t, bus, engine)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("replicated data"))
	require.NoError(t, engine.Replicate(context.Background(), env, 0))

	state, ok := tracker.State(env.ChunkID)
	require.True(t, ok)
	assert.Equal(t, chunk.StateQuorate, state)
	assert.GreaterOrEqual(t, len(tracker.Replicas(env.ChunkID)), 3)
}

func TestReplicateUnderReplicated(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	testutil.StartHolder(t, bus) // one holder, quorum needs three

	engine := replicate.NewEngine(fastConfig(), bus, tracker)
	wireAcks(t, bus, engine)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("lonely chunk"))
	err := engine.Replicate(context.Background(), env, 0)
	require.ErrorIs(t, err, replicate.ErrUnderReplicated)

	// Partial progress is kept: the chunk stays pending with one replica.
	state, ok := tracker.State(env.ChunkID)
	require.True(t, ok)
	assert.Equal(t, chunk.StatePending, state)
	assert.Len(t, tracker.Replicas(env.ChunkID), 1)
}

func TestReplicateResumesWithSurvivingReplicas(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	survivor := testutil.StartHolder(t, bus)

	engine := replicate.NewEngine(fastConfig(), bus, tracker)
	wireAcks(t, bus, engine)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("resumed chunk"))
	err := engine.Replicate(context.Background(), env, 0)
	require.ErrorIs(t, err, replicate.ErrUnderReplicated)
	require.Equal(t, []string{survivor.NodeID()}, tracker.Replicas(env.ChunkID))

	// Retry with the survivor re-ACKing plus one fresh holder: the re-ACK
	// must not count toward quorum, so two distinct replicas is still short.
	testutil.StartHolder(t, bus)
	err = engine.Replicate(context.Background(), env, 0)
	require.ErrorIs(t, err, replicate.ErrUnderReplicated)

	state, ok := tracker.State(env.ChunkID)
	require.True(t, ok)
	assert.Equal(t, chunk.StatePending, state)
	assert.Len(t, tracker.Replicas(env.ChunkID), 2)

	// A third distinct holder completes the set.
	testutil.StartHolder(t, bus)
	require.NoError(t, engine.Replicate(context.Background(), env, 0))

	state, _ = tracker.State(env.ChunkID)
	assert.Equal(t, chunk.StateQuorate, state)
	assert.Len(t, tracker.Replicas(env.ChunkID), 3)
}

func TestReplicateShortCircuitsWhenQuorate(t *testing.T) {
	bus := testutil.NewBus(t) // no holders at all
	tracker := testutil.NewTracker(t)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("already quorate"))
	require.NoError(t, tracker.Track(env.ChunkID, 3))
	for _, id := range []string{"holder-a", "holder-b", "holder-c"} {
		_, err := tracker.AddReplica(env.ChunkID, id, "aa"+id)
		require.NoError(t, err)
	}

	engine := replicate.NewEngine(fastConfig(), bus, tracker)
	require.NoError(t, engine.Replicate(context.Background(), env, 0))

	state, _ := tracker.State(env.ChunkID)
	assert.Equal(t, chunk.StateQuorate, state)
}

func TestHandleStoreAckDropsBadSignature(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	engine := replicate.NewEngine(fastConfig(), bus, tracker)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("forged ack target"))
	require.NoError(t, tracker.Track(env.ChunkID, 3))

	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	engine.HandleStoreAck(&protocol.StoreAck{
		ChunkID:   env.ChunkID,
		RoundID:   "round",
		HolderID:  crypto.KeyID(pub),
		HolderKey: pub,
		Signature: []byte("not a signature"),
	})

	assert.Empty(t, tracker.Replicas(env.ChunkID))
}

func TestHandleStoreAckEnforcesPinnedKey(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	engine := replicate.NewEngine(fastConfig(), bus, tracker)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("pinned key target"))
	require.NoError(t, tracker.Track(env.ChunkID, 3))

	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	holderID := crypto.KeyID(pub)

	// Pin a different key for the same holder id first.
	_, err = tracker.AddReplica(env.ChunkID, holderID, "deadbeef")
	require.NoError(t, err)

	ack := &protocol.StoreAck{
		ChunkID:   env.ChunkID,
		RoundID:   "round",
		HolderID:  holderID,
		HolderKey: pub,
	}
	require.NoError(t, ack.Sign(priv))
	engine.HandleStoreAck(ack)

	pinned, _ := tracker.PinnedKey(env.ChunkID, holderID)
	assert.Equal(t, "deadbeef", pinned, "first-contact key must stay pinned")
}

func TestHealRestoresQuorum(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	testutil.StartHolders(t, bus, 3)

	engine := replicate.NewEngine(replicate.Config{QuorumN: 3, AckTimeout: 2 * time.Second, RetryBudget: 2}, bus, tracker)
	wireAcks(t, bus, engine)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("healable chunk"))
	require.NoError(t, engine.Replicate(context.Background(), env, 0))
	require.Len(t, tracker.Replicas(env.ChunkID), 3)

	// Simulate an audit that invalidated one holder: keep two survivors.
	valid := tracker.Replicas(env.ChunkID)[:2]
	require.NoError(t, tracker.SetState(env.ChunkID, chunk.StateDegraded))

	require.NoError(t, engine.Heal(context.Background(), env, valid, 0))

	state, _ := tracker.State(env.ChunkID)
	assert.Equal(t, chunk.StateQuorate, state)
	assert.Len(t, tracker.Replicas(env.ChunkID), 3)
}

func TestHealFailsBackToDegraded(t *testing.T) {
	bus := testutil.NewBus(t) // nobody to heal onto
	tracker := testutil.NewTracker(t)
	engine := replicate.NewEngine(fastConfig(), bus, tracker)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("unhealable chunk"))
	require.NoError(t, tracker.Track(env.ChunkID, 3))
	for _, id := range []string{"holder-a", "holder-b", "holder-c"} {
		_, err := tracker.AddReplica(env.ChunkID, id, "aa"+id)
		require.NoError(t, err)
	}
	require.NoError(t, tracker.SetState(env.ChunkID, chunk.StateQuorate))
	require.NoError(t, tracker.SetState(env.ChunkID, chunk.StateDegraded))

	err := engine.Heal(context.Background(), env, []string{"holder-a"}, 0)
	require.ErrorIs(t, err, replicate.ErrUnderReplicated)

	state, _ := tracker.State(env.ChunkID)
	assert.Equal(t, chunk.StateDegraded, state)
	assert.Len(t, tracker.Replicas(env.ChunkID), 1, "invalid holders must be dropped even when healing fails")
}
