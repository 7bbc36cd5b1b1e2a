package retrieve_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/crypto"
	"github.com/holdfast-net/holdfast/internal/protocol"
	"github.com/holdfast-net/holdfast/internal/retrieve"
	"github.com/holdfast-net/holdfast/internal/testutil"
	"github.com/holdfast-net/holdfast/internal/transport"
)

// seedHolder plants env on the bus's holders by publishing a store request
// and waiting for an ACK.
func seedHolder(t *testing.T, bus *transport.MemBus, env *chunk.OwnerEnvelope) {
	t.Helper()
	acked := make(chan struct{}, 16)
	unsub, err := bus.Subscribe(protocol.TopicStoreAck, func(topic string, payload []byte) {
		acked <- struct{}{}
	})
	require.NoError(t, err)
	defer unsub()

	data, err := protocol.Encode(protocol.TypeStoreRequest, &protocol.StoreRequest{
		ChunkID:        env.ChunkID,
		RoundID:        "seed",
		Payload:        env.Payload,
		OwnershipProof: env.OwnershipProof,
		QuorumN:        1,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(protocol.TopicStoreRequest, data))

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("holder never acked the seed store")
	}
}

func wireResponses(t *testing.T, bus *transport.MemBus, engine *retrieve.Engine) {
	t.Helper()
	unsub, err := bus.Subscribe(protocol.TopicRetrieveResponse, func(topic string, payload []byte) {
		env, err := protocol.Decode(payload)
		if err != nil {
			return
		}
		var resp protocol.RetrieveResponse
		if env.DecodeBody(&resp) == nil {
			engine.HandleRetrieveResponse(&resp)
		}
	})
	require.NoError(t, err)
	t.Cleanup(unsub)
}

func TestRetrieveRoundTrip(t *testing.T) {
	bus := testutil.NewBus(t)
	testutil.StartHolder(t, bus)
	tracker := testutil.NewTracker(t)

	key := testutil.OwnerKey(t)
	env := testutil.OwnerEnvelopeFixture(t, key, []byte("the complete works"))
	seedHolder(t, bus, env)

	engine := retrieve.NewEngine(retrieve.Config{ResponseTimeout: 2 * time.Second, RetryBudget: 2}, bus, tracker)
	wireResponses(t, bus, engine)

	payload, err := engine.Retrieve(context.Background(), env.ChunkID, env.OwnershipProof)
	require.NoError(t, err)
	assert.Equal(t, env.Payload, payload, "holder must return exactly the owner-encrypted payload")

	plaintext, err := crypto.Decrypt(key, payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("the complete works"), plaintext)
}

func TestRetrieveForgedProofGetsSilence(t *testing.T) {
	bus := testutil.NewBus(t)
	testutil.StartHolder(t, bus)
	tracker := testutil.NewTracker(t)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("guarded data"))
	seedHolder(t, bus, env)

	engine := retrieve.NewEngine(retrieve.Config{ResponseTimeout: 200 * time.Millisecond, RetryBudget: 2}, bus, tracker)
	wireResponses(t, bus, engine)

	_, err := engine.Retrieve(context.Background(), env.ChunkID, []byte("forged proof"))
	assert.ErrorIs(t, err, retrieve.ErrRetrievalFailed)
}

func TestRetrieveUnknownChunkFailsAfterBudget(t *testing.T) {
	bus := testutil.NewBus(t)
	testutil.StartHolder(t, bus)
	tracker := testutil.NewTracker(t)

	engine := retrieve.NewEngine(retrieve.Config{ResponseTimeout: 100 * time.Millisecond, RetryBudget: 2}, bus, tracker)
	wireResponses(t, bus, engine)

	start := time.Now()
	_, err := engine.Retrieve(context.Background(),
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		[]byte("proof"))
	assert.ErrorIs(t, err, retrieve.ErrRetrievalFailed)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "both rounds must run")
}

func TestHandleRetrieveResponseRejectsTamperedPayload(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	engine := retrieve.NewEngine(retrieve.Config{ResponseTimeout: 300 * time.Millisecond, RetryBudget: 1}, bus, tracker)

	env := testutil.OwnerEnvelopeFixture(t, testutil.OwnerKey(t), []byte("tamper target"))
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Retrieve(context.Background(), env.ChunkID, env.OwnershipProof)
		done <- err
	}()

	// Let the op register, then inject a validly signed response whose
	// payload does not hash to the chunk id.
	time.Sleep(50 * time.Millisecond)
	resp := &protocol.RetrieveResponse{
		ChunkID:   env.ChunkID,
		Payload:   []byte("not the payload"),
		HolderID:  crypto.KeyID(pub),
		HolderKey: pub,
	}
	require.NoError(t, resp.Sign(priv))
	engine.HandleRetrieveResponse(resp)

	assert.ErrorIs(t, <-done, retrieve.ErrRetrievalFailed)
}

func TestRetrieveSecondCallWhileActive(t *testing.T) {
	bus := testutil.NewBus(t)
	tracker := testutil.NewTracker(t)
	engine := retrieve.NewEngine(retrieve.Config{ResponseTimeout: 500 * time.Millisecond, RetryBudget: 1}, bus, tracker)

	chunkID := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	go engine.Retrieve(context.Background(), chunkID, []byte("proof")) //nolint:errcheck

	time.Sleep(50 * time.Millisecond)
	_, err := engine.Retrieve(context.Background(), chunkID, []byte("proof"))
	assert.ErrorIs(t, err, retrieve.ErrRoundActive)
}
