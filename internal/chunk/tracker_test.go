package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDDeterministic(t *testing.T) {
	payload := []byte("owner-encrypted bytes")
	assert.Equal(t, ID(payload), ID(payload))
	assert.Len(t, ID(payload), 64)
	assert.NotEqual(t, ID(payload), ID([]byte("other bytes")))
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateQuorate, true},
		{StateQuorate, StateDegraded, true},
		{StateDegraded, StateHealing, true},
		{StateHealing, StateQuorate, true},
		{StateHealing, StateDegraded, true},
		{StatePending, StateAbandoned, true},
		{StateQuorate, StateAbandoned, true},
		{StatePending, StateDegraded, false},
		{StateQuorate, StatePending, false},
		{StateAbandoned, StateQuorate, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr, err := NewTracker(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, tr.Track("abc", 3))
	state, ok := tr.State("abc")
	require.True(t, ok)
	assert.Equal(t, StatePending, state)

	// Tracking again is a no-op.
	require.NoError(t, tr.Track("abc", 3))

	n, err := tr.AddReplica("abc", "holder-1", "aa11")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Duplicate ACK with the same key merges as a no-op.
	n, err = tr.AddReplica("abc", "holder-1", "aa11")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same holder with a different key is rejected.
	_, err = tr.AddReplica("abc", "holder-1", "bb22")
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, err = tr.AddReplica("abc", "holder-2", "cc33")
	require.NoError(t, err)

	require.NoError(t, tr.SetState("abc", StateQuorate))
	assert.ErrorIs(t, tr.SetState("abc", StatePending), ErrBadTransition)

	require.NoError(t, tr.SetState("abc", StateDegraded))
	require.NoError(t, tr.SetReplicas("abc", []string{"holder-2"}))
	assert.Equal(t, []string{"holder-2"}, tr.Replicas("abc"))

	key, pinned := tr.PinnedKey("abc", "holder-2")
	require.True(t, pinned)
	assert.Equal(t, "cc33", key)
}

func TestTrackerUnknownChunk(t *testing.T) {
	tr, err := NewTracker(t.TempDir())
	require.NoError(t, err)

	_, err = tr.AddReplica("missing", "h", "k")
	assert.ErrorIs(t, err, ErrNotTracked)
	assert.ErrorIs(t, tr.SetState("missing", StateQuorate), ErrNotTracked)
	assert.ErrorIs(t, tr.Abandon("missing"), ErrNotTracked)
}

func TestTrackerPersistence(t *testing.T) {
	dir := t.TempDir()

	tr, err := NewTracker(dir)
	require.NoError(t, err)
	require.NoError(t, tr.Track("abc", 3))
	_, err = tr.AddReplica("abc", "holder-1", "aa11")
	require.NoError(t, err)
	require.NoError(t, tr.SetState("abc", StateQuorate))

	// Reload from disk.
	tr2, err := NewTracker(dir)
	require.NoError(t, err)

	e, ok := tr2.Get("abc")
	require.True(t, ok)
	assert.Equal(t, StateQuorate, e.State)
	assert.Equal(t, 3, e.QuorumN)
	assert.Equal(t, map[string]string{"holder-1": "aa11"}, e.Replicas)
}

func TestTrackerAbandon(t *testing.T) {
	tr, err := NewTracker(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tr.Track("abc", 2))
	_, err = tr.AddReplica("abc", "holder-1", "aa11")
	require.NoError(t, err)

	require.NoError(t, tr.Abandon("abc"))
	state, _ := tr.State("abc")
	assert.Equal(t, StateAbandoned, state)
	assert.Empty(t, tr.Replicas("abc"))
	assert.True(t, state.Terminal())
}

func TestHolderRecordExpiry(t *testing.T) {
	now := time.Now()

	rec := &HolderRecord{ChunkID: "abc"}
	assert.False(t, rec.Expired(now), "record without TTL never expires")

	rec.ExpiresAt = now.Add(time.Minute)
	assert.False(t, rec.Expired(now))
	assert.True(t, rec.Expired(now.Add(2*time.Minute)))
}
