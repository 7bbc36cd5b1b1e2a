package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdfast-net/holdfast/internal/chunk"
)

// both backends must satisfy the same contract
func backends(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	bs, err := NewBoltStore(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	return map[string]Store{"fs": fs, "bolt": bs}
}

func testChunkID(seed string) string {
	return chunk.ID([]byte(seed))
}

func TestRecordRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := testChunkID("payload-1")
			rec := &chunk.HolderRecord{
				ChunkID:        id,
				Payload:        []byte("doubly encrypted bytes"),
				EncryptedProof: []byte("encrypted proof"),
				CreatedAt:      time.Now().UTC(),
			}

			require.NoError(t, s.PutRecord(rec))

			got, err := s.GetRecord(id)
			require.NoError(t, err)
			assert.Equal(t, rec.Payload, got.Payload)
			assert.Equal(t, rec.EncryptedProof, got.EncryptedProof)

			ids, err := s.ListRecords()
			require.NoError(t, err)
			assert.Equal(t, []string{id}, ids)

			used, err := s.UsedBytes()
			require.NoError(t, err)
			assert.Equal(t, int64(len(rec.Payload)), used)

			require.NoError(t, s.DeleteRecord(id))
			_, err = s.GetRecord(id)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := testChunkID("payload-2")
			env := &chunk.OwnerEnvelope{
				ChunkID:        id,
				Payload:        []byte("owner encrypted bytes"),
				OwnershipProof: []byte("proof"),
				CreatedAt:      time.Now().UTC(),
			}

			require.NoError(t, s.PutEnvelope(env))

			got, err := s.GetEnvelope(id)
			require.NoError(t, err)
			assert.Equal(t, env.Payload, got.Payload)

			ids, err := s.ListEnvelopes()
			require.NoError(t, err)
			assert.Equal(t, []string{id}, ids)

			require.NoError(t, s.DeleteEnvelope(id))
			assert.ErrorIs(t, s.DeleteEnvelope(id), ErrNotFound)
		})
	}
}

func TestNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetRecord(testChunkID("missing"))
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetEnvelope(testChunkID("missing"))
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteRecord(testChunkID("missing")), ErrNotFound)
		})
	}
}

func TestFSStoreRejectsBadChunkID(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../../etc/passwd", "UPPERCASE", strings.Repeat("a", 200)} {
		_, err := s.GetRecord(id)
		assert.Error(t, err, "id %q should be rejected", id)
		assert.NotErrorIs(t, err, ErrNotFound)
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	id := testChunkID("persist")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.PutRecord(&chunk.HolderRecord{ChunkID: id, Payload: []byte("x")}))
	require.NoError(t, s.Close())

	s2, err := NewBoltStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetRecord(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got.Payload)
}
