package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/crypto"
	"github.com/holdfast-net/holdfast/internal/proof"
)

func timeNow() time.Time { return time.Now() }

// OwnerEnvelopeFixture builds an owner envelope for plaintext using key,
// with the ownership proof derived by the HMAC scheme.
func OwnerEnvelopeFixture(t *testing.T, key, plaintext []byte) *chunk.OwnerEnvelope {
	t.Helper()

	payload, err := crypto.Encrypt(key, plaintext)
	require.NoError(t, err)
	chunkID := chunk.ID(payload)

	artifact, err := proof.NewHMACScheme().GenerateOwnershipProof(key, chunkID)
	require.NoError(t, err)

	return &chunk.OwnerEnvelope{
		ChunkID:        chunkID,
		Payload:        payload,
		OwnershipProof: artifact,
		CreatedAt:      time.Now().UTC(),
	}
}

// OwnerKey generates a throwaway symmetric node key.
func OwnerKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}
