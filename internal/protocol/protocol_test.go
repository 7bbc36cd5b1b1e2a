package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdfast-net/holdfast/internal/crypto"
)

func TestEncodeDecode(t *testing.T) {
	req := &StoreRequest{
		ChunkID:        "abc",
		RoundID:        "round-1",
		Payload:        []byte("payload"),
		OwnershipProof: []byte("proof"),
		QuorumN:        3,
		TTLSeconds:     60,
	}

	data, err := Encode(TypeStoreRequest, req)
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeStoreRequest, env.Type)

	var got StoreRequest
	require.NoError(t, env.DecodeBody(&got))
	assert.Equal(t, *req, got)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"body":{}}`))
	assert.Error(t, err, "missing type should be rejected")
}

func TestStoreAckSignature(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ack := &StoreAck{
		ChunkID:   "abc",
		RoundID:   "round-1",
		HolderID:  crypto.KeyID(pub),
		HolderKey: pub,
	}
	require.NoError(t, ack.Sign(priv))
	assert.True(t, ack.VerifySignature())

	t.Run("tampered field", func(t *testing.T) {
		bad := *ack
		bad.ChunkID = "other"
		assert.False(t, bad.VerifySignature())
	})

	t.Run("holder id does not match key", func(t *testing.T) {
		bad := *ack
		bad.HolderID = "spoofed"
		assert.False(t, bad.VerifySignature())
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPub, otherPriv, _ := crypto.GenerateKeyPair()
		bad := &StoreAck{ChunkID: "abc", RoundID: "round-1", HolderID: ack.HolderID, HolderKey: pub}
		digest, _ := bad.SigningDigest()
		bad.Signature, _ = crypto.Sign(otherPriv, digest)
		assert.False(t, bad.VerifySignature())
		_ = otherPub
	})
}

func TestRetrieveResponseSignature(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	resp := &RetrieveResponse{
		ChunkID:   "abc",
		Payload:   []byte("owner-encrypted"),
		HolderID:  crypto.KeyID(pub),
		HolderKey: pub,
	}
	require.NoError(t, resp.Sign(priv))
	assert.True(t, resp.VerifySignature())

	resp.Payload = []byte("substituted")
	assert.False(t, resp.VerifySignature(), "payload substitution must break the signature")
}

func TestStorageProofResponseSignature(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	resp := &StorageProofResponse{
		ChunkID:       "abc",
		ChallengeSeed: []byte("seed"),
		Proof:         []byte("proof"),
		HolderID:      crypto.KeyID(pub),
		HolderKey:     pub,
	}
	require.NoError(t, resp.Sign(priv))
	assert.True(t, resp.VerifySignature())

	resp.Proof = []byte("forged")
	assert.False(t, resp.VerifySignature())
}
