// Package keystore persists a node's long-lived secret key and Ed25519
// identity. Both are generated exactly once at first run; the private
// material never transits the network and is held in memguard enclaves so
// it stays encrypted at rest in memory and can be purged on exit.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"

	"github.com/holdfast-net/holdfast/internal/crypto"
	"github.com/holdfast-net/holdfast/internal/filelock"
)

var (
	// ErrNotInitialized is returned when opening a keystore that was never created.
	ErrNotInitialized = errors.New("keystore: not initialized - run 'holdfast init' first")
	// ErrAlreadyInitialized is returned when initializing over existing key material.
	ErrAlreadyInitialized = errors.New("keystore: already initialized")
)

const (
	keyFile      = "node.key"
	identityFile = "identity.json"
)

// identityRecord is the on-disk form of the Ed25519 identity.
type identityRecord struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Keystore holds a node's key material: the symmetric node key and the
// Ed25519 identity used to sign holder responses. Both private keys live in
// memguard enclaves and are only handed out through scoped accessors.
type Keystore struct {
	dir      string
	enclave  *memguard.Enclave
	identity *memguard.Enclave

	identityPub []byte
	nodeID      string
}

// Exists reports whether a keystore has been initialized in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, keyFile))
	return err == nil
}

// Init generates fresh key material in dir. It fails if a keystore already
// exists there.
func Init(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	lock := filelock.New(filepath.Join(dir, keyFile))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock keystore: %w", err)
	}
	defer lock.Unlock()

	if Exists(dir) {
		return nil, ErrAlreadyInitialized
	}

	nodeKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dir, keyFile), []byte(fmt.Sprintf("%x", nodeKey)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write node key: %w", err)
	}

	rec := identityRecord{
		PublicKey:  crypto.EncodePublicKey(pub),
		PrivateKey: crypto.EncodePrivateKey(priv),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, identityFile), data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write identity: %w", err)
	}

	// NewBufferFromBytes wipes its input, so the private key is enclaved
	// only after its on-disk record has been written.
	return &Keystore{
		dir:         dir,
		enclave:     memguard.NewBufferFromBytes(nodeKey).Seal(),
		identity:    memguard.NewBufferFromBytes(priv).Seal(),
		identityPub: pub,
		nodeID:      crypto.KeyID(pub),
	}, nil
}

// Open loads existing key material from dir.
func Open(dir string) (*Keystore, error) {
	raw, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read node key: %w", err)
	}

	nodeKey := make([]byte, crypto.KeySize)
	if _, err := fmt.Sscanf(string(raw), "%x", &nodeKey); err != nil || len(nodeKey) != crypto.KeySize {
		return nil, errors.New("keystore: corrupt node key file")
	}

	data, err := os.ReadFile(filepath.Join(dir, identityFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}
	var rec identityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse identity: %w", err)
	}
	pub, err := crypto.DecodePublicKey(rec.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid identity public key: %w", err)
	}
	priv, err := crypto.DecodePrivateKey(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid identity private key: %w", err)
	}

	return &Keystore{
		dir:         dir,
		enclave:     memguard.NewBufferFromBytes(nodeKey).Seal(),
		identity:    memguard.NewBufferFromBytes(priv).Seal(),
		identityPub: pub,
		nodeID:      crypto.KeyID(pub),
	}, nil
}

// UseKey opens the enclave, hands the node key to fn, and destroys the
// plaintext buffer when fn returns. The key must not escape fn.
func (k *Keystore) UseKey(fn func(key []byte) error) error {
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// IdentityPublic returns the node's Ed25519 public key.
func (k *Keystore) IdentityPublic() []byte { return k.identityPub }

// UseIdentity opens the identity enclave, hands the Ed25519 private key to
// fn, and destroys the plaintext buffer when fn returns. The key must not
// escape fn.
func (k *Keystore) UseIdentity(fn func(priv []byte) error) error {
	buf, err := k.identity.Open()
	if err != nil {
		return fmt.Errorf("failed to open identity enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// NodeID returns the identifier derived from the identity public key. It is
// the holder_id this node presents on the wire.
func (k *Keystore) NodeID() string { return k.nodeID }
