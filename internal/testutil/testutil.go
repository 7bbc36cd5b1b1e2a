// Package testutil provides shared fixtures for holdfast tests: keystores,
// in-memory buses, stores, and fully wired holder nodes.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holdfast-net/holdfast/internal/audit"
	"github.com/holdfast-net/holdfast/internal/chunk"
	"github.com/holdfast-net/holdfast/internal/keystore"
	"github.com/holdfast-net/holdfast/internal/proof"
	"github.com/holdfast-net/holdfast/internal/replicate"
	"github.com/holdfast-net/holdfast/internal/retrieve"
	"github.com/holdfast-net/holdfast/internal/router"
	"github.com/holdfast-net/holdfast/internal/store"
	"github.com/holdfast-net/holdfast/internal/transport"
)

// NewKeystore initializes a throwaway keystore in a temp directory.
func NewKeystore(t *testing.T) *keystore.Keystore {
	t.Helper()
	ks, err := keystore.Init(t.TempDir())
	require.NoError(t, err)
	return ks
}

// NewStore opens a throwaway filesystem store.
func NewStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// NewBus returns an in-memory bus closed at test end.
func NewBus(t *testing.T) *transport.MemBus {
	t.Helper()
	bus := transport.NewMemBus()
	t.Cleanup(bus.Close)
	return bus
}

// NewTracker opens a throwaway chunk tracker.
func NewTracker(t *testing.T) *chunk.Tracker {
	t.Helper()
	tr, err := chunk.NewTracker(t.TempDir())
	require.NoError(t, err)
	return tr
}

// HolderFixture is one fully wired holder node listening on a shared bus.
type HolderFixture struct {
	Keystore *keystore.Keystore
	Store    store.Store
	Router   *router.Router

	storeHandler *replicate.Holder
}

// NodeID returns the holder's identity-derived id.
func (h *HolderFixture) NodeID() string { return h.Keystore.NodeID() }

// EvictExpired runs the holder janitor once.
func (h *HolderFixture) EvictExpired(t *testing.T) int {
	t.Helper()
	return h.storeHandler.EvictExpired(timeNow())
}

// HolderOption tweaks a holder fixture before its router starts.
type HolderOption func(*holderSetup)

type holderSetup struct {
	admission replicate.AdmissionConfig
}

// WithAdmission overrides the holder's admission policy.
func WithAdmission(cfg replicate.AdmissionConfig) HolderOption {
	return func(s *holderSetup) { s.admission = cfg }
}

// StartHolder wires a complete holder (store, retrieve, proof, and delete
// handlers behind a router) onto bus, returning its fixture. The holder is
// torn down at test end.
func StartHolder(t *testing.T, bus transport.Bus, opts ...HolderOption) *HolderFixture {
	t.Helper()

	setup := &holderSetup{
		admission: replicate.AdmissionConfig{AcceptProbability: 1.0},
	}
	for _, opt := range opts {
		opt(setup)
	}

	ks := NewKeystore(t)
	st := NewStore(t)
	scheme := proof.NewHMACScheme()

	ledger, err := audit.NewLedger(filepath.Join(t.TempDir(), "nonces.log"))
	require.NoError(t, err)

	policy := replicate.NewAdmissionPolicy(setup.admission, st, 1)
	storeHandler := replicate.NewHolder(ks, st, bus, policy, scheme)
	retrieveHandler := retrieve.NewHolder(ks, st, bus, scheme)
	proofHandler := audit.NewHolder(ks, st, bus, scheme, ledger)

	r := router.New(bus, 0)
	require.NoError(t, r.Start(router.Handlers{
		StoreRequest:        storeHandler.HandleStoreRequest,
		RetrieveRequest:     retrieveHandler.HandleRetrieveRequest,
		StorageProofRequest: proofHandler.HandleStorageProofRequest,
		DeleteRequest:       storeHandler.HandleDeleteRequest,
	}))
	t.Cleanup(r.Stop)

	return &HolderFixture{
		Keystore:     ks,
		Store:        st,
		Router:       r,
		storeHandler: storeHandler,
	}
}

// StartHolders starts n holders on the bus.
func StartHolders(t *testing.T, bus transport.Bus, n int) []*HolderFixture {
	t.Helper()
	holders := make([]*HolderFixture, n)
	for i := range holders {
		holders[i] = StartHolder(t, bus)
	}
	return holders
}
