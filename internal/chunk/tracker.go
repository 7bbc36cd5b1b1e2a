package chunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is the owner's record for one tracked chunk: lifecycle state plus the
// replica set of holders that ACKed, each pinned to the public key it first
// presented (trust-on-first-use).
type Entry struct {
	ChunkID   string            `json:"chunk_id"`
	State     State             `json:"state"`
	QuorumN   int               `json:"quorum_n"`
	Replicas  map[string]string `json:"replicas"` // holder id -> hex public key
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Tracker persists the owner-side chunk index: every chunk the owner has
// stored, its lifecycle state, and its replica set. This is the only
// global-looking state in the system and it is local to the owner.
type Tracker struct {
	path string

	mu     sync.RWMutex
	chunks map[string]*Entry
}

var (
	// ErrNotTracked is returned for operations on a chunk the owner never stored.
	ErrNotTracked = errors.New("chunk: not tracked")
	// ErrKeyMismatch is returned when a holder presents a public key that
	// conflicts with the key pinned on its first ACK.
	ErrKeyMismatch = errors.New("chunk: holder key does not match pinned key")
	// ErrBadTransition is returned for an illegal lifecycle transition.
	ErrBadTransition = errors.New("chunk: invalid state transition")
)

// NewTracker loads (or creates) the chunk index in dir.
func NewTracker(dir string) (*Tracker, error) {
	if dir == "" {
		return nil, errors.New("tracker directory required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create tracker directory: %w", err)
	}

	t := &Tracker{
		path:   filepath.Join(dir, "chunks.json"),
		chunks: make(map[string]*Entry),
	}
	if err := t.load(); err != nil {
		return nil, fmt.Errorf("failed to load chunk index: %w", err)
	}
	return t, nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Replicas == nil {
			e.Replicas = make(map[string]string)
		}
		t.chunks[e.ChunkID] = e
	}
	return nil
}

// save writes the index to disk. Caller must hold t.mu.
func (t *Tracker) save() error {
	entries := make([]*Entry, 0, len(t.chunks))
	for _, e := range t.chunks {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChunkID < entries[j].ChunkID })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chunk index: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write chunk index: %w", err)
	}
	return nil
}

// Track registers a new chunk in Pending state. Tracking an already-known
// chunk is a no-op.
func (t *Tracker) Track(chunkID string, quorumN int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.chunks[chunkID]; exists {
		return nil
	}

	now := time.Now()
	t.chunks[chunkID] = &Entry{
		ChunkID:   chunkID,
		State:     StatePending,
		QuorumN:   quorumN,
		Replicas:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return t.save()
}

// AddReplica records an ACK from holderID, pinning publicKeyHex on first
// contact. It returns the replica count after the add. Duplicate ACKs from an
// already-recorded holder are merged as no-ops. A holder re-appearing with a
// different key is rejected with ErrKeyMismatch.
func (t *Tracker) AddReplica(chunkID, holderID, publicKeyHex string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return 0, ErrNotTracked
	}

	if pinned, seen := e.Replicas[holderID]; seen {
		if pinned != publicKeyHex {
			return len(e.Replicas), ErrKeyMismatch
		}
		return len(e.Replicas), nil
	}

	e.Replicas[holderID] = publicKeyHex
	e.UpdatedAt = time.Now()
	if err := t.save(); err != nil {
		return len(e.Replicas), err
	}
	return len(e.Replicas), nil
}

// PinnedKey returns the hex public key pinned for holderID on this chunk.
func (t *Tracker) PinnedKey(chunkID, holderID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return "", false
	}
	key, seen := e.Replicas[holderID]
	return key, seen
}

// SetState performs a lifecycle transition, validating it against the state
// machine.
func (t *Tracker) SetState(chunkID string, next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return ErrNotTracked
	}
	if e.State == next {
		return nil
	}
	if !e.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, e.State, next)
	}
	e.State = next
	e.UpdatedAt = time.Now()
	return t.save()
}

// SetReplicas replaces the replica set, keeping only the named holders and
// their pinned keys. Used after an audit round to drop holders that failed
// verification.
func (t *Tracker) SetReplicas(chunkID string, holders []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return ErrNotTracked
	}

	kept := make(map[string]string, len(holders))
	for _, h := range holders {
		if key, seen := e.Replicas[h]; seen {
			kept[h] = key
		}
	}
	e.Replicas = kept
	e.UpdatedAt = time.Now()
	return t.save()
}

// State returns the chunk's current lifecycle state.
func (t *Tracker) State(chunkID string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return "", false
	}
	return e.State, true
}

// Replicas returns the holder ids currently in the replica set, sorted.
func (t *Tracker) Replicas(chunkID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return nil
	}
	holders := make([]string, 0, len(e.Replicas))
	for h := range e.Replicas {
		holders = append(holders, h)
	}
	sort.Strings(holders)
	return holders
}

// Get returns a copy of the chunk's entry.
func (t *Tracker) Get(chunkID string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return nil, false
	}
	return copyEntry(e), true
}

// List returns copies of all tracked entries, sorted by chunk id.
func (t *Tracker) List() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]*Entry, 0, len(t.chunks))
	for _, e := range t.chunks {
		entries = append(entries, copyEntry(e))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChunkID < entries[j].ChunkID })
	return entries
}

// Abandon marks the chunk abandoned (terminal) and clears its replica set.
func (t *Tracker) Abandon(chunkID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.chunks[chunkID]
	if !exists {
		return ErrNotTracked
	}
	e.State = StateAbandoned
	e.Replicas = make(map[string]string)
	e.UpdatedAt = time.Now()
	return t.save()
}

func copyEntry(e *Entry) *Entry {
	replicas := make(map[string]string, len(e.Replicas))
	for k, v := range e.Replicas {
		replicas[k] = v
	}
	out := *e
	out.Replicas = replicas
	return &out
}
