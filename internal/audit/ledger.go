// Package audit owns proof-of-continued-storage: owner-scheduled challenge
// rounds with single-use nonces, verification against the owner's reference
// ciphertext, and the Degraded/Healing handoff to the replication engine.
package audit

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrReplayDetected is returned when a nonce is presented a second time.
var ErrReplayDetected = errors.New("audit: replay detected")

// Ledger records consumed challenge nonces so each is used at most once.
// Owners record every nonce they issue and reject responses against any
// other; holders record every (chunk, nonce) pair they have answered and
// never answer it again.
//
// On disk the ledger is an append-only journal, one consumed key per line,
// so Consume is O(1) in the journal size.
type Ledger struct {
	path string

	mu   sync.Mutex
	seen map[string]bool // chunk id + "/" + hex nonce
}

// NewLedger loads (or creates) a nonce ledger at path.
func NewLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, seen: make(map[string]bool)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to read nonce ledger: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if key := strings.TrimSpace(sc.Text()); key != "" {
			l.seen[key] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse nonce ledger: %w", err)
	}
	return l, nil
}

func ledgerKey(chunkID string, nonce []byte) string {
	return chunkID + "/" + hex.EncodeToString(nonce)
}

// Consume marks the nonce used, returning ErrReplayDetected if it already was.
func (l *Ledger) Consume(chunkID string, nonce []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(chunkID, nonce)
	if l.seen[key] {
		return fmt.Errorf("%w: nonce already used for chunk %s", ErrReplayDetected, chunkID)
	}
	l.seen[key] = true
	return l.append(key)
}

// Seen reports whether the nonce has been consumed.
func (l *Ledger) Seen(chunkID string, nonce []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[ledgerKey(chunkID, nonce)]
}

// append journals one consumed key. Keys are a chunk id, a slash and a hex
// nonce, so they never contain newlines. Caller must hold l.mu.
func (l *Ledger) append(key string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open nonce ledger: %w", err)
	}
	if _, err := f.WriteString(key + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to nonce ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close nonce ledger: %w", err)
	}
	return nil
}
