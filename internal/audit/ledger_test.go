package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerConsumeOnce(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "nonces.log"))
	require.NoError(t, err)

	nonce := []byte("nonce-1")
	require.NoError(t, ledger.Consume("chunk-a", nonce))
	assert.ErrorIs(t, ledger.Consume("chunk-a", nonce), ErrReplayDetected)

	// Same nonce under a different chunk is a distinct pair.
	assert.NoError(t, ledger.Consume("chunk-b", nonce))
}

func TestLedgerSeen(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "nonces.log"))
	require.NoError(t, err)

	nonce := []byte("nonce-2")
	assert.False(t, ledger.Seen("chunk-a", nonce))
	require.NoError(t, ledger.Consume("chunk-a", nonce))
	assert.True(t, ledger.Seen("chunk-a", nonce))
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")

	ledger, err := NewLedger(path)
	require.NoError(t, err)
	require.NoError(t, ledger.Consume("chunk-a", []byte("persisted")))

	reopened, err := NewLedger(path)
	require.NoError(t, err)
	assert.ErrorIs(t, reopened.Consume("chunk-a", []byte("persisted")), ErrReplayDetected)
}

func TestLedgerJournalsOneLinePerNonce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")

	ledger, err := NewLedger(path)
	require.NoError(t, err)
	for _, chunkID := range []string{"chunk-a", "chunk-b", "chunk-c"} {
		require.NoError(t, ledger.Consume(chunkID, []byte("nonce")))
	}

	// Each consume appends exactly one line; nothing is rewritten.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, ledgerKey("chunk-a", []byte("nonce")), lines[0])

	reopened, err := NewLedger(path)
	require.NoError(t, err)
	for _, chunkID := range []string{"chunk-a", "chunk-b", "chunk-c"} {
		assert.True(t, reopened.Seen(chunkID, []byte("nonce")))
	}
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	_, err := NewScheduler(nil, 0)
	assert.Error(t, err)
}
