package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/holdfast-net/holdfast/internal/chunk"
)

// chunkIDPattern guards against path traversal through attacker-chosen ids.
var chunkIDPattern = regexp.MustCompile(`^[0-9a-f]{16,128}$`)

// FSStore is the filesystem backend: one JSON file per record/envelope under
// records/ and envelopes/.
type FSStore struct {
	recordsDir   string
	envelopesDir string
}

// NewFSStore creates (if needed) and opens a filesystem store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory required")
	}
	s := &FSStore{
		recordsDir:   filepath.Join(dir, "records"),
		envelopesDir: filepath.Join(dir, "envelopes"),
	}
	for _, d := range []string{s.recordsDir, s.envelopesDir} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return s, nil
}

func validateChunkID(chunkID string) error {
	if !chunkIDPattern.MatchString(chunkID) {
		return fmt.Errorf("invalid chunk id %q", chunkID)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

func listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// PutRecord persists a holder record.
func (s *FSStore) PutRecord(rec *chunk.HolderRecord) error {
	if err := validateChunkID(rec.ChunkID); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.recordsDir, rec.ChunkID+".json"), rec)
}

// GetRecord loads a holder record, returning ErrNotFound if absent.
func (s *FSStore) GetRecord(chunkID string) (*chunk.HolderRecord, error) {
	if err := validateChunkID(chunkID); err != nil {
		return nil, err
	}
	var rec chunk.HolderRecord
	if err := readJSON(filepath.Join(s.recordsDir, chunkID+".json"), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord removes a holder record. Deleting an absent record returns
// ErrNotFound.
func (s *FSStore) DeleteRecord(chunkID string) error {
	if err := validateChunkID(chunkID); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.recordsDir, chunkID+".json"))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// ListRecords returns all stored record ids.
func (s *FSStore) ListRecords() ([]string, error) {
	return listIDs(s.recordsDir)
}

// PutEnvelope persists an owner envelope.
func (s *FSStore) PutEnvelope(env *chunk.OwnerEnvelope) error {
	if err := validateChunkID(env.ChunkID); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.envelopesDir, env.ChunkID+".json"), env)
}

// GetEnvelope loads an owner envelope, returning ErrNotFound if absent.
func (s *FSStore) GetEnvelope(chunkID string) (*chunk.OwnerEnvelope, error) {
	if err := validateChunkID(chunkID); err != nil {
		return nil, err
	}
	var env chunk.OwnerEnvelope
	if err := readJSON(filepath.Join(s.envelopesDir, chunkID+".json"), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DeleteEnvelope removes an owner envelope.
func (s *FSStore) DeleteEnvelope(chunkID string) error {
	if err := validateChunkID(chunkID); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.envelopesDir, chunkID+".json"))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// ListEnvelopes returns all stored envelope ids.
func (s *FSStore) ListEnvelopes() ([]string, error) {
	return listIDs(s.envelopesDir)
}

// UsedBytes sums the payload bytes of all holder records.
func (s *FSStore) UsedBytes() (int64, error) {
	ids, err := s.ListRecords()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		rec, err := s.GetRecord(id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return 0, err
		}
		total += int64(len(rec.Payload))
	}
	return total, nil
}

// Close is a no-op for the filesystem backend.
func (s *FSStore) Close() error { return nil }
