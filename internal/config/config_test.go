package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigDirHonorsEnv(t *testing.T) {
	t.Setenv(EnvDir, "/tmp/holdfast-test-dir")
	assert.Equal(t, "/tmp/holdfast-test-dir", DefaultConfigDir())
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "fs", cfg.StoreBackend)
	assert.Equal(t, 3, cfg.Replication.QuorumN)
	assert.Equal(t, 10*time.Second, cfg.Replication.AckTimeout)
	assert.Equal(t, 3, cfg.Replication.RetryBudget)
	assert.Equal(t, 3, cfg.Retrieval.RetryBudget)
	assert.Equal(t, 4, cfg.Audit.Parallelism)
	assert.Zero(t, cfg.Audit.Interval, "audit cadence must have no default")
	require.NoError(t, cfg.Validate())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.ConfigDir = dir
	cfg.StoreBackend = "bolt"
	cfg.Replication.QuorumN = 5
	cfg.Audit.Interval = time.Hour
	require.NoError(t, cfg.Save())

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "bolt", loaded.StoreBackend)
	assert.Equal(t, 5, loaded.Replication.QuorumN)
	assert.Equal(t, time.Hour, loaded.Audit.Interval)
	assert.Equal(t, dir, loaded.ConfigDir)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Replication.QuorumN)
	assert.Equal(t, "fs", cfg.StoreBackend)
}

func TestLoadRejectsBadBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"store_backend":"s3"}`), 0600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestDerivedDirs(t *testing.T) {
	cfg := Default()
	cfg.ConfigDir = "/x"
	assert.Equal(t, "/x/data", cfg.DataDir())
	assert.Equal(t, "/x/keys", cfg.KeystoreDir())
}
