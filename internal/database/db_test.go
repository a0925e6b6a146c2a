package database

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeFor(t *testing.T) {
	cfg := NewConfig("x.db").SizeFor(4)
	assert.Equal(t, 6, cfg.MaxOpenConns)
	assert.Equal(t, 6, cfg.MaxIdleConns)

	cfg = NewConfig("x.db").SizeFor(0)
	assert.Equal(t, runtime.NumCPU()+reservedConns, cfg.MaxOpenConns)
}

func TestNewDBReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.db")

	rw, err := NewDB(NewConfig(path))
	require.NoError(t, err)
	assert.Equal(t, defaultMaxOpenConns, rw.Stats().MaxOpenConnections)
	require.NoError(t, rw.Close())

	cfg := NewConfig(path)
	cfg.ReadOnly = true
	ro, err := NewDB(cfg)
	require.NoError(t, err)
	defer ro.Close()

	var n int
	require.NoError(t, ro.Get(&n, "SELECT COUNT(*) FROM sources"))
	assert.Zero(t, n)

	_, err = ro.Exec("CREATE TABLE scratch (id INTEGER)")
	assert.Error(t, err)
}

func TestNewDBReadOnlyMissingFile(t *testing.T) {
	cfg := NewConfig(filepath.Join(t.TempDir(), "absent.db"))
	cfg.ReadOnly = true
	_, err := NewDB(cfg)
	assert.Error(t, err)
}
