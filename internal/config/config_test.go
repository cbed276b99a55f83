package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/crdoc/doc"
	"github.com/kevinxiao27/crdoc/ol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crdoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cfg.Document.Peer)
	assert.Equal(t, doc.DefaultBufferCapacity, cfg.Document.BufferCapacity)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Sim.Replicas)
	assert.NotEqual(t, ol.InvalidPeer, cfg.PeerID())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
document:
  peer: 7
  buffer_capacity: 50
log:
  level: debug
  pretty: false
sim:
  replicas: 5
`)
	t.Setenv("CRDOC_SIM_ROUNDS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ol.PeerID(7), cfg.PeerID())
	assert.Equal(t, 50, cfg.Document.BufferCapacity)
	assert.Equal(t, 5, cfg.Sim.Replicas)
	assert.Equal(t, 2, cfg.Sim.Rounds)

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Debug().Str("k", "v").Msg("hello")
	assert.Contains(t, buf.String(), `"k":"v"`)

	d, err := doc.New(cfg.PeerID(), cfg.DocumentOptions(logger)...)
	require.NoError(t, err)
	assert.Equal(t, ol.PeerID(7), d.PeerID())

	sc := cfg.SimConfig(logger)
	assert.Equal(t, 5, sc.Replicas)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "log:\n  level: loud\n"},
		{"zero buffer", "document:\n  buffer_capacity: 0\n"},
		{"one replica", "sim:\n  replicas: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
