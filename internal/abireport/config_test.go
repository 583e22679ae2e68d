package abireport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abireport.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConf(t, `
# record store location
STORE_DIR="/srv/abi"
REQUIRE_SYMBOLS=1
UNKNOWN_POLICY='optimistic'

malformed line without equals
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/abi", cfg.StoreDir())
	assert.Equal(t, CapturePolicy{RequireSymbols: true}, cfg.CapturePolicy())
	assert.Equal(t, UnknownOptimistic, cfg.UnknownPolicy())
	assert.Equal(t, HashPolicy{}, cfg.HashPolicy())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.conf"))
	require.NoError(t, err)

	assert.Equal(t, "/var/db/abireport", cfg.StoreDir())
	assert.Equal(t, UnknownConservative, cfg.UnknownPolicy())
	assert.False(t, cfg.CapturePolicy().RequireSymbols)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConf(t, "STORE_DIR=/from/file\nHASH_IMPORTS=0\n")

	t.Setenv("ABIREPORT_STORE_DIR", "/from/env")
	t.Setenv("ABIREPORT_HASH_IMPORTS", "1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.StoreDir())
	assert.Equal(t, HashPolicy{HashImports: true}, cfg.HashPolicy())
}

func TestUnknownPolicyDefaultsConservative(t *testing.T) {
	cfg := &Config{Values: map[string]string{"UNKNOWN_POLICY": "bogus"}}
	assert.Equal(t, UnknownConservative, cfg.UnknownPolicy())
}
