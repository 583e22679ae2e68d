package elfsym

import (
	"debug/elf"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abireport/internal/abireport"
)

// hostELF returns a dynamically linked ELF from the host, or skips.
func hostELF(t *testing.T) string {
	t.Helper()
	for _, path := range []string{"/bin/sh", "/usr/bin/env", "/bin/ls"} {
		f, err := elf.Open(path)
		if err != nil {
			continue
		}
		libs, _ := f.ImportedLibraries()
		f.Close()
		if len(libs) > 0 {
			return path
		}
	}
	t.Skip("no dynamically linked ELF executable available on this host")
	return ""
}

func TestOpenExecutable(t *testing.T) {
	path := hostELF(t)

	sf, err := Open(path)
	require.NoError(t, err)
	defer sf.Close()

	assert.Equal(t, abireport.KindExecutable, sf.ObjectKind())
	assert.NotEmpty(t, sf.Identity())
	// A dynamically linked executable pulls at least libc symbols.
	assert.NotEmpty(t, sf.ImportedSymbols())
	assert.NotEmpty(t, sf.NeededLibs())
}

func TestOpenRejectsNonELF(t *testing.T) {
	path := t.TempDir() + "/notelf"
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))

	_, err := Open(path)
	require.Error(t, err)
}

func TestOpenerFeedsCapture(t *testing.T) {
	path := hostELF(t)

	src, closeSrc, err := Opener(path)
	require.NoError(t, err)

	c, err := abireport.BuildCapture(src, abireport.CapturePolicy{})
	require.NoError(t, closeSrc())
	require.NoError(t, err)

	assert.Equal(t, abireport.KindExecutable, c.Kind)
	assert.NotEmpty(t, c.Imported)
	assert.NotEmpty(t, c.NeededLibs)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := hostELF(t)

	sf, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, sf.Close())
	require.NoError(t, sf.Close())

	// Extracted facts survive the close.
	assert.NotEmpty(t, sf.Identity())
}
