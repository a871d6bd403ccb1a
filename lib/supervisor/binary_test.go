package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smite-net/smite-node/lib/core"
)

func TestResolveBinaryPrefersFirstExecutableCandidate(t *testing.T) {
	dir := t.TempDir()
	first := writeScript(t, dir, "first", "exit 0")
	second := writeScript(t, dir, "second", "exit 0")

	got, err := ResolveBinary([]string{filepath.Join(dir, "missing"), first, second}, "tool")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestResolveBinarySkipsNonExecutableFiles(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("data"), 0o644))
	exe := writeScript(t, dir, "exe", "exit 0")

	got, err := ResolveBinary([]string{plain, dir, exe}, "tool")
	require.NoError(t, err)
	assert.Equal(t, exe, got)
}

func TestResolveBinaryFallsBackToPath(t *testing.T) {
	dir := t.TempDir()
	want := writeScript(t, dir, "smite-fake-tunnel", "exit 0")
	t.Setenv("PATH", dir)

	got, err := ResolveBinary([]string{filepath.Join(dir, "nope")}, "smite-fake-tunnel")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveBinaryNotFoundListsTriedPaths(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	missing := filepath.Join(t.TempDir(), "backhaul")

	_, err := ResolveBinary([]string{missing, ""}, "backhaul")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBinaryNotFound))
	assert.Equal(t, core.CodeBinaryNotFound, core.ErrorCode(err))
	assert.Contains(t, err.Error(), missing)
	assert.Contains(t, err.Error(), "$PATH/backhaul")
}
