package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-i2p/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConfigCreatesPrivateFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "rathole")
	path := filepath.Join(dir, "t1.toml")

	require.NoError(t, WriteConfig(path, []byte("[client]\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[client]\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	require.NoError(t, WriteConfig(path, []byte("[client]\nx = 1\n")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[client]\nx = 1\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestRemoveFileIgnoresMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.toml")
	assert.NoError(t, RemoveFile(path, logger.Fields{"tunnel_id": "t1"}))

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.NoError(t, RemoveFile(path, logger.Fields{"tunnel_id": "t1"}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	content := strings.Repeat("a", 1500) + "the end"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tail, err := TailFile(path, DefaultTailLength)
	require.NoError(t, err)
	assert.Len(t, tail, DefaultTailLength)
	assert.True(t, strings.HasSuffix(tail, "the end"))

	short, err := TailFile(path, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, content, short)

	_, err = TailFile(filepath.Join(t.TempDir(), "missing"), 10)
	assert.Error(t, err)
}

func TestTailFileSinceSkipsEarlierBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	earlier := "previous run\n"
	require.NoError(t, os.WriteFile(path, []byte(earlier+"this run\n"), 0o600))

	tail, err := TailFileSince(path, int64(len(earlier)), DefaultTailLength)
	require.NoError(t, err)
	assert.Equal(t, "this run\n", tail)

	tail, err = TailFileSince(path, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "run\n", tail)
}

func TestTailFileDropsSplitRune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte("xé!"), 0o600)) // é is two bytes

	tail, err := TailFile(path, 2)
	require.NoError(t, err)
	assert.Equal(t, "!", tail)
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := NewTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "cdefg", b.String())

	n, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "56789", b.String())
}
