package supervisor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/go-i2p/logger"
)

// DefaultTailLength is how much trailing process output is surfaced in
// startup errors.
const DefaultTailLength = 1000

const (
	configDirMode  fs.FileMode = 0o700
	configFileMode fs.FileMode = 0o600
)

// EnsureDir creates dir with owner-only permissions if it does not exist.
// Rendered configs carry tunnel tokens, so the directory is kept private.
func EnsureDir(dir string) error {
	clean := filepath.Clean(dir)
	if err := os.MkdirAll(clean, configDirMode); err != nil {
		return fmt.Errorf("failed to create config directory %q: %w", clean, err)
	}
	return nil
}

// WriteConfig atomically replaces path with data, mode 0600. The data is
// written to a sibling temp file first so a crashed write never leaves a
// truncated config for the reconciler to pick up.
func WriteConfig(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp config in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write config %q: %w", path, err)
	}
	if err := tmp.Chmod(configFileMode); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to chmod config %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close config %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to install config %q: %w", path, err)
	}
	return nil
}

// RemoveFile deletes path. A missing file is not an error. Failures are
// logged with the tunnel context and returned for callers that care.
func RemoveFile(path string, fields logger.Fields) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	entry := log.WithError(err).WithFields(fields)
	entry.WithField("path", path).Warn("failed to remove file")
	return err
}

// TailFile returns up to the last n bytes of the file at path.
func TailFile(path string, n int) (string, error) {
	return TailFileSince(path, 0, n)
}

// TailFileSince is TailFile restricted to bytes at or after offset since, so
// earlier runs appended to the same file are left out.
func TailFileSince(path string, since int64, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := max(info.Size()-int64(n), since, 0)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(trimPartialRune(data)), nil
}

func trimPartialRune(b []byte) []byte {
	for i := 0; i < len(b) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(b[i]) {
			return b[i:]
		}
	}
	if len(b) > 0 && !utf8.RuneStart(b[0]) {
		return b[min(len(b), utf8.UTFMax):]
	}
	return b
}
