package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/smite-net/smite-node/lib/core"
)

// ResolveBinary returns the first candidate that names an existing
// executable. Candidates without a path separator are looked up in PATH.
// When nothing resolves, name itself is tried through PATH as a last resort.
// The returned error wraps core.ErrBinaryNotFound and lists every path tried.
func ResolveBinary(candidates []string, name string) (string, error) {
	tried := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		tried = append(tried, c)
		if resolved, ok := lookup(c); ok {
			log.WithFields(logger.Fields{
				"at":       "ResolveBinary",
				"reason":   "candidate_resolved",
				"binary":   name,
				"resolved": resolved,
			}).Debug("resolved tunnel binary")
			return resolved, nil
		}
	}
	if name != "" {
		tried = append(tried, "$PATH/"+name)
		if resolved, err := exec.LookPath(name); err == nil {
			return resolved, nil
		}
	}
	return "", binaryNotFound(name, tried)
}

// lookup resolves one candidate. Bare names go through PATH; anything with a
// separator must exist and be executable.
func lookup(candidate string) (string, bool) {
	if !strings.ContainsRune(candidate, filepath.Separator) {
		resolved, err := exec.LookPath(candidate)
		return resolved, err == nil
	}
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
		return "", false
	}
	return candidate, true
}

func binaryNotFound(name string, tried []string) error {
	return oops.
		Code(core.CodeBinaryNotFound).
		With("binary", name, "tried", tried).
		Wrapf(core.ErrBinaryNotFound, "%s binary not found, tried: %s", name, strings.Join(tried, ", "))
}
