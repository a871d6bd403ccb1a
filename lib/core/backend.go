package core

import (
	"strings"

	"github.com/samber/oops"
)

// Backend names a tunnel core implementation.
type Backend string

const (
	// BackendRathole is the token-authenticated reverse tunnel client.
	BackendRathole Backend = "rathole"
	// BackendBackhaul is the multi-transport multiplexing tunnel client.
	BackendBackhaul Backend = "backhaul"
)

// Backends returns every supported backend in a stable order.
func Backends() []Backend {
	return []Backend{BackendRathole, BackendBackhaul}
}

// ParseBackend maps a declared tunnel core name onto the closed Backend set.
// Matching ignores case and surrounding whitespace.
func ParseBackend(name string) (Backend, error) {
	normalized := Backend(strings.ToLower(strings.TrimSpace(name)))
	for _, b := range Backends() {
		if b == normalized {
			return b, nil
		}
	}
	return "", oops.
		Code(CodeUnknownBackend).
		With("backend", name).
		Wrapf(ErrUnknownBackend, "unknown tunnel core %q", name)
}

func (b Backend) String() string {
	return string(b)
}
