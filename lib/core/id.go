package core

import (
	"github.com/samber/oops"
)

// MaxTunnelIDLength bounds tunnel ids so derived file names stay portable.
const MaxTunnelIDLength = 128

// TunnelID is the opaque, filesystem-safe identifier of a tunnel. It names the
// tunnel's config and log files, so it is restricted to [A-Za-z0-9._-].
type TunnelID string

// ParseTunnelID validates raw and returns it as a TunnelID.
func ParseTunnelID(raw string) (TunnelID, error) {
	id := TunnelID(raw)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate reports whether id can safely be used as a file name component.
func (id TunnelID) Validate() error {
	s := string(id)
	switch {
	case s == "":
		return invalidID(id, "tunnel id must not be empty")
	case len(s) > MaxTunnelIDLength:
		return invalidID(id, "tunnel id exceeds %d bytes", MaxTunnelIDLength)
	case s == "." || s == "..":
		return invalidID(id, "tunnel id %q is reserved", s)
	}
	for i := 0; i < len(s); i++ {
		if !isIDByte(s[i]) {
			return invalidID(id, "tunnel id contains invalid character %q", s[i])
		}
	}
	return nil
}

func (id TunnelID) String() string {
	return string(id)
}

func isIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.':
		return true
	}
	return false
}

func invalidID(id TunnelID, format string, args ...any) error {
	return oops.
		Code(CodeValidation).
		With("field", "tunnel_id", "tunnel_id", string(id)).
		Wrapf(ErrValidation, format, args...)
}
