package rathole

import (
	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/render"
)

// clientConfig is the validated subset of a spec that rathole consumes.
type clientConfig struct {
	RemoteAddr string
	Token      string
	LocalAddr  string
}

func parseSpec(spec core.Spec) (clientConfig, error) {
	cfg := clientConfig{
		RemoteAddr: spec.String("remote_addr"),
		Token:      spec.String("token"),
		LocalAddr:  spec.String("local_addr"),
	}
	if cfg.RemoteAddr == "" {
		return cfg, core.NewValidationError(core.BackendRathole, "remote_addr",
			"rathole requires 'remote_addr' (panel address) in spec")
	}
	if cfg.Token == "" {
		return cfg, core.NewValidationError(core.BackendRathole, "token",
			"rathole requires 'token' in spec")
	}
	if cfg.LocalAddr == "" {
		cfg.LocalAddr = DefaultLocalAddr
	}
	return cfg, nil
}

// Render produces the client config rathole reads for tunnel id.
func (c clientConfig) Render(id core.TunnelID) []byte {
	doc := render.NewDocument()
	doc.Table("client").
		Set("remote_addr", c.RemoteAddr).
		Set("default_token", c.Token)
	doc.Table("client", "services", id.String()).
		Set("local_addr", c.LocalAddr)
	return doc.Bytes()
}

// RenderSpec validates spec and returns the config that Apply would write,
// without touching disk.
func RenderSpec(id core.TunnelID, spec core.Spec) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	cfg, err := parseSpec(spec)
	if err != nil {
		return nil, err
	}
	return cfg.Render(id), nil
}
