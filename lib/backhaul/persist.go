package backhaul

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/pelletier/go-toml/v2"
	"github.com/smite-net/smite-node/lib/core"
)

// Persisted implements core.Reconciler. The [client] table is flattened back
// into a spec; options land at top level, which parseSpec reads as a
// fallback to client_options.
func (a *Adapter) Persisted() (map[core.TunnelID]core.Spec, error) {
	entries, err := os.ReadDir(a.opts.ConfigDir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[core.TunnelID]core.Spec{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[core.TunnelID]core.Spec)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".toml") {
			continue
		}
		id := core.TunnelID(strings.TrimSuffix(name, ".toml"))
		fields := logger.Fields{"at": "backhaul.Persisted", "tunnel_id": id.String(), "file": name}
		if id.Validate() != nil {
			log.WithFields(fields).WithField("reason", "invalid_id").Warn("skipping config with unusable name")
			continue
		}
		data, err := os.ReadFile(filepath.Join(a.opts.ConfigDir, name))
		if err != nil {
			log.WithError(err).WithFields(fields).Warn("failed to read persisted config")
			continue
		}
		var doc struct {
			Client map[string]any `toml:"client"`
		}
		if err := toml.Unmarshal(data, &doc); err != nil {
			log.WithError(err).WithFields(fields).Warn("failed to decode persisted config")
			continue
		}
		if len(doc.Client) == 0 {
			log.WithFields(fields).WithField("reason", "client_missing").Warn("persisted config has no client table")
			continue
		}
		out[id] = core.Spec(doc.Client)
	}
	return out, nil
}
