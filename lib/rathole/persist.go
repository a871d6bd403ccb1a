package rathole

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

type persistedConfig struct {
	Client struct {
		RemoteAddr   string `toml:"remote_addr"`
		DefaultToken string `toml:"default_token"`
		Services     map[string]struct {
			LocalAddr string `toml:"local_addr"`
		} `toml:"services"`
	} `toml:"client"`
}

// Persisted implements core.Reconciler. Files that do not decode, or whose
// service table does not match their name, are skipped with a warning.
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
		fields := logger.Fields{"at": "rathole.Persisted", "tunnel_id": id.String(), "file": name}
		if err := id.Validate(); err != nil {
			log.WithFields(fields).WithField("reason", "invalid_id").Warn("skipping config with unusable name")
			continue
		}
		data, err := os.ReadFile(filepath.Join(a.opts.ConfigDir, name))
		if err != nil {
			log.WithError(err).WithFields(fields).Warn("failed to read persisted config")
			continue
		}
		var cfg persistedConfig
		if err := toml.Unmarshal(data, &cfg); err != nil {
			log.WithError(err).WithFields(fields).Warn("failed to decode persisted config")
			continue
		}
		svc, ok := cfg.Client.Services[id.String()]
		if !ok {
			log.WithFields(fields).WithField("reason", "service_missing").Warn("persisted config has no service for its tunnel")
			continue
		}
		out[id] = core.Spec{
			"remote_addr": cfg.Client.RemoteAddr,
			"token":       cfg.Client.DefaultToken,
			"local_addr":  svc.LocalAddr,
		}
	}
	return out, nil
}
