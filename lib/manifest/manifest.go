// Package manifest loads the YAML list of tunnels a node declares at start.
//
//	tunnels:
//	  - id: edge-1
//	    core: rathole
//	    spec:
//	      remote_addr: 203.0.113.7:2333
//	      token: s3cret
package manifest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/smite-net/smite-node/lib/core"
)

var log = logger.GetGoI2PLogger()

// Entry declares one tunnel.
type Entry struct {
	ID   string    `yaml:"id"`
	Core string    `yaml:"core"`
	Spec core.Spec `yaml:"spec"`
}

// Manifest is the decoded file.
type Manifest struct {
	Tunnels []Entry `yaml:"tunnels"`
}

// Applier is the part of the manager a manifest needs.
type Applier interface {
	ApplyTunnel(ctx context.Context, id core.TunnelID, backend string, spec core.Spec) error
}

// Load reads and validates path. A missing file yields an empty manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.WithField("path", path).Debug("no tunnel manifest")
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, oops.In("manifest").With("path", path).Wrapf(err, "read manifest")
	}
	m, err := Parse(data)
	if err != nil {
		return nil, oops.In("manifest").With("path", path).Wrap(err)
	}
	return m, nil
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return nil, oops.
			Code(core.CodeValidation).
			In("manifest").
			Wrapf(errors.Join(core.ErrValidation, err), "decode manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks ids, core names and required fields, and rejects duplicates.
func (m *Manifest) Validate() error {
	seen := make(map[string]int, len(m.Tunnels))
	for i, e := range m.Tunnels {
		if e.ID == "" {
			return invalid(i, "id", "tunnel %d has no id", i)
		}
		if err := core.TunnelID(e.ID).Validate(); err != nil {
			return oops.In("manifest").With("index", i).Wrap(err)
		}
		if prev, dup := seen[e.ID]; dup {
			return invalid(i, "id", "tunnel %q declared twice (entries %d and %d)", e.ID, prev, i)
		}
		seen[e.ID] = i
		if e.Core == "" {
			return invalid(i, "core", "tunnel %q has no core", e.ID)
		}
		if _, err := core.ParseBackend(e.Core); err != nil {
			return oops.In("manifest").With("index", i).Wrap(err)
		}
		if len(e.Spec) == 0 {
			return invalid(i, "spec", "tunnel %q has no spec", e.ID)
		}
	}
	return nil
}

func invalid(index int, field, format string, args ...any) error {
	return oops.
		Code(core.CodeValidation).
		In("manifest").
		With("index", index, "field", field).
		Wrapf(core.ErrValidation, format, args...)
}

// Apply applies every entry in order. Tunnels already running, for example
// re-adopted by reconcile, are skipped. Other failures are collected and do
// not stop later entries.
func (m *Manifest) Apply(ctx context.Context, a Applier) ([]core.TunnelID, error) {
	var (
		applied []core.TunnelID
		errs    []error
	)
	for _, e := range m.Tunnels {
		id := core.TunnelID(e.ID)
		err := a.ApplyTunnel(ctx, id, e.Core, e.Spec)
		switch {
		case err == nil:
			applied = append(applied, id)
		case errors.Is(err, core.ErrAlreadyActive):
			log.WithFields(logger.Fields{
				"at":        "manifest.Apply",
				"reason":    "already_active",
				"tunnel_id": e.ID,
			}).Debug("tunnel already running, skipping")
		default:
			log.WithError(err).WithFields(logger.Fields{
				"at":        "manifest.Apply",
				"reason":    "apply_failed",
				"tunnel_id": e.ID,
				"core":      e.Core,
			}).Error("failed to apply declared tunnel")
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return applied, errors.Join(errs...)
}
