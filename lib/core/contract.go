package core

import "context"

// Adapter is the contract every tunnel core backend satisfies. All methods are
// keyed by TunnelID and must be safe for concurrent use.
type Adapter interface {
	// Name reports which backend this adapter drives.
	Name() Backend

	// Apply renders configuration for id and starts its process. It fails with
	// ErrValidation before touching disk if spec lacks a required field, with
	// ErrBinaryNotFound when the binary cannot be located, with ErrStartup if
	// the process exits inside the confirmation window, and with
	// ErrAlreadyActive if id already has a live process.
	Apply(ctx context.Context, id TunnelID, spec Spec) error

	// Remove stops the process for id and deletes its configuration. It is a
	// no-op for unknown ids. Teardown failures are logged, not returned, so the
	// returned error is reserved for conditions the caller must act on.
	Remove(ctx context.Context, id TunnelID) error

	// Status reports liveness for diagnostics.
	Status(id TunnelID) Status

	// UsageMB returns cumulative traffic in megabytes. The value never
	// decreases while the adapter lives and the call never blocks on the
	// external process.
	UsageMB(id TunnelID) float64
}

// Reconciler is implemented by adapters that can rebuild their specs from the
// configuration a previous supervisor instance left on disk.
type Reconciler interface {
	Adapter

	// Persisted decodes every rendered configuration in the adapter's config
	// directory back into a Spec, keyed by tunnel id.
	Persisted() (map[TunnelID]Spec, error)
}

// Status is the diagnostic view of one tunnel.
type Status struct {
	Active         bool    `json:"active"`
	Backend        Backend `json:"type,omitempty"`
	ConfigExists   bool    `json:"config_exists"`
	ProcessRunning bool    `json:"process_running"`
	PID            int     `json:"pid,omitempty"`
	UsageMB        float64 `json:"usage_mb"`
}

// Inactive is the status reported for tunnels nobody owns.
func Inactive() Status {
	return Status{}
}
