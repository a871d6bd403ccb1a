package config

import (
	"path/filepath"
	"time"

	"github.com/go-i2p/logger"
	"github.com/smite-net/smite-node/lib/util"
)

// NodeConfig contains every tunable of the node. Defaults() fills it with
// values that work on a stock install; CurrentConfig() reads the live values.
type NodeConfig struct {
	// Node-wide paths
	Node NodeDefaults

	// Rathole client adapter
	Rathole AdapterDefaults

	// Backhaul client adapter
	Backhaul AdapterDefaults

	// Adapter manager
	Manager ManagerDefaults

	// Usage reporting
	Usage UsageDefaults

	// Prometheus endpoint
	Metrics MetricsDefaults
}

// NodeDefaults contains node-wide paths.
type NodeDefaults struct {
	// BaseDir holds config.yaml and, by default, the manifest.
	// Default: $HOME/.smite-node
	BaseDir string

	// Manifest is the YAML file of tunnels applied at start. Relative paths
	// are resolved against BaseDir. Empty disables it.
	// Default: tunnels.yaml
	Manifest string
}

// AdapterDefaults configures one tunnel core.
type AdapterDefaults struct {
	// ConfigDir receives <id>.toml files.
	// Default: /etc/smite-node/<core>
	ConfigDir string

	// Binary is the install path tried before PATH.
	// Default: /usr/local/bin/<core>
	Binary string

	// ConfirmWindow is how long a new process must survive to count as started.
	// Default: 500ms
	ConfirmWindow time.Duration

	// StopTimeout is the wait between SIGTERM and SIGKILL.
	// Default: 5 seconds
	StopTimeout time.Duration

	// SampleInterval throttles /proc usage reads per tunnel. Negative
	// disables throttling.
	// Default: 1 second
	SampleInterval time.Duration
}

// ManagerDefaults configures the adapter manager.
type ManagerDefaults struct {
	// Workers bounds concurrent adapter operations.
	// Default: 4
	Workers int

	// OperationTimeout bounds one apply or remove, including the wait for a
	// worker. Default: 30 seconds
	OperationTimeout time.Duration

	// ReconcileOnStart re-adopts tunnels whose configs survived a restart.
	// Default: true
	ReconcileOnStart bool
}

// UsageDefaults configures the usage reporter.
type UsageDefaults struct {
	// Enabled turns periodic reporting on.
	// Default: true
	Enabled bool

	// Interval between reports.
	// Default: 60 seconds
	Interval time.Duration

	// NodeID tags every report.
	// Default: host name
	NodeID string
}

// MetricsDefaults configures the Prometheus endpoint.
type MetricsDefaults struct {
	// Enabled starts the HTTP listener.
	// Default: false
	Enabled bool

	// ListenAddr for the metrics listener.
	// Default: 127.0.0.1:9464
	ListenAddr string

	// Path the collectors are served on.
	// Default: /metrics
	Path string
}

// Defaults returns the default configuration.
func Defaults() NodeConfig {
	base := BuildNodeDirPath()
	return NodeConfig{
		Node: NodeDefaults{
			BaseDir:  base,
			Manifest: "tunnels.yaml",
		},
		Rathole:  buildAdapterDefaults("rathole"),
		Backhaul: buildAdapterDefaults("backhaul"),
		Manager: ManagerDefaults{
			Workers:          4,
			OperationTimeout: 30 * time.Second,
			ReconcileOnStart: true,
		},
		Usage: UsageDefaults{
			Enabled:  true,
			Interval: 60 * time.Second,
			NodeID:   util.Hostname(),
		},
		Metrics: MetricsDefaults{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
			Path:       "/metrics",
		},
	}
}

func buildAdapterDefaults(core string) AdapterDefaults {
	return AdapterDefaults{
		ConfigDir:      filepath.Join("/etc/smite-node", core),
		Binary:         filepath.Join("/usr/local/bin", core),
		ConfirmWindow:  500 * time.Millisecond,
		StopTimeout:    5 * time.Second,
		SampleInterval: time.Second,
	}
}

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg NodeConfig) error {
	validators := []func() error{
		func() error { return validateNode(cfg) },
		func() error { return validateAdapter("Rathole", cfg.Rathole) },
		func() error { return validateAdapter("Backhaul", cfg.Backhaul) },
		func() error { return validateManager(cfg.Manager) },
		func() error { return validateUsage(cfg.Usage) },
		func() error { return validateMetrics(cfg.Metrics) },
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "validation_passed",
	}).Debug("node configuration validated successfully")
	return nil
}

func validateNode(cfg NodeConfig) error {
	if cfg.Node.Manifest == "" {
		return nil
	}
	if _, err := ManifestPath(cfg); err != nil {
		return newValidationError("Node.Manifest " + err.Error())
	}
	return nil
}

func validateAdapter(name string, a AdapterDefaults) error {
	if a.ConfigDir == "" {
		return newValidationError(name + ".ConfigDir must be set")
	}
	if !filepath.IsAbs(a.ConfigDir) {
		log.WithFields(logger.Fields{
			"at":         "validateAdapter",
			"reason":     "relative_config_dir",
			"adapter":    name,
			"config_dir": a.ConfigDir,
		}).Error("Invalid adapter configuration")
		return newValidationError(name + ".ConfigDir must be an absolute path")
	}
	if a.ConfirmWindow < 10*time.Millisecond {
		return newValidationError(name + ".ConfirmWindow must be at least 10ms")
	}
	if a.StopTimeout < 100*time.Millisecond {
		return newValidationError(name + ".StopTimeout must be at least 100ms")
	}
	return nil
}

func validateManager(m ManagerDefaults) error {
	if m.Workers < 1 {
		log.WithField("workers", m.Workers).Error("Invalid manager configuration")
		return newValidationError("Manager.Workers must be at least 1")
	}
	if m.OperationTimeout < time.Second {
		return newValidationError("Manager.OperationTimeout must be at least 1 second")
	}
	return nil
}

func validateUsage(u UsageDefaults) error {
	if !u.Enabled {
		return nil
	}
	if u.Interval < time.Second {
		return newValidationError("Usage.Interval must be at least 1 second")
	}
	return nil
}

func validateMetrics(m MetricsDefaults) error {
	if !m.Enabled {
		return nil
	}
	if m.ListenAddr == "" {
		return newValidationError("Metrics.ListenAddr must be set when metrics are enabled")
	}
	if m.Path == "" || m.Path[0] != '/' {
		return newValidationError("Metrics.Path must start with /")
	}
	return nil
}

type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
