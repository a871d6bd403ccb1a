package rathole

import (
	"os"
	"time"

	"github.com/smite-net/smite-node/lib/supervisor"
)

const (
	// BinaryName is the executable looked up through PATH when the install
	// path is missing.
	BinaryName = "rathole"
	// DefaultBinary is the install path tried first.
	DefaultBinary = "/usr/local/bin/rathole"
	// DefaultConfigDir holds one <id>.toml per tunnel.
	DefaultConfigDir = "/etc/smite-node/rathole"
	// DefaultLocalAddr is the forwarded service address when a spec omits one.
	DefaultLocalAddr = "127.0.0.1:8080"
	// DefaultStopTimeout is how long Remove waits after SIGTERM.
	DefaultStopTimeout = 5 * time.Second

	// EnvBinary overrides DefaultBinary.
	EnvBinary = "RATHOLE_CLIENT_BINARY"
	// EnvConfigDir overrides DefaultConfigDir.
	EnvConfigDir = "SMITE_RATHOLE_CLIENT_DIR"
)

// SweepFunc terminates processes left over for a tunnel and returns their
// pids.
type SweepFunc func(m supervisor.OrphanMatcher, exclude ...int) ([]int, error)

// Options configures an Adapter. Zero values fall back to the environment and
// then the package defaults.
type Options struct {
	ConfigDir     string
	Binary        string
	ConfirmWindow time.Duration
	StopTimeout   time.Duration

	// IOCounter and SampleInterval feed the per-tunnel usage meters.
	IOCounter      supervisor.IOCounter
	SampleInterval time.Duration

	// Sweep defaults to supervisor.SweepOrphansDefault.
	Sweep SweepFunc
}

func (o Options) withDefaults() Options {
	if o.ConfigDir == "" {
		o.ConfigDir = envOr(EnvConfigDir, DefaultConfigDir)
	}
	if o.Binary == "" {
		o.Binary = envOr(EnvBinary, DefaultBinary)
	}
	if o.ConfirmWindow <= 0 {
		o.ConfirmWindow = supervisor.DefaultConfirmWindow
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.SampleInterval == 0 {
		o.SampleInterval = supervisor.DefaultSampleInterval
	}
	if o.Sweep == nil {
		o.Sweep = supervisor.SweepOrphansDefault
	}
	return o
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
