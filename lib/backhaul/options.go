package backhaul

import (
	"os"
	"time"

	"github.com/smite-net/smite-node/lib/supervisor"
)

const (
	BinaryName         = "backhaul"
	DefaultBinary      = "/usr/local/bin/backhaul"
	DefaultConfigDir   = "/etc/smite-node/backhaul"
	DefaultStopTimeout = 5 * time.Second

	EnvBinary    = "BACKHAUL_CLIENT_BINARY"
	EnvConfigDir = "SMITE_BACKHAUL_CLIENT_DIR"
)

// SweepFunc terminates leftover processes for a tunnel.
type SweepFunc func(m supervisor.OrphanMatcher, exclude ...int) ([]int, error)

// Options configures an Adapter. Empty ConfigDir and Binary fall back to
// EnvConfigDir and EnvBinary, then to the defaults.
type Options struct {
	ConfigDir     string
	Binary        string
	ConfirmWindow time.Duration
	StopTimeout   time.Duration

	IOCounter supervisor.IOCounter
	// SampleInterval throttles /proc reads. Negative disables throttling.
	SampleInterval time.Duration

	Sweep SweepFunc
}

func (o Options) withDefaults() Options {
	if o.ConfigDir == "" {
		o.ConfigDir = os.Getenv(EnvConfigDir)
	}
	if o.ConfigDir == "" {
		o.ConfigDir = DefaultConfigDir
	}
	if o.Binary == "" {
		o.Binary = os.Getenv(EnvBinary)
	}
	if o.Binary == "" {
		o.Binary = DefaultBinary
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
