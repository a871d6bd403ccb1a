package supervisor

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// OrphanMatcher selects tunnel processes by command line: one argument must
// be the tunnel binary (by base name) and a later argument the tunnel's
// config file (by base name). This matches both a direct exec and a wrapper
// script invoked through an interpreter.
type OrphanMatcher struct {
	BinaryName string
	ConfigName string
}

// Matches reports whether cmdline belongs to the tunnel.
func (m OrphanMatcher) Matches(cmdline []string) bool {
	binaryAt := -1
	for i, arg := range cmdline {
		if filepath.Base(arg) == m.BinaryName {
			binaryAt = i
			break
		}
	}
	if binaryAt < 0 {
		return false
	}
	for _, arg := range cmdline[binaryAt+1:] {
		if filepath.Base(arg) == m.ConfigName {
			return true
		}
	}
	return false
}

// SweepOrphans sends SIGTERM to every process matching m, skipping this
// process and any pid in exclude. It returns the pids signalled. Processes
// that vanish or cannot be inspected mid-scan are skipped.
func SweepOrphans(fs procfs.FS, m OrphanMatcher, exclude ...int) ([]int, error) {
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}
	skip := map[int]bool{os.Getpid(): true}
	for _, pid := range exclude {
		skip[pid] = true
	}

	var killed []int
	var errs []error
	for _, p := range procs {
		if skip[p.PID] {
			continue
		}
		cmdline, err := p.CmdLine()
		if err != nil || len(cmdline) == 0 || !m.Matches(cmdline) {
			continue
		}
		if err := unix.Kill(p.PID, unix.SIGTERM); err != nil {
			if !errors.Is(err, unix.ESRCH) {
				errs = append(errs, err)
			}
			continue
		}
		killed = append(killed, p.PID)
		log.WithFields(logger.Fields{
			"at":      "SweepOrphans",
			"reason":  "orphan_terminated",
			"pid":     p.PID,
			"binary":  m.BinaryName,
			"config":  m.ConfigName,
			"cmdline": cmdline,
		}).Info("terminated orphaned tunnel process")
	}
	return killed, errors.Join(errs...)
}

// SweepOrphansDefault runs SweepOrphans against the host's /proc.
func SweepOrphansDefault(m OrphanMatcher, exclude ...int) ([]int, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return SweepOrphans(fs, m, exclude...)
}
