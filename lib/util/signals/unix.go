//go:build !windows

package signals

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

func init() {
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
}

func stop() {
	signal.Stop(sigChan)
}

func dispatch(sig os.Signal) {
	switch sig {
	case unix.SIGHUP:
		handleReload()
	case unix.SIGINT, unix.SIGTERM:
		handleInterrupted()
	default:
		log.WithField("signal", sig.String()).Debug("ignoring signal")
	}
}
