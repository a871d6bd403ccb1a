package util

import (
	"os"
)

// UserHome returns the current user's home directory, falling back to $HOME,
// the working directory and finally the temp dir.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	if home := os.Getenv("HOME"); home != "" {
		log.WithError(err).Warn("os.UserHomeDir failed, falling back to $HOME")
		return home
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("os.UserHomeDir and $HOME unavailable; falling back to working directory")
		return wd
	}
	log.WithError(err).Error("no home directory; falling back to temp dir")
	return os.TempDir()
}

// Hostname returns the host name, or "localhost" when it cannot be read.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		log.WithError(err).Debug("hostname unavailable, using localhost")
		return "localhost"
	}
	return name
}
