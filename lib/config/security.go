package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
)

// SecureDirPermissions for directories holding rendered tunnel configs
const SecureDirPermissions = 0o700

// StandardDirPermissions for the node base directory
const StandardDirPermissions = 0o755

// ResolveNodePath resolves p against the node base directory. Absolute paths
// are returned cleaned; relative ones must stay inside base.
func ResolveNodePath(base, p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}
	cleanBase, err := filepath.Abs(filepath.Clean(base))
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	resolved := filepath.Join(cleanBase, p)
	if resolved != cleanBase && !strings.HasPrefix(resolved, cleanBase+string(filepath.Separator)) {
		log.WithFields(logger.Fields{
			"at":            "ResolveNodePath",
			"reason":        "path_traversal_attempt",
			"base_path":     cleanBase,
			"resolved_path": resolved,
		}).Warn("potential path traversal blocked")
		return "", fmt.Errorf("path %q escapes base directory %q", p, base)
	}
	return resolved, nil
}

// CreateSecureDirectory creates a directory with owner-only permissions,
// tightening it if it already existed with looser ones.
func CreateSecureDirectory(path string) error {
	cleanPath := filepath.Clean(path)

	if err := os.MkdirAll(cleanPath, SecureDirPermissions); err != nil {
		return fmt.Errorf("failed to create secure directory %q: %w", cleanPath, err)
	}
	if err := SecureExistingPath(cleanPath); err != nil {
		log.WithFields(logger.Fields{
			"at":     "CreateSecureDirectory",
			"reason": "chmod_failed",
			"path":   cleanPath,
			"error":  err.Error(),
		}).Warn("could not set secure permissions on directory")
	}
	return nil
}

// CreateStandardDirectory creates a directory with standard permissions.
func CreateStandardDirectory(path string) error {
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(cleanPath, StandardDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", cleanPath, err)
	}
	return nil
}

// IsPathSecure reports whether path grants nothing beyond maxMode.
// Non-existent paths are secure.
func IsPathSecure(path string, maxMode os.FileMode) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return info.Mode().Perm()&^maxMode == 0, nil
}

// SecureExistingPath restricts an existing directory to SecureDirPermissions.
func SecureExistingPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("expected directory but found file: %s", path)
	}
	if info.Mode().Perm() == SecureDirPermissions {
		return nil
	}
	if err := os.Chmod(path, SecureDirPermissions); err != nil {
		return fmt.Errorf("failed to secure path %q: %w", path, err)
	}
	log.WithFields(logger.Fields{
		"at":     "SecureExistingPath",
		"reason": "permissions_updated",
		"path":   path,
		"was":    fmt.Sprintf("%04o", info.Mode().Perm()),
		"mode":   fmt.Sprintf("%04o", SecureDirPermissions),
	}).Warn("tightened permissions on tunnel config directory")
	return nil
}

// PrepareAdapterDirs creates every adapter config directory with secure
// permissions. Directories that were readable by others are reported, since
// the configs they held carry tunnel tokens.
func PrepareAdapterDirs(cfg NodeConfig) error {
	for _, dir := range []string{cfg.Rathole.ConfigDir, cfg.Backhaul.ConfigDir} {
		secure, err := IsPathSecure(dir, SecureDirPermissions)
		if err != nil {
			return fmt.Errorf("failed to inspect %q: %w", dir, err)
		}
		if !secure {
			log.WithFields(logger.Fields{
				"at":     "PrepareAdapterDirs",
				"reason": "insecure_permissions",
				"path":   dir,
			}).Warn("tunnel config directory was accessible to other users")
		}
		if err := CreateSecureDirectory(dir); err != nil {
			return err
		}
	}
	return nil
}

// ManifestPath returns the manifest location with relative paths resolved
// against the node base directory. It is empty when the manifest is disabled.
func ManifestPath(cfg NodeConfig) (string, error) {
	return ResolveNodePath(cfg.Node.BaseDir, cfg.Node.Manifest)
}
