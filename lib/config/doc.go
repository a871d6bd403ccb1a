// Package config provides configuration management for the smite node.
//
// Values come from three layers, lowest first: the defaults in Defaults(),
// the YAML file at $HOME/.smite-node/config.yaml (or the file named by
// CfgFile), and SMITE_* environment variables. Nested keys map to variables by
// upper-casing and replacing dots with underscores, so manager.workers is
// SMITE_MANAGER_WORKERS.
//
// The adapter binary and directory keys also honour the variables the tunnel
// clients have always used: RATHOLE_CLIENT_BINARY, BACKHAUL_CLIENT_BINARY and
// SMITE_BACKHAUL_CLIENT_DIR.
//
// # Directories
//
// BaseDir holds the node's own config file and manifest. Each tunnel core has a
// separate config directory holding rendered client configs, which carry
// tunnel tokens; those directories are created 0700 and tightened on start if
// found looser.
package config
