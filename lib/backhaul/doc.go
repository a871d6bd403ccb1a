// Package backhaul drives the backhaul multiplexing tunnel client over its
// tcp, udp, ws, wsmux and tcpmux transports.
//
// Each tunnel has a rendered <id>.toml and a backhaul_<id>.log in the config
// directory. The log is truncated when the tunnel starts and collects the
// process's combined output; its tail is surfaced when startup fails.
package backhaul
