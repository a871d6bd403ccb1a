// Package core defines the capability contract shared by every tunnel-core
// adapter.
//
// # Overview
//
// A tunnel is a reverse network path between this node and a control point,
// backed by exactly one external tunnel binary process. Each supported binary
// (a "tunnel core") is wrapped by an Adapter which renders the binary's
// configuration, supervises its process and reports liveness and usage.
//
// All adapter operations are keyed by a TunnelID. The manager package routes
// calls to the adapter that owns a given TunnelID; adapters never see each
// other's tunnels.
//
// # Errors
//
// Failures are reported with the sentinel errors declared in errors.go, wrapped
// with github.com/samber/oops so the offending field or captured process output
// travels with the error. Use errors.Is to classify:
//
//	if errors.Is(err, core.ErrValidation) {
//	    // caller supplied a bad spec
//	}
//
// Status and usage queries never fail; they degrade to inactive / last known
// values instead.
package core
