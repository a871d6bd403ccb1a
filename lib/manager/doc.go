// Package manager routes tunnel operations to the adapter that owns each
// tunnel.
//
// The Manager holds a static registry of adapters keyed by backend and a
// dynamic ownership map from tunnel id to backend. Apply records ownership on
// success; status, usage and removal are routed through it. Operations on one
// id are serialized, operations on different ids run concurrently on a bounded
// pool of workers.
package manager
