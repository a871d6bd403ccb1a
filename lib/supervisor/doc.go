// Package supervisor holds the process and usage supervision shared by every
// tunnel core adapter.
//
// An adapter renders its configuration, then hands the supervisor a binary
// and argument list. Start spawns the process, watches it through a
// confirmation window and returns a Process handle whose Done channel closes
// when the process exits. Stop asks the process to terminate, escalating to
// SIGKILL after a bounded wait.
//
// Usage accounting reads the cumulative I/O counters the kernel keeps in
// /proc/<pid>/io. A UsageMeter turns those readings into a high-water mark so
// reported usage never decreases, and throttles reads so callers polling
// usage get the cached value without touching /proc.
//
// SweepOrphans scans the process table for tunnel processes left behind by
// an earlier supervisor instance and terminates them.
package supervisor
