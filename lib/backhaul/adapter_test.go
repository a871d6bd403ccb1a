package backhaul

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/supervisor"
)

type sweepRecorder struct {
	mu    sync.Mutex
	calls []supervisor.OrphanMatcher
}

func (r *sweepRecorder) sweep(m supervisor.OrphanMatcher, _ ...int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, m)
	return nil, nil
}

func newAdapter(t *testing.T, script string) (*Adapter, *sweepRecorder) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), BinaryName)
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	sweeps := &sweepRecorder{}
	a := New(Options{
		ConfigDir:      filepath.Join(t.TempDir(), "backhaul"),
		Binary:         bin,
		ConfirmWindow:  100 * time.Millisecond,
		StopTimeout:    time.Second,
		SampleInterval: -1,
		Sweep:          sweeps.sweep,
	})
	t.Cleanup(func() { _ = a.Remove(context.Background(), "t1") })
	return a, sweeps
}

func TestApplyStartsAndLogs(t *testing.T) {
	a, _ := newAdapter(t, "echo client up\nexec sleep 30")
	spec := core.Spec{"remote_addr": "panel:3080", "token": "tok"}
	require.NoError(t, a.Apply(context.Background(), "t1", spec))

	st := a.Status("t1")
	assert.True(t, st.Active)
	assert.Equal(t, core.BackendBackhaul, st.Backend)

	var text string
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(a.LogPath("t1"))
		text = string(data)
		return err == nil && strings.Contains(text, "client up")
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.HasPrefix(text, "Starting Backhaul client for tunnel t1\n[client]\n"), text)
	assert.Contains(t, text, `token = "tok"`)
}

func TestLogKeepsEarlierRuns(t *testing.T) {
	a, _ := newAdapter(t, "echo run-$$\nexec sleep 30")
	spec := core.Spec{"remote_addr": "panel:3080"}
	ctx := context.Background()

	runs := func() []string {
		data, err := os.ReadFile(a.LogPath("t1"))
		if err != nil {
			return nil
		}
		var out []string
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "run-") {
				out = append(out, line)
			}
		}
		return out
	}

	require.NoError(t, a.Apply(ctx, "t1", spec))
	require.Eventually(t, func() bool { return len(runs()) == 1 }, 2*time.Second, 20*time.Millisecond)
	first := runs()[0]

	require.NoError(t, a.Remove(ctx, "t1"))
	require.NoError(t, a.Apply(ctx, "t1", spec))
	require.Eventually(t, func() bool { return len(runs()) == 2 }, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, first, runs()[0], "first run's output survives the restart")
	data, err := os.ReadFile(a.LogPath("t1"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "Starting Backhaul client for tunnel t1\n"))
}

func TestStartupTailExcludesEarlierRuns(t *testing.T) {
	a, _ := newAdapter(t, "echo earlier-run-output\nexit 3")
	spec := core.Spec{"remote_addr": "panel:3080"}

	err := a.Apply(context.Background(), "t1", spec)
	require.ErrorIs(t, err, core.ErrStartup)
	assert.Contains(t, err.Error(), "earlier-run-output")

	bin := a.opts.Binary
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho second-attempt\nexit 4\n"), 0o755))
	err = a.Apply(context.Background(), "t1", spec)
	require.ErrorIs(t, err, core.ErrStartup)
	assert.Contains(t, err.Error(), "second-attempt")
	assert.NotContains(t, err.Error(), "earlier-run-output")

	data, readErr := os.ReadFile(a.LogPath("t1"))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "earlier-run-output")
}

func TestApplyQuicRejectedBeforeAnyWrite(t *testing.T) {
	a, _ := newAdapter(t, "exec sleep 30")
	err := a.Apply(context.Background(), "t1", core.Spec{"remote_addr": "x:1", "transport": "quic"})
	require.ErrorIs(t, err, core.ErrValidation)

	_, statErr := os.Stat(a.ConfigDir())
	assert.True(t, os.IsNotExist(statErr), "config dir must not be created")
	assert.False(t, a.Status("t1").ProcessRunning)
}

func TestApplyStartupFailureIncludesLogTail(t *testing.T) {
	long := strings.Repeat("x", 1200)
	a, _ := newAdapter(t, "echo "+long+"\necho 'dial tcp: connection refused'\nexit 2")

	err := a.Apply(context.Background(), "t1", core.Spec{"remote_addr": "x:1"})
	require.ErrorIs(t, err, core.ErrStartup)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, err.Error(), "Starting Backhaul client", "only the tail is reported")

	assert.NoFileExists(t, a.ConfigPath("t1"))
	assert.FileExists(t, a.LogPath("t1"), "log is kept for diagnosis")
	assert.False(t, a.Status("t1").Active)
}

func TestApplyBinaryNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	missing := filepath.Join(t.TempDir(), "backhaul")
	a := New(Options{ConfigDir: t.TempDir(), Binary: missing, Sweep: (&sweepRecorder{}).sweep})

	err := a.Apply(context.Background(), "t1", core.Spec{"remote_addr": "x:1"})
	require.ErrorIs(t, err, core.ErrBinaryNotFound)
	assert.Contains(t, err.Error(), missing)
	assert.Contains(t, err.Error(), "$PATH/backhaul")
	assert.NoFileExists(t, a.ConfigPath("t1"))
}

func TestApplyUsesPathWhenConfiguredBinaryMissing(t *testing.T) {
	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, BinaryName), []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	a := New(Options{
		ConfigDir:     t.TempDir(),
		Binary:        filepath.Join(t.TempDir(), "nope"),
		ConfirmWindow: 50 * time.Millisecond,
		Sweep:         (&sweepRecorder{}).sweep,
	})
	defer a.Remove(context.Background(), "t1")
	require.NoError(t, a.Apply(context.Background(), "t1", core.Spec{"remote_addr": "x:1"}))
	assert.True(t, a.Status("t1").Active)
}

func TestReapplyRequiresRemove(t *testing.T) {
	a, sweeps := newAdapter(t, "exec sleep 30")
	spec := core.Spec{"remote_addr": "x:1"}
	require.NoError(t, a.Apply(context.Background(), "t1", spec))
	require.ErrorIs(t, a.Apply(context.Background(), "t1", spec), core.ErrAlreadyActive)

	require.NoError(t, a.Remove(context.Background(), "t1"))
	st := a.Status("t1")
	assert.False(t, st.ConfigExists)
	assert.False(t, st.ProcessRunning)
	require.Len(t, sweeps.calls, 1)
	assert.Equal(t, "t1.toml", sweeps.calls[0].ConfigName)
	assert.Equal(t, "backhaul", sweeps.calls[0].BinaryName)

	require.NoError(t, a.Remove(context.Background(), "t1"))
	require.NoError(t, a.Apply(context.Background(), "t1", spec))
}

func TestUsageSurvivesCounterDrop(t *testing.T) {
	a, _ := newAdapter(t, "exec sleep 30")
	readings := []uint64{2 << 20, 1 << 20}
	var mu sync.Mutex
	a.opts.IOCounter = func(int) (uint64, error) {
		mu.Lock()
		defer mu.Unlock()
		v := readings[0]
		if len(readings) > 1 {
			readings = readings[1:]
		}
		return v, nil
	}
	require.NoError(t, a.Apply(context.Background(), "t1", core.Spec{"remote_addr": "x:1"}))

	assert.InDelta(t, 2.0, a.UsageMB("t1"), 1e-9)
	assert.InDelta(t, 2.0, a.UsageMB("t1"), 1e-9)
	assert.Zero(t, a.UsageMB("other"))
}

func TestPersistedRoundTrip(t *testing.T) {
	a, _ := newAdapter(t, "exec sleep 30")
	spec := core.Spec{
		"remote_addr":    "x:1",
		"transport":      "tcp",
		"accept_udp":     true,
		"client_options": map[string]any{"mux_session": 3, "token": "k"},
	}
	require.NoError(t, a.Apply(context.Background(), "t1", spec))
	want, err := os.ReadFile(a.ConfigPath("t1"))
	require.NoError(t, err)

	persisted, err := a.Persisted()
	require.NoError(t, err)
	require.Contains(t, persisted, core.TunnelID("t1"))

	again, err := RenderSpec(persisted["t1"])
	require.NoError(t, err)

	var first, second map[string]any
	require.NoError(t, toml.Unmarshal(want, &first))
	require.NoError(t, toml.Unmarshal(again, &second))
	assert.Equal(t, first, second)
	assert.Equal(t, true, second["client"].(map[string]any)["accept_udp"])
}

func TestOptionsFromEnvironment(t *testing.T) {
	t.Setenv(EnvBinary, "/opt/bh/backhaul")
	t.Setenv(EnvConfigDir, "/srv/bh")
	a := New(Options{})
	assert.Equal(t, "/srv/bh", a.ConfigDir())
	assert.Equal(t, "/opt/bh/backhaul", a.opts.Binary)
	assert.Equal(t, filepath.Join("/srv/bh", "backhaul_t9.log"), a.LogPath("t9"))
}
