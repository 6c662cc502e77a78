package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danpilch/idleprobe/pkg/archive"
	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/danpilch/idleprobe/pkg/probe"
	"github.com/danpilch/idleprobe/pkg/server"
	"github.com/danpilch/idleprobe/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type daemon struct {
	probe *probe.Probe
	clock *clock.Manual
	addr  string
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()
	src := clock.NewManual(time.Unix(1700000000, 0), 4*time.Millisecond)
	tr, err := tracker.New(2, src)
	require.NoError(t, err)
	l, err := capture.New(capture.Config{Capacity: 64}, src)
	require.NoError(t, err)
	p := probe.New(tr, l, nil)

	ts := httptest.NewServer(server.New(server.Config{}, p, nil).Handler())
	t.Cleanup(ts.Close)
	return &daemon{probe: p, clock: src, addr: strings.TrimPrefix(ts.URL, "http://")}
}

func (d *daemon) idle(cpu int, dur time.Duration) {
	d.probe.BeginEpisode(cpu)
	d.clock.Advance(dur)
	d.probe.EndEpisode(cpu)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDrainCommandStreams(t *testing.T) {
	d := startDaemon(t)
	d.idle(0, 500*time.Millisecond)

	out, err := execute(t, "drain", "--listen", d.addr, "--format", "compact")
	require.NoError(t, err)
	assert.Equal(t, "1 0 500000000 500000000\n", out)
	assert.Equal(t, 0, d.probe.Log().Len())
}

func TestDrainCommandTableAndArchive(t *testing.T) {
	d := startDaemon(t)
	d.idle(0, 100*time.Millisecond)
	d.idle(1, 200*time.Millisecond)
	path := filepath.Join(t.TempDir(), "idle.db")

	out, err := execute(t, "drain", "--listen", d.addr, "--format", "table", "--archive", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 episodes, sequences 1-2, CPUs 0,1")

	db, err := archive.Open(path, nil)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestArchiveCommand(t *testing.T) {
	d := startDaemon(t)
	d.idle(0, 100*time.Millisecond)
	d.idle(1, 200*time.Millisecond)
	d.idle(0, 300*time.Millisecond)
	path := filepath.Join(t.TempDir(), "idle.db")

	_, err := execute(t, "drain", "--listen", d.addr, "--archive", path, "-q")
	require.NoError(t, err)

	out, err := execute(t, "archive", path, "--recent", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Archived Episodes")
	assert.Contains(t, out, "2 episodes shown, newest first")
	assert.Contains(t, out, "300ms")
	assert.NotContains(t, out, "100ms", "only the newest rows are listed")

	out, err = execute(t, "archive", path, "--recent", "0", "--summary")
	require.NoError(t, err)
	assert.NotContains(t, out, "Archived Episodes")
	assert.Contains(t, out, "Archived Idle per CPU")
	assert.Contains(t, out, "400ms", "cpu 0 total")
	assert.Contains(t, out, "3 episodes across 2 CPUs")
}

func TestArchiveCommandMissingFile(t *testing.T) {
	_, err := execute(t, "archive", filepath.Join(t.TempDir(), "none.db"))
	assert.Error(t, err)
}

func TestDrainCommandBadFormat(t *testing.T) {
	d := startDaemon(t)
	_, err := execute(t, "drain", "--listen", d.addr, "--format", "xml")
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	d := startDaemon(t)
	d.idle(1, time.Millisecond)
	d.probe.EndEpisode(0)

	out, err := execute(t, "status", "--listen", d.addr)
	require.NoError(t, err)
	assert.Contains(t, out, "idleprobe status")
	assert.Contains(t, out, "backlog")
	assert.Equal(t, 1, d.probe.Log().Len(), "status does not drain")
}

func TestRenderStatusWithHistory(t *testing.T) {
	hist := output.NewHistory(10)
	hist.Record("backlog", 1)
	hist.Record("backlog", 5)
	hist.Record("rate", 100)

	var buf bytes.Buffer
	renderStatus(&buf, probe.Stats{CPUs: 4, Log: capture.Stats{Dropped: 3}}, hist)
	assert.Contains(t, buf.String(), "▁█")
	assert.Contains(t, buf.String(), "100/s")
}

func TestFetchEpisodesRoundTrip(t *testing.T) {
	d := startDaemon(t)
	d.idle(0, 8*time.Millisecond)
	d.idle(1, 12*time.Millisecond)

	eps, err := fetchEpisodes(context.Background(), "http://"+d.addr)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, uint64(2), eps[1].Sequence)
	assert.Equal(t, 12*time.Millisecond, eps[1].Duration())
}

func TestSlowDrainBodyIsReadToTheEnd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "1 0 1000 1000\n")
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
		_, _ = io.WriteString(w, "2 0 2000 2000\n")
	}))
	defer ts.Close()

	prev := drainClient
	drainClient = newDrainClient(time.Second, 100*time.Millisecond)
	t.Cleanup(func() { drainClient = prev })

	body, err := openDrain(context.Background(), ts.URL, output.FormatCompact)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err, "streaming past the header timeout is not an error")
	assert.Equal(t, "1 0 1000 1000\n2 0 2000 2000\n", string(data))
}

func TestDrainHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	prev := drainClient
	drainClient = newDrainClient(time.Second, 50*time.Millisecond)
	t.Cleanup(func() { drainClient = prev })

	_, err := openDrain(context.Background(), ts.URL, output.FormatCompact)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "idleprobe dev"))
}

func TestBenchCommandSavesAndCompares(t *testing.T) {
	dir := t.TempDir()
	args := []string{"bench", "--cpus", "1", "--iterations", "200", "--warmup", "0", "--drain-every", "0", "--baseline-dir", dir}

	out, err := execute(t, append(args, "--save", "first")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Producer Path Benchmark")

	out, err = execute(t, append(args, "--compare", "first")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Baseline Comparison")
}
