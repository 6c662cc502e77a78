package probe

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/hooks"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/danpilch/idleprobe/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProbe(t *testing.T, cpus int) (*Probe, *clock.Manual) {
	t.Helper()
	src := clock.NewManual(time.Unix(1700000000, 0), 4*time.Millisecond)
	tr, err := tracker.New(cpus, src)
	require.NoError(t, err)
	l, err := capture.New(capture.Config{Capacity: 64}, src)
	require.NoError(t, err)
	return New(tr, l, nil), src
}

func drain(t *testing.T, l *capture.Log) []string {
	t.Helper()
	var out []string
	s := l.Open()
	defer s.Stop()
	for ep, ok := s.Start(); ok; ep, ok = s.Next() {
		var buf bytes.Buffer
		require.NoError(t, output.WriteLine(&buf, output.FormatCompact, ep))
		out = append(out, buf.String())
	}
	return out
}

func TestHalfSecondIdle(t *testing.T) {
	p, src := newTestProbe(t, 1)

	p.BeginEpisode(0)
	src.Advance(500 * time.Millisecond)
	p.EndEpisode(0)

	assert.Equal(t, []string{"1 0 500000000 500000000\n"}, drain(t, p.Log()))
}

func TestInterleavedCPUsDrainInCompletionOrder(t *testing.T) {
	p, src := newTestProbe(t, 2)

	p.BeginEpisode(0)
	src.Advance(time.Millisecond)
	p.BeginEpisode(1)
	src.Advance(time.Millisecond)
	p.EndEpisode(1)
	src.Advance(time.Millisecond)
	p.EndEpisode(0)

	s := p.Log().Open()
	defer s.Stop()
	first, ok := s.Start()
	require.True(t, ok)
	second, ok := s.Next()
	require.True(t, ok)

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, 1, first.CPU)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, 0, second.CPU)
	assert.Equal(t, 3*time.Millisecond, second.Duration())
}

func TestSpuriousEndIsIgnored(t *testing.T) {
	p, _ := newTestProbe(t, 2)

	p.EndEpisode(0)
	p.EndEpisode(1)

	assert.Equal(t, 0, p.Log().Len())
	assert.Zero(t, p.Log().Stats().Appended)
}

func TestStampedNotifications(t *testing.T) {
	p, _ := newTestProbe(t, 1)
	begin := clock.Reading{Wall: clock.Timespec{Sec: 10}, Monotonic: clock.Timespec{Sec: 1}}
	end := clock.Reading{Monotonic: clock.Timespec{Sec: 1, Nsec: 250}}

	p.BeginEpisodeAt(0, begin)
	p.EndEpisodeAt(0, end)

	s := p.Log().Open()
	defer s.Stop()
	ep, ok := s.Start()
	require.True(t, ok)
	assert.Equal(t, int64(250), ep.DurationNanoseconds())
	assert.Equal(t, int64(10), ep.StartWall.Sec)
}

type fakeSource struct {
	name      string
	attachErr error
	attached  bool
	detached  int
	order     *[]string
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Attach(hooks.Notifier) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = true
	return nil
}

func (f *fakeSource) Detach() error {
	f.detached++
	f.attached = false
	if f.order != nil {
		*f.order = append(*f.order, f.name)
	}
	return nil
}

func TestStartRollsBackOnFailure(t *testing.T) {
	p, _ := newTestProbe(t, 1)
	var order []string
	a := &fakeSource{name: "a", order: &order}
	b := &fakeSource{name: "b", order: &order}
	boom := errors.New("boom")
	c := &fakeSource{name: "c", attachErr: boom}

	err := p.Start(a, b, c)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, a.attached)
	assert.False(t, b.attached)
	assert.Equal(t, []string{"b", "a"}, order, "rollback runs in reverse")

	require.NoError(t, p.Stop())
	assert.Equal(t, 1, a.detached, "nothing is left registered after a failed start")
}

func TestCloseDetachesAndDiscards(t *testing.T) {
	p, src := newTestProbe(t, 1)
	var order []string
	a := &fakeSource{name: "a", order: &order}
	b := &fakeSource{name: "b", order: &order}
	require.NoError(t, p.Start(a, b))

	p.BeginEpisode(0)
	src.Advance(time.Millisecond)
	p.EndEpisode(0)
	require.Equal(t, 1, p.Log().Len())

	require.NoError(t, p.Close())
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, 0, p.Log().Len())
}

func TestSnapshot(t *testing.T) {
	p, src := newTestProbe(t, 3)
	require.NoError(t, p.Start(&fakeSource{name: "fake"}))

	p.BeginEpisode(2)
	src.Advance(time.Millisecond)
	p.EndEpisode(2)
	p.EndEpisode(1)

	st := p.Snapshot()
	assert.Equal(t, 3, st.CPUs)
	assert.Equal(t, int64(120), st.RetentionSeconds)
	assert.Equal(t, capture.PolicyTrickle, st.Policy)
	assert.Equal(t, uint64(1), st.Log.Appended)
	assert.Equal(t, 1, st.Log.Backlog)
	assert.Equal(t, uint64(1), st.Tracker.UnmatchedEnds)
	assert.Equal(t, []string{"fake"}, st.Hooks)
}
