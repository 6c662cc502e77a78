package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEmptyLog(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 4})
	s := l.Open()
	assert.Equal(t, NotStarted, s.State())

	_, ok := s.Start()
	assert.False(t, ok)
	assert.Equal(t, Done, s.State())
	assert.Equal(t, uint64(1), l.Stats().Drains, "an empty drain still counts as a fetch")
}

func TestSessionWalksInOrder(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 16})
	for i := 0; i < 3; i++ {
		l.Append(ep(i, t0))
	}

	s := l.Open()
	first, ok := s.Start()
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, Draining, s.State())

	again, ok := s.Start()
	require.True(t, ok)
	assert.Equal(t, first, again, "Start does not consume")

	peeked, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, first, peeked)

	second, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(2), second.Sequence)

	third, ok := s.Advance()
	require.True(t, ok)
	assert.Equal(t, uint64(3), third.Sequence)
	assert.Equal(t, 1, s.Remaining())

	_, ok = s.Next()
	assert.False(t, ok)
	assert.Equal(t, Done, s.State())
	assert.Equal(t, 16, l.Stats().PoolFree)
}

func TestSessionMisuseInDone(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 4})
	s := l.Open()
	s.Start()

	for i := 0; i < 3; i++ {
		_, ok := s.Next()
		assert.False(t, ok)
		_, ok = s.Peek()
		assert.False(t, ok)
		_, ok = s.Advance()
		assert.False(t, ok)
	}
	s.Stop()
	s.Stop()
	assert.Equal(t, Done, s.State())
}

func TestSessionAbandonedMidDrain(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 8})
	for i := 0; i < 5; i++ {
		l.Append(ep(0, t0))
	}

	s := l.Open()
	_, ok := s.Start()
	require.True(t, ok)
	_, ok = s.Next()
	require.True(t, ok)
	// Two records have been emitted; the third is current.
	s.Stop()

	assert.Equal(t, Done, s.State())
	assert.Equal(t, 0, s.Remaining())
	assert.Equal(t, 8, l.Stats().PoolFree, "the remaining records are released")

	later := l.Open()
	_, ok = later.Start()
	assert.False(t, ok, "abandoned records are not recoverable")
}

func TestStopBeforeStartLeavesLogAlone(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 4})
	l.Append(ep(0, t0))

	s := l.Open()
	s.Stop()

	assert.Equal(t, 1, l.Len())
	assert.Zero(t, l.Stats().Drains)
}

func TestSessionsAreIndependent(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 8})
	l.Append(ep(0, t0))

	a := l.Open()
	_, ok := a.Start()
	require.True(t, ok)

	l.Append(ep(1, t0))
	b := l.Open()
	got, ok := b.Start()
	require.True(t, ok)
	assert.Equal(t, 1, got.CPU)

	a.Stop()
	b.Stop()
	assert.Equal(t, 8, l.Stats().PoolFree)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not-started", NotStarted.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "done", Done.String())
}
