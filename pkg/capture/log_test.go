package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/episode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = 1700000000

func newTestLog(t *testing.T, cfg Config) (*Log, *clock.Manual) {
	t.Helper()
	src := clock.NewManual(time.Unix(t0, 0), 4*time.Millisecond)
	l, err := New(cfg, src)
	require.NoError(t, err)
	return l, src
}

func ep(cpu int, startSec int64) episode.Episode {
	return episode.Episode{
		CPU:          cpu,
		StartWall:    clock.Timespec{Sec: startSec},
		EndMonotonic: clock.Timespec{Nsec: 1000},
	}
}

func TestNewValidatesCapacity(t *testing.T) {
	_, err := New(Config{Capacity: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(Config{Capacity: 4, Policy: "bogus"}, nil)
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RetentionPolicy
		wantErr bool
	}{
		{"", PolicyTrickle, false},
		{"trickle", PolicyTrickle, false},
		{" PURGE ", PolicyPurge, false},
		{"lru", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppendAssignsSequences(t *testing.T) {
	l, _ := newTestLog(t, DefaultConfig())

	for i := 0; i < 5; i++ {
		require.True(t, l.Append(ep(i%2, t0)))
	}
	assert.Equal(t, 5, l.Len())

	b, _ := l.BeginDrain()
	eps := b.Episodes()
	require.Len(t, eps, 5)
	for i, e := range eps {
		assert.Equal(t, uint64(i+1), e.Sequence)
		assert.Equal(t, i%2, e.CPU)
	}
}

func TestDrainRoundTrip(t *testing.T) {
	l, _ := newTestLog(t, DefaultConfig())
	const n = 100
	for i := 0; i < n; i++ {
		l.Append(ep(0, t0))
	}

	b, _ := l.BeginDrain()
	assert.Equal(t, 0, l.Len(), "the live log is empty right after the swap")

	var seqs []uint64
	for {
		e, ok := b.Pop()
		if !ok {
			break
		}
		seqs = append(seqs, e.Sequence)
	}
	require.Len(t, seqs, n)
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}

	next, _ := l.BeginDrain()
	assert.Equal(t, 0, next.Len())
	assert.Equal(t, DefaultCapacity, l.Stats().PoolFree, "every node is back in the pool")
}

func TestAppendAfterSwapGoesToNextDrain(t *testing.T) {
	l, _ := newTestLog(t, DefaultConfig())
	l.Append(ep(0, t0))
	l.Append(ep(1, t0))

	first, _ := l.BeginDrain()
	l.Append(ep(2, t0))

	got := first.Episodes()
	require.Len(t, got, 2)
	for _, e := range got {
		assert.NotEqual(t, 2, e.CPU)
	}

	second, _ := l.BeginDrain()
	later := second.Episodes()
	require.Len(t, later, 1)
	assert.Equal(t, 2, later[0].CPU)
	assert.Equal(t, uint64(3), later[0].Sequence, "sequences keep counting across drains")
}

func TestPoolExhaustionDrops(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.Append(ep(0, t0)))
	}
	assert.False(t, l.Append(ep(0, t0)))
	assert.False(t, l.Append(ep(0, t0)))

	st := l.Stats()
	assert.Equal(t, uint64(3), st.Appended)
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Equal(t, 0, st.PoolFree)

	b, _ := l.BeginDrain()
	b.Release()
	require.True(t, l.Append(ep(0, t0)), "released nodes are reused")

	b, _ = l.BeginDrain()
	got := b.Episodes()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4), got[0].Sequence, "dropped episodes consume no sequence")
}

func TestTrickleEviction(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 1024, Retention: 120 * time.Second})

	// Inside the window nothing is evicted.
	for i := 0; i < 10; i++ {
		l.Append(ep(0, t0+120))
	}
	assert.Equal(t, 10, l.Len())

	// Past the window every append drops exactly one entry first.
	for i := 0; i < 50; i++ {
		before := l.Len()
		l.Append(ep(0, t0+121+int64(i)))
		assert.Equal(t, before, l.Len(), "size is steady while no reader drains")
	}
	assert.Equal(t, uint64(50), l.Stats().Evicted)

	b, _ := l.BeginDrain()
	got := b.Episodes()
	require.Len(t, got, 10)
	assert.Equal(t, uint64(51), got[0].Sequence, "the oldest entries were the ones evicted")
}

func TestEvictionNeverEvictsIntoEmptyLog(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 8, Retention: time.Second})

	require.True(t, l.Append(ep(0, t0+1000)))
	assert.Equal(t, 1, l.Len())
	assert.Zero(t, l.Stats().Evicted)
}

func TestDrainResetsEvictionClock(t *testing.T) {
	l, src := newTestLog(t, Config{Capacity: 64, Retention: 10 * time.Second})
	l.Append(ep(0, t0))

	src.Advance(100 * time.Second)
	b, fetched := l.BeginDrain()
	b.Release()
	assert.Equal(t, int64(t0+100), fetched)
	assert.Equal(t, int64(t0+100), l.Stats().LastFetch)

	l.Append(ep(0, t0+105))
	l.Append(ep(0, t0+110))
	assert.Equal(t, 2, l.Len(), "inside the new window")
	l.Append(ep(0, t0+111))
	assert.Equal(t, 2, l.Len(), "past the new window")
}

func TestPurgeEviction(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 64, Retention: 10 * time.Second, Policy: PolicyPurge})

	for i := int64(0); i < 10; i++ {
		l.Append(ep(0, t0+i))
	}
	l.Append(ep(0, t0+15))

	b, _ := l.BeginDrain()
	got := b.Episodes()
	// Entries that started before t0+5 fall out of the window.
	require.Len(t, got, 6)
	assert.Equal(t, int64(t0+5), got[0].StartWall.Sec)
	assert.Equal(t, uint64(5), l.Stats().Evicted)
}

func TestCloseDropsResident(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 4})
	l.Append(ep(0, t0))
	l.Append(ep(0, t0))

	l.Close()

	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 4, l.Stats().PoolFree)
}

func TestConcurrentAppendAndDrain(t *testing.T) {
	l, _ := newTestLog(t, Config{Capacity: 1 << 16})
	const producers, perProducer = 8, 2000

	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
		seen = make(map[uint64]bool)
	)

	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		for {
			select {
			case <-done:
				b, _ := l.BeginDrain()
				for _, e := range b.Episodes() {
					seen[e.Sequence] = true
				}
				return
			default:
				b, _ := l.BeginDrain()
				var last uint64
				for _, e := range b.Episodes() {
					assert.Greater(t, e.Sequence, last, "a batch is in append order")
					last = e.Sequence
					seen[e.Sequence] = true
				}
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				l.Append(ep(cpu, t0))
			}
		}(p)
	}
	wg.Wait()
	close(done)
	readerWG.Wait()

	assert.Len(t, seen, producers*perProducer, "every episode is drained exactly once")
	assert.Zero(t, l.Stats().Dropped)
}
