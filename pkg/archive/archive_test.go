package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/episode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func episodes(t *testing.T) []episode.Episode {
	t.Helper()
	src := clock.NewManual(time.Unix(1700000000, 5), time.Millisecond)
	var out []episode.Episode
	for i, spec := range []struct {
		cpu int
		d   time.Duration
	}{{0, 10 * time.Millisecond}, {1, 30 * time.Millisecond}, {0, 20 * time.Millisecond}} {
		begin := src.Now()
		src.Advance(spec.d)
		ep := episode.New(spec.cpu, begin, src.Now())
		ep.Sequence = uint64(i + 1)
		out = append(out, ep)
	}
	return out
}

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "idle.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreAndRecent(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	require.NoError(t, db.Store(ctx, episodes(t), 1700000100))

	rows, err := db.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(3), rows[0].Sequence)
	assert.Equal(t, int64(20_000_000), rows[0].DurationNs)
	assert.Equal(t, int64(1700000100), rows[0].DrainedAt)
	assert.Equal(t, uint64(2), rows[1].Sequence)
	assert.Equal(t, clock.Timespec{Sec: 1700000000, Nsec: 10_000_005}, rows[1].Start)
}

func TestSummarize(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	require.NoError(t, db.Store(ctx, episodes(t), 1))

	sum, err := db.Summarize(ctx)
	require.NoError(t, err)
	require.Len(t, sum, 2)
	assert.Equal(t, Summary{CPU: 0, Episodes: 2, TotalIdleNs: 30_000_000, LongestIdleNs: 20_000_000}, sum[0])
	assert.Equal(t, Summary{CPU: 1, Episodes: 1, TotalIdleNs: 30_000_000, LongestIdleNs: 30_000_000}, sum[1])
}

func TestStoreEmptyBatch(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.Store(context.Background(), nil, 1))

	rows, err := db.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idle.db")
	db, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Store(context.Background(), episodes(t), 1))
	require.NoError(t, db.Close())

	db, err = Open(path, nil)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}
