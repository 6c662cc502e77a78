package baseline

import (
	"bytes"
	"testing"
	"time"

	"github.com/danpilch/idleprobe/pkg/benchmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func results(p50 time.Duration) []benchmark.Result {
	return []benchmark.Result{{
		CPUs:       4,
		Operations: 1000,
		Elapsed:    time.Millisecond,
		P50:        p50,
		P99:        10 * time.Microsecond,
	}}
}

func TestSaveLoadList(t *testing.T) {
	dir := t.TempDir()
	b := New("before", results(time.Microsecond))
	require.NoError(t, b.Save(dir))
	require.NoError(t, New("after", nil).Save(dir))

	got, err := Load("before", dir)
	require.NoError(t, err)
	assert.Equal(t, "before", got.Name)
	require.Len(t, got.Results, 1)
	assert.Equal(t, time.Microsecond, got.Results[0].P50)

	names, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"after", "before"}, names)

	names, err = List(dir + "/missing")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestInvalidName(t *testing.T) {
	assert.Error(t, New("../escape", nil).Save(t.TempDir()))
	_, err := Load("", t.TempDir())
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	b := New("base", results(time.Microsecond))
	cmp := Compare(b, results(2*time.Microsecond))
	require.Len(t, cmp, 4)

	bySev := map[string]Severity{}
	for _, c := range cmp {
		bySev[c.Metric] = c.Severity
	}
	assert.Equal(t, SeverityRegress, bySev["p50 ns"])
	assert.Equal(t, SeverityNone, bySev["p99 ns"])
	assert.Equal(t, SeverityNone, bySev["pairs/s"])
	assert.Equal(t, 1, Regressions(cmp))

	assert.Empty(t, Compare(b, []benchmark.Result{{CPUs: 8}}), "unmatched cpu counts are skipped")
}

func TestThroughputDropIsRegression(t *testing.T) {
	base := results(time.Microsecond)
	cur := results(time.Microsecond)
	cur[0].Elapsed = 2 * time.Millisecond

	for _, c := range Compare(New("b", base), cur) {
		if c.Metric == "pairs/s" {
			assert.Equal(t, SeverityRegress, c.Severity)
			assert.InDelta(t, 50.0, c.DeltaPct, 0.001)
		}
	}
}

func TestClassifySeverity(t *testing.T) {
	assert.Equal(t, SeverityNone, classifySeverity(4))
	assert.Equal(t, SeverityMinor, classifySeverity(-10))
	assert.Equal(t, SeverityModerate, classifySeverity(20))
	assert.Equal(t, SeverityRegress, classifySeverity(31))
	assert.Equal(t, SeverityImproved, classifySeverity(-31))
}

func TestRenderComparison(t *testing.T) {
	b := New("base", results(time.Microsecond))
	var buf bytes.Buffer
	RenderComparison(&buf, b, Compare(b, results(2*time.Microsecond)))
	assert.Contains(t, buf.String(), "1 potential regressions detected.")
}
