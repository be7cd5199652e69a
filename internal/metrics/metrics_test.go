package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/fuzzcore/internal/metrics"
)

func TestCollectorRecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordRun(metrics.OutcomeOk, true, true, 7)
	c.RecordRun(metrics.OutcomeCrash, false, false, 3)
	c.RecordRun(metrics.OutcomeTimeout, false, false, 0)
	c.RecordRun(metrics.OutcomeExecFail, false, false, 0)

	snap := c.Snapshot()
	assert.Equal(t, uint64(4), snap.Execs)
	assert.Equal(t, uint64(1), snap.Crashes)
	assert.Equal(t, uint64(1), snap.Timeouts)
	assert.Equal(t, uint64(1), snap.ExecFail)
	assert.Equal(t, uint64(1), snap.NewEdges)
	assert.Equal(t, uint64(1), snap.NewMax)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestStatsWriterWritesFile(t *testing.T) {
	dir := t.TempDir()
	statsPath := filepath.Join(dir, "fuzzer_stats")
	plotPath := filepath.Join(dir, "plot_data")

	w := metrics.NewStatsWriter(statsPath, plotPath, time.Now().Add(-time.Minute))
	snap := metrics.Snapshot{Execs: 100, Crashes: 2, Timeouts: 1, NewEdges: 5, NewMax: 3}

	require.NoError(t, w.WriteStats(snap, 12.5))
	content, err := os.ReadFile(statsPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "execs_done       : 100")
	assert.Contains(t, string(content), "bitmap_cvg       : 12.50%")
}

func TestStatsWriterAppendsPlotDataWithHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	plotPath := filepath.Join(dir, "plot_data")
	w := metrics.NewStatsWriter(filepath.Join(dir, "fuzzer_stats"), plotPath, time.Now())

	snap := metrics.Snapshot{Execs: 1}
	require.NoError(t, w.AppendPlotData(snap, 0))
	require.NoError(t, w.AppendPlotData(snap, 0))

	content, err := os.ReadFile(plotPath)
	require.NoError(t, err)
	lines := 0
	headers := 0
	for _, line := range splitLines(string(content)) {
		if line == "" {
			continue
		}
		lines++
		if line[0] == '#' {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
	assert.Equal(t, 3, lines) // 1 header + 2 data rows
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
