package metrics

import (
	"fmt"
	"os"
	"time"
)

// StatsWriter periodically rewrites fuzzer_stats and appends a row to
// plot_data, matching the two on-disk formats the source's lineage emits.
type StatsWriter struct {
	statsPath string
	plotPath  string
	startedAt time.Time
	wroteHdr  bool
}

// NewStatsWriter targets the two files at the given paths. startedAt is the
// session start time, used to compute run_time for each snapshot.
func NewStatsWriter(statsPath, plotPath string, startedAt time.Time) *StatsWriter {
	return &StatsWriter{statsPath: statsPath, plotPath: plotPath, startedAt: startedAt}
}

// WriteStats overwrites fuzzer_stats with the current snapshot.
func (w *StatsWriter) WriteStats(s Snapshot, bitmapCovPct float64) error {
	now := time.Now()
	runTime := int64(now.Sub(w.startedAt).Seconds())
	execsPerSec := 0.0
	if runTime > 0 {
		execsPerSec = float64(s.Execs) / float64(runTime)
	}

	content := fmt.Sprintf(
		"start_time       : %d\n"+
			"last_update      : %d\n"+
			"run_time         : %d\n"+
			"execs_done       : %d\n"+
			"execs_per_sec    : %.2f\n"+
			"crashes_total    : %d\n"+
			"timeouts_total   : %d\n"+
			"exec_fail_total  : %d\n"+
			"new_edges_total  : %d\n"+
			"new_max_total    : %d\n"+
			"bitmap_cvg       : %.2f%%\n",
		w.startedAt.Unix(), now.Unix(), runTime,
		s.Execs, execsPerSec, s.Crashes, s.Timeouts, s.ExecFail,
		s.NewEdges, s.NewMax, bitmapCovPct,
	)
	return os.WriteFile(w.statsPath, []byte(content), 0644)
}

// AppendPlotData appends one row to plot_data, writing the header first if
// this is the first call.
func (w *StatsWriter) AppendPlotData(s Snapshot, bitmapCovPct float64) error {
	f, err := os.OpenFile(w.plotPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening plot_data: %w", err)
	}
	defer f.Close()

	if !w.wroteHdr {
		if info, err := f.Stat(); err == nil && info.Size() == 0 {
			if _, err := f.WriteString("# unix_time, execs_done, crashes_total, timeouts_total, new_edges_total, new_max_total, bitmap_cvg\n"); err != nil {
				return fmt.Errorf("writing plot_data header: %w", err)
			}
		}
		w.wroteHdr = true
	}

	row := fmt.Sprintf("%d, %d, %d, %d, %d, %d, %.2f\n",
		time.Now().Unix(), s.Execs, s.Crashes, s.Timeouts, s.NewEdges, s.NewMax, bitmapCovPct)
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("writing plot_data row: %w", err)
	}
	return nil
}
