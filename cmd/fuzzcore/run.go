package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jihwankim/fuzzcore/internal/agent"
	"github.com/jihwankim/fuzzcore/internal/binscan"
	"github.com/jihwankim/fuzzcore/internal/config"
	"github.com/jihwankim/fuzzcore/internal/emergency"
	"github.com/jihwankim/fuzzcore/internal/faultcore"
	"github.com/jihwankim/fuzzcore/internal/forkserver"
	"github.com/jihwankim/fuzzcore/internal/metrics"
	"github.com/jihwankim/fuzzcore/internal/obslog"
	"github.com/jihwankim/fuzzcore/internal/outdir"
	"github.com/jihwankim/fuzzcore/internal/str"
)

var runCmd = &cobra.Command{
	Use:   "run -- <target> [target args...]",
	Args:  cobra.ArbitraryArgs,
	Short: "Run the forkserver executor and TCP agent against a target",
	Long: `Starts the instrumented target under the forkserver protocol and
exposes coverage and performance feedback to an external mutation agent
over the TCP protocol described in the wire spec.`,
	RunE: runFuzzcore,
}

func init() {
	runCmd.Flags().StringP("input-dir", "i", "", "seed input directory")
	runCmd.Flags().StringP("output-dir", "o", "", "output directory")
	runCmd.Flags().IntP("timeout", "t", 1000, "per-run timeout in milliseconds (hard-overridden to 10000 in this core)")
	runCmd.Flags().StringP("mem-limit", "m", "none", "child memory cap (e.g. 200M, 1G, or \"none\")")
	runCmd.Flags().StringP("testcase-file", "f", "", "testcase file path; if empty, the target reads stdin")
	runCmd.Flags().BoolP("dumb-mode", "n", false, "dumb mode (rejected in this core)")
	runCmd.Flags().BoolP("qemu-mode", "Q", false, "QEMU mode")
	runCmd.Flags().StringP("extras-dir", "x", "", "extras directory (unused by the core, accepted for compatibility)")
	runCmd.Flags().Int("port", 2300, "TCP agent listening port")
	runCmd.Flags().String("metrics-addr", ":9090", "Prometheus /metrics listen address")
}

func runFuzzcore(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("a target executable is required after --")
	}
	targetPath := args[0]
	targetArgs := args[1:]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	applyFlagOverrides(cmd, cfg, targetPath, targetArgs)
	cfg.ApplyTCPModeDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logLevel := obslog.LevelInfo
	if verbose {
		logLevel = obslog.LevelDebug
	}
	logger := obslog.New(obslog.Config{
		Level:  logLevel,
		Format: obslog.Format(cfg.Framework.LogFormat),
		Output: os.Stdout,
	})

	if err := binscan.Check(cfg.Target.Path); err != nil {
		return err
	}
	caps, err := binscan.Scan(cfg.Target.Path)
	if err != nil {
		return err
	}
	logger.Info("scanned target binary", "deferred_forkserver", caps.DeferredForkserver, "persistent", caps.Persistent)

	out, err := outdir.Open(cfg.Target.OutputDir)
	if err != nil {
		return err
	}
	defer out.Close()

	testcasePath := cfg.Target.TestcaseFile
	useStdin := testcasePath == ""
	if useStdin {
		testcasePath = out.Path("cur_input")
		if err := os.WriteFile(testcasePath, nil, 0644); err != nil {
			return fmt.Errorf("creating default testcase file: %w", err)
		}
	}
	substituteTestcasePlaceholder(cfg.Target.Args, testcasePath)

	region, err := str.New(cfg.STR.MapSize, cfg.STR.PerfSize)
	if err != nil {
		return fmt.Errorf("allocating shared telemetry region: %w", err)
	}
	defer region.Close()

	memLimitMB, err := cfg.MemLimitMB()
	if err != nil {
		return err
	}

	fs, err := forkserver.Start(forkserver.Config{
		TargetPath:   cfg.Target.Path,
		TargetArgs:   cfg.Target.Args,
		MemLimitMB:   memLimitMB,
		TimeoutMS:    cfg.Target.TimeoutMS,
		TestcaseFile: testcasePath,
		UseStdin:     useStdin,
		Region:       region,
	})
	if err != nil {
		logger.Error("forkserver handshake failed", "error", err)
		return faultcore.Fatal(fmt.Errorf("forkserver handshake: %w", err))
	}

	logger.Info("forkserver timeout thresholds", "hard_timeout_ms", cfg.Target.TimeoutMS, "hang_timeout_ms", fs.HangTimeoutMS(), "fast_cal", fs.FastCalEnabled())

	ctl := emergency.New(emergency.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctl.Start(ctx)
	ctl.OnStop(func() { fs.Stop() })

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	defer metricsSrv.Close()

	virgin := str.NewVirgin(cfg.STR.MapSize)
	maxCounters := str.NewMaxCounters(cfg.STR.PerfSize)
	ctl.OnBitmapDump(func() {
		if err := out.WriteBitmap(virgin.Bytes()); err != nil {
			logger.Warn("bitmap dump failed", "error", err)
		}
	})

	srv := agent.New(agent.Config{
		Forkserver:   fs,
		Region:       region,
		Virgin:       virgin,
		Max:          maxCounters,
		TestcasePath: testcasePath,
		Logger:       logger,
		Collector:    collector,
		Controller:   ctl,
	})

	statsWriter := metrics.NewStatsWriter(out.Path(outdir.StatsFile), out.Path(outdir.PlotDataFile), time.Now())
	go runStatsLoop(ctx, statsWriter, collector, virgin, out)

	logger.Info("fuzzcore agent listening", "port", cfg.Agent.Port, "target", cfg.Target.Path)
	addr := fmt.Sprintf(":%d", cfg.Agent.Port)
	if err := srv.Serve(ctx, addr); err != nil {
		var fatal *faultcore.FatalError
		if errors.As(err, &fatal) {
			logger.Error("aborting: fatal condition in agent session", "error", fatal)
		}
		return fmt.Errorf("agent server: %w", err)
	}
	logger.Info("fuzzcore stopped cleanly")
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, targetPath string, targetArgs []string) {
	cfg.Target.Path = targetPath
	cfg.Target.Args = targetArgs

	if v, _ := cmd.Flags().GetString("input-dir"); v != "" {
		cfg.Target.InputDir = v
	}
	if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
		cfg.Target.OutputDir = v
	}
	if cmd.Flags().Changed("timeout") {
		v, _ := cmd.Flags().GetInt("timeout")
		cfg.Target.TimeoutMS = v
	}
	if v, _ := cmd.Flags().GetString("mem-limit"); v != "" {
		cfg.Target.MemLimit = v
	}
	if v, _ := cmd.Flags().GetString("testcase-file"); v != "" {
		cfg.Target.TestcaseFile = v
	}
	if v, _ := cmd.Flags().GetBool("dumb-mode"); v {
		cfg.Target.DumbMode = v
	}
	if v, _ := cmd.Flags().GetBool("qemu-mode"); v {
		cfg.Target.QEMUMode = v
	}
	if v, _ := cmd.Flags().GetString("extras-dir"); v != "" {
		cfg.Target.ExtrasDir = v
	}
	if cmd.Flags().Changed("port") {
		v, _ := cmd.Flags().GetInt("port")
		cfg.Agent.Port = v
	}
	cfg.Target.PerfMode = true
}

// substituteTestcasePlaceholder replaces a literal "@@" target argument with
// path in place, matching the source's argv-substitution convention.
func substituteTestcasePlaceholder(args []string, path string) {
	for i, a := range args {
		if a == "@@" {
			args[i] = path
		}
	}
}

func runStatsLoop(ctx context.Context, w *metrics.StatsWriter, c *metrics.Collector, virgin *str.Virgin, out *outdir.Dir) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pct := bitmapCoveragePercent(virgin)
			c.SetBitmapCoverage(pct)
			_ = w.WriteStats(c.Snapshot(), pct)
			_ = w.AppendPlotData(c.Snapshot(), pct)
			_ = out.WriteBitmap(virgin.Bytes())
		}
	}
}

func bitmapCoveragePercent(v *str.Virgin) float64 {
	touched := 0
	for _, b := range v.Bytes() {
		if b != 0xFF {
			touched++
		}
	}
	if v.Len() == 0 {
		return 0
	}
	return float64(touched) / float64(v.Len()) * 100
}
