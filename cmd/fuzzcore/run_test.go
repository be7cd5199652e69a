package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/fuzzcore/internal/config"
	"github.com/jihwankim/fuzzcore/internal/str"
)

func newRunCmdForTest(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().StringP("input-dir", "i", "", "")
	cmd.Flags().StringP("output-dir", "o", "", "")
	cmd.Flags().IntP("timeout", "t", 1000, "")
	cmd.Flags().StringP("mem-limit", "m", "none", "")
	cmd.Flags().StringP("testcase-file", "f", "", "")
	cmd.Flags().BoolP("dumb-mode", "n", false, "")
	cmd.Flags().BoolP("qemu-mode", "Q", false, "")
	cmd.Flags().StringP("extras-dir", "x", "", "")
	cmd.Flags().Int("port", 2300, "")
	cmd.Flags().String("metrics-addr", ":9090", "")
	return cmd
}

func TestApplyFlagOverridesSetsTargetAndDefaults(t *testing.T) {
	cmd := newRunCmdForTest(t)
	cfg := config.DefaultConfig()

	applyFlagOverrides(cmd, cfg, "/bin/true", []string{"@@"})

	assert.Equal(t, "/bin/true", cfg.Target.Path)
	assert.Equal(t, []string{"@@"}, cfg.Target.Args)
	assert.True(t, cfg.Target.PerfMode)
}

func TestApplyFlagOverridesHonorsExplicitFlags(t *testing.T) {
	cmd := newRunCmdForTest(t)
	require.NoError(t, cmd.Flags().Set("input-dir", "/seeds"))
	require.NoError(t, cmd.Flags().Set("output-dir", "/out"))
	require.NoError(t, cmd.Flags().Set("port", "9999"))
	require.NoError(t, cmd.Flags().Set("mem-limit", "200M"))

	cfg := config.DefaultConfig()
	applyFlagOverrides(cmd, cfg, "/bin/true", nil)

	assert.Equal(t, "/seeds", cfg.Target.InputDir)
	assert.Equal(t, "/out", cfg.Target.OutputDir)
	assert.Equal(t, 9999, cfg.Agent.Port)
	assert.Equal(t, "200M", cfg.Target.MemLimit)
}

func TestSubstituteTestcasePlaceholderReplacesAtAt(t *testing.T) {
	args := []string{"--input", "@@", "--verbose"}
	substituteTestcasePlaceholder(args, "/tmp/cur_input")
	assert.Equal(t, []string{"--input", "/tmp/cur_input", "--verbose"}, args)
}

func TestSubstituteTestcasePlaceholderLeavesArgsWithoutMarkerUntouched(t *testing.T) {
	args := []string{"--input", "fixed.bin"}
	substituteTestcasePlaceholder(args, "/tmp/cur_input")
	assert.Equal(t, []string{"--input", "fixed.bin"}, args)
}

func TestBitmapCoveragePercentCountsTouchedBytes(t *testing.T) {
	v := str.NewVirgin(4)
	assert.Equal(t, 0.0, bitmapCoveragePercent(v))

	b := v.Bytes()
	b[0] = 0x00
	b[1] = 0xFE
	assert.InDelta(t, 50.0, bitmapCoveragePercent(v), 0.001)
}
