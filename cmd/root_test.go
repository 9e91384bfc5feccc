package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"current", "history", "status", "threshold", "verify", "watch", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "conviction", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

// inEmptyDir runs the test from a directory without a config.yaml.
func inEmptyDir(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(orig) })

	prevCfg, prevLevel := cfg, logLevel
	t.Cleanup(func() { cfg, logLevel = prevCfg, prevLevel })
}

func TestLoadConfig_LogLevelFlag(t *testing.T) {
	inEmptyDir(t)
	logLevel = "debug"

	require.NoError(t, loadConfig(rootCmd, nil))
	require.NotNil(t, cfg)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int64(5), cfg.Decay.TimeUnit)
}

func TestLoadConfig_BadLogLevel(t *testing.T) {
	inEmptyDir(t)
	cfg, logLevel = nil, "loud"

	err := loadConfig(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
	assert.Nil(t, cfg)
}

func TestRootCommand_LogLevelFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestCurrentCommand_Flags(t *testing.T) {
	for _, name := range []string{"proposal", "entity", "format"} {
		assert.NotNil(t, currentCmd.Flags().Lookup(name), "current should have --%s flag", name)
	}
	flag := currentCmd.Flags().Lookup("time")
	require.NotNil(t, flag)
	assert.Equal(t, "-1", flag.DefValue)
}

func TestHistoryCommand_Flags(t *testing.T) {
	flag := historyCmd.Flags().Lookup("format")
	require.NotNil(t, flag, "history command should have --format flag")
	assert.Equal(t, "table", flag.DefValue)

	assert.NotNil(t, historyCmd.Flags().Lookup("output"))
	assert.NotNil(t, historyCmd.Flags().Lookup("entity"))
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, statusCmd.Flags().Lookup("proposal"))
}

func TestThresholdCommand_Flags(t *testing.T) {
	for _, name := range []string{"requested", "funds", "supply", "alpha", "beta", "rho"} {
		assert.NotNil(t, thresholdCmd.Flags().Lookup(name), "threshold should have --%s flag", name)
	}
}

func TestVerifyCommand_Flags(t *testing.T) {
	flag := verifyCmd.Flags().Lookup("tolerance")
	require.NotNil(t, flag, "verify command should have --tolerance flag")
	assert.Equal(t, "1e-06", flag.DefValue)
}

func TestWatchCommand_Flags(t *testing.T) {
	flag := watchCmd.Flags().Lookup("interval")
	require.NotNil(t, flag, "watch command should have --interval flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
