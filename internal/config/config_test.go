package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_DefaultsApplied(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultHost, cfg.Host)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, defaultDBPath, cfg.DBPath)
	require.Equal(t, defaultPollWorkers, cfg.PollWorkers)
	require.Equal(t, "default", cfg.DefaultClusterName)
	require.Equal(t, defaultMetricsAddr, cfg.MetricsAddr)
}

func TestConfig_Validate_RejectsNegativePollInterval(t *testing.T) {
	cfg := &Config{PollInterval: -time.Second}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "poll interval")
}

func TestConfig_Load_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"-port", "9999", "-db", "/tmp/custom.db", "-poll-interval", "30s"})
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, "/tmp/custom.db", cfg.DBPath)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
}
