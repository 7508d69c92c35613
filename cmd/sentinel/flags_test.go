package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFlagsWithNoArgsSetsNothing(t *testing.T) {
	flags, set, err := parseFlags(nil)
	require.NoError(t, err)
	require.Empty(t, set)
	require.Empty(t, flags.configPath)
}

func TestParseFlagsOnlyMarksExplicitlyProvidedFlags(t *testing.T) {
	flags, set, err := parseFlags([]string{"-max-sources", "7", "-store", "/tmp/sentinel.db"})
	require.NoError(t, err)

	require.True(t, set["max_sources"])
	require.True(t, set["store_dsn"])
	require.False(t, set["cycle_interval"])

	require.Equal(t, 7, flags.overrides.MaxSources)
	require.Equal(t, "/tmp/sentinel.db", flags.overrides.StoreDSN)
}

func TestParseFlagsParsesDurationsAndConfigPath(t *testing.T) {
	flags, set, err := parseFlags([]string{"-cycle-interval", "5m", "-config", "sentinel.yaml"})
	require.NoError(t, err)
	require.True(t, set["cycle_interval"])
	require.Equal(t, 5*time.Minute, flags.overrides.CycleInterval)
	require.Equal(t, "sentinel.yaml", flags.configPath)
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	_, _, err := parseFlags([]string{"-bogus-flag", "1"})
	require.Error(t, err)
}
