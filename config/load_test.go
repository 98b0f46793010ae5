package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, DefaultSimulator().Validate())
}

func TestFromReaderOverridesDefaults(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`
[Data]
QueryPoints = 128
Seed = 7

[Engine]
Workers = 9
Radius = 0.25

[Journal]
Path = "~/.dualtree-sim"
`), DefaultSimulator())
	require.NoError(t, err)

	require.Equal(t, 128, cfg.Data.QueryPoints)
	require.Equal(t, int64(7), cfg.Data.Seed)
	require.Equal(t, 9, cfg.Engine.Workers)
	require.Equal(t, 0.25, cfg.Engine.Radius)
	require.Equal(t, "~/.dualtree-sim", cfg.Journal.Path)

	// untouched fields keep their defaults
	def := DefaultSimulator()
	require.Equal(t, def.Data.ReferencePoints, cfg.Data.ReferencePoints)
	require.Equal(t, def.Engine.LeafSize, cfg.Engine.LeafSize)
}

func TestFromReaderRejectsInvalid(t *testing.T) {
	_, err := FromReader(strings.NewReader(`
[Engine]
Workers = 0
`), DefaultSimulator())
	require.Error(t, err)

	_, err = FromReader(strings.NewReader(`
[Engine]
Radius = -1.0
`), DefaultSimulator())
	require.Error(t, err)
}

func TestFromFileMissingUsesDefaults(t *testing.T) {
	cfg, err := FromFile("/nonexistent/dualtree-sim.toml")
	require.NoError(t, err)
	require.Equal(t, DefaultSimulator(), cfg)
}
