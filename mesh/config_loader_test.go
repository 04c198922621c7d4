package mesh

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfigYAML() string {
	return `input: survey.bag
output: out/map.svg
resolution: 0.25
maxFrames: 500
skipFrames: 2
workers: 4
headingConvention: compass
projection: mercator
accumulator: sparse
binning: histogram
topics:
  position: /nav/fix
  heading: /nav/heading
  altitude: /nav/alt
  sonar: /sonar/raw
render:
  format: svg
  clipPercentile: 2
  track: false
mqtt:
  broker: tcp://localhost:1883
  publishPrefix: survey
store: runs.db
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	require.NoError(t, err)

	assert.Equal(t, "survey.bag", cfg.Input)
	assert.Equal(t, 0.25, cfg.Resolution)
	n, ok := cfg.Cap()
	assert.True(t, ok)
	assert.Equal(t, 500, n)
	assert.Equal(t, 2, cfg.SkipFrames)
	assert.Equal(t, "compass", cfg.HeadingConvention)
	assert.Equal(t, ProjectionMercator, cfg.Projection)
	assert.Equal(t, AccumulatorSparse, cfg.Accumulator)
	assert.Equal(t, "/sonar/raw", cfg.Topics.Sonar)
	assert.Empty(t, cfg.Topics.Camera)
	assert.Equal(t, "svg", cfg.Render.Format)
	assert.False(t, cfg.Render.Track)
	assert.Equal(t, "runs.db", cfg.Store)
	assert.NoError(t, cfg.Validate())
}

// Keys missing from the file keep their defaults.
func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "resolution: 2\n"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, 2.0, cfg.Resolution)
	assert.Equal(t, def.Output, cfg.Output)
	assert.Equal(t, def.Workers, cfg.Workers)
	assert.Equal(t, def.Topics, cfg.Topics)
	assert.Equal(t, def.Render, cfg.Render)
	assert.True(t, cfg.CapCountsDecodeFailures)
	_, capped := cfg.Cap()
	assert.False(t, capped)

	// The input is left to the command line.
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "resolution: [1, 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config YAML")
}

func TestLoadConfig_RejectsBadSettings(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "resolution: -1\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero resolution", func(c *Config) { c.Resolution = 0 }, "resolution"},
		{"negative resolution", func(c *Config) { c.Resolution = -0.5 }, "resolution"},
		{"zero stride", func(c *Config) { c.SkipFrames = 0 }, "skipFrames"},
		{"zero cap", func(c *Config) { zero := 0; c.MaxFrames = &zero }, "maxFrames"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"negative progress", func(c *Config) { c.ProgressEvery = -1 }, "progressEvery"},
		{"negative max cells", func(c *Config) { c.MaxCells = -1 }, "maxCells"},
		{"no input", func(c *Config) { c.Input = "" }, "input"},
		{"no output", func(c *Config) { c.Output = "" }, "output"},
		{"heading", func(c *Config) { c.HeadingConvention = "nautical" }, "headingConvention"},
		{"binning", func(c *Config) { c.Binning = "round" }, "binning"},
		{"projection", func(c *Config) { c.Projection = "lambert" }, "projection"},
		{"utm zone", func(c *Config) { c.UTMZone = 61 }, "utmZone"},
		{"projector", func(c *Config) { c.Projector = "warp" }, "projector"},
		{"resample width", func(c *Config) { c.Projector = ProjectorResample; c.CartesianWidth = 0 }, "cartesianWidth"},
		{"accumulator", func(c *Config) { c.Accumulator = "tiled" }, "accumulator"},
		{"sonar topic", func(c *Config) { c.Topics.Sonar = "" }, "topics.sonar"},
		{"format", func(c *Config) { c.Render.Format = "jpeg" }, "render.format"},
		{"clip", func(c *Config) { c.Render.ClipPercentile = 50 }, "render.clipPercentile"},
		{"intensity range", func(c *Config) {
			lo, hi := 5.0, 5.0
			c.Render.MinIntensity, c.Render.MaxIntensity = &lo, &hi
		}, "render.minIntensity"},
		{"pixels per cell", func(c *Config) { c.Render.PixelsPerCell = -1 }, "render.pixelsPerCell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Input = "survey.bag"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestConfig_ValidateDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input = "survey.bag"
	assert.NoError(t, cfg.Validate())
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
