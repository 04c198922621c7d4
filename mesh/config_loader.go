package mesh

import (
	"fmt"
	"math"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Configuration defaults
const (
	DefaultResolution     = 0.5
	DefaultOutput         = "seabed_map.png"
	DefaultCartesianWidth = 512
	DefaultMaxCells       = 50_000_000
	DefaultProgressEvery  = 50
)

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Output:                  DefaultOutput,
		Resolution:              DefaultResolution,
		SkipFrames:              1,
		Workers:                 runtime.NumCPU(),
		HeadingConvention:       string(HeadingMath),
		Projection:              ProjectionUTM,
		Accumulator:             AccumulatorBuffered,
		Binning:                 string(BinningExtend),
		Projector:               ProjectorDirect,
		CartesianWidth:          DefaultCartesianWidth,
		CapCountsDecodeFailures: true,
		MaxCells:                DefaultMaxCells,
		ProgressEvery:           DefaultProgressEvery,
		Topics:                  DefaultTopics(),
		Render: RenderConfig{
			Format:        string(FormatPlot),
			PixelsPerCell: 2,
			GridSpacing:   10,
			Track:         true,
			Title:         "2D Seabed Backscatter Map",
		},
		MQTT: MQTTConfig{
			PublishPrefix: "seabedmesh",
			ClientID:      "seabedmesh",
		},
	}
}

// LoadConfig loads a YAML configuration file on top of DefaultConfig and
// validates every setting except the input, which usually comes from the
// command line. Call Validate once all overrides are applied.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.validateSettings(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate rejects configurations that cannot run. It is called before any
// input is read.
func (c *Config) Validate() error {
	if c.Input == "" {
		return configErrorf("input", "is required")
	}
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	if !(c.Resolution > 0) || math.IsInf(c.Resolution, 0) {
		return configErrorf("resolution", "must be a positive number of meters, got %v", c.Resolution)
	}
	if c.SkipFrames < 1 {
		return configErrorf("skipFrames", "must be >= 1, got %d", c.SkipFrames)
	}
	if c.MaxFrames != nil && *c.MaxFrames < 1 {
		return configErrorf("maxFrames", "must be >= 1 when set, got %d", *c.MaxFrames)
	}
	if c.Workers < 1 {
		return configErrorf("workers", "must be >= 1, got %d", c.Workers)
	}
	if c.ProgressEvery < 0 {
		return configErrorf("progressEvery", "must not be negative, got %d", c.ProgressEvery)
	}
	if c.MaxCells < 0 {
		return configErrorf("maxCells", "must not be negative, got %d", c.MaxCells)
	}
	if c.Output == "" {
		return configErrorf("output", "is required")
	}
	if _, err := ParseHeadingConvention(c.HeadingConvention); err != nil {
		return err
	}
	if _, err := ParseBinningMode(c.Binning); err != nil {
		return err
	}
	if _, err := NewProjector(c.Projection, c.UTMZone); err != nil {
		return err
	}
	if _, err := NewFrameProjector(c.Projector, c.CartesianWidth); err != nil {
		return err
	}
	switch c.Accumulator {
	case "", AccumulatorBuffered, AccumulatorSparse:
	default:
		return configErrorf("accumulator", "must be %q or %q, got %q", AccumulatorBuffered, AccumulatorSparse, c.Accumulator)
	}
	if c.Topics.Sonar == "" {
		return configErrorf("topics.sonar", "is required")
	}
	return c.Render.Validate()
}

// Validate checks the renderer settings.
func (r *RenderConfig) Validate() error {
	if _, err := ParseFormat(r.Format); err != nil {
		return err
	}
	if r.MinIntensity != nil && r.MaxIntensity != nil && !(*r.MinIntensity < *r.MaxIntensity) {
		return configErrorf("render.minIntensity", "must be below render.maxIntensity")
	}
	if r.ClipPercentile < 0 || r.ClipPercentile >= 50 {
		return configErrorf("render.clipPercentile", "must be in [0, 50), got %v", r.ClipPercentile)
	}
	if r.PixelsPerCell < 0 {
		return configErrorf("render.pixelsPerCell", "must not be negative, got %d", r.PixelsPerCell)
	}
	if r.GridSpacing < 0 {
		return configErrorf("render.gridSpacing", "must not be negative, got %v", r.GridSpacing)
	}
	return nil
}
