package mesh

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
)

// Format names an output artifact type.
type Format string

const (
	FormatPlot    Format = "plot"    // gonum/plot heatmap with axes and colour bar (PNG)
	FormatImage   Format = "image"   // one block of pixels per cell (PNG)
	FormatSVG     Format = "svg"     // vector cells with grid lines
	FormatGeoJSON Format = "geojson" // covered cells as polygons
)

// ParseFormat validates a format name. Empty means FormatPlot.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatPlot:
		return FormatPlot, nil
	case FormatImage:
		return FormatImage, nil
	case FormatSVG:
		return FormatSVG, nil
	case FormatGeoJSON:
		return FormatGeoJSON, nil
	}
	return "", configErrorf("render.format", "unknown format %q", s)
}

// FormatForPath picks a format from the output file extension, falling back
// to def for .png and unknown extensions.
func FormatForPath(path string, def Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return FormatSVG
	case ".geojson", ".json":
		return FormatGeoJSON
	}
	if def == FormatSVG || def == FormatGeoJSON {
		return FormatPlot
	}
	return def
}

// ContentType returns the MIME type of the rendered artifact.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatGeoJSON:
		return "application/geo+json"
	}
	return "image/png"
}

// MapRenderer writes a raster and the vehicle track as one artifact.
type MapRenderer interface {
	Render(w io.Writer, r *Raster, track orb.LineString) error
}

// NewMapRenderer returns the renderer for format configured by cfg.
func NewMapRenderer(format Format, cfg RenderConfig) (MapRenderer, error) {
	switch format {
	case FormatPlot:
		return NewPlotRenderer(cfg), nil
	case FormatImage:
		return NewRasterRenderer(cfg), nil
	case FormatSVG:
		return NewVectorRenderer(cfg), nil
	case FormatGeoJSON:
		return NewGeoJSONRenderer(cfg), nil
	}
	return nil, configErrorf("render.format", "unknown format %q", format)
}

// RenderMap renders r in the given format to w.
func RenderMap(w io.Writer, format Format, r *Raster, track orb.LineString, cfg RenderConfig) error {
	if r == nil {
		return ErrEmptyInput
	}
	renderer, err := NewMapRenderer(format, cfg)
	if err != nil {
		return err
	}
	return renderer.Render(w, r, track)
}

// SaveMap renders r to path. The artifact is written to a temporary file in
// the same directory and renamed into place, so a failed render never
// leaves a partial file behind.
func SaveMap(path string, format Format, r *Raster, track orb.LineString, cfg RenderConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set output permissions: %w", err)
	}

	if err := RenderMap(tmp, format, r, track, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to render %s: %w", format, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
