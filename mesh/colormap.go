package mesh

import (
	"image/color"
	"math"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// NoDataColor marks cells without samples in every renderer. It sits outside
// the colour map so it never reads as a low intensity.
var NoDataColor = color.RGBA{200, 200, 200, 255}

// ColorScale maps mean intensities linearly onto a sequential colour map.
type ColorScale struct {
	Min float64
	Max float64
	cm  palette.ColorMap
}

// NewColorScale derives the colour range from cfg: explicit min/max win,
// then percentile clipping, then the full range of covered cells.
func NewColorScale(r *Raster, cfg RenderConfig) ColorScale {
	lo, hi := math.NaN(), math.NaN()
	if cfg.ClipPercentile > 0 {
		lo = r.Quantile(cfg.ClipPercentile / 100)
		hi = r.Quantile(1 - cfg.ClipPercentile/100)
	} else {
		stats := r.Stats()
		if stats.Covered > 0 {
			lo, hi = stats.Min, stats.Max
		}
	}
	if cfg.MinIntensity != nil {
		lo = *cfg.MinIntensity
	}
	if cfg.MaxIntensity != nil {
		hi = *cfg.MaxIntensity
	}
	if math.IsNaN(lo) || math.IsNaN(hi) {
		lo, hi = 0, 1
	}
	if hi <= lo {
		lo, hi = lo-0.5, lo+0.5
	}

	cm := moreland.ExtendedBlackBody()
	cm.SetMin(lo)
	cm.SetMax(hi)
	return ColorScale{Min: lo, Max: hi, cm: cm}
}

// ColorMap returns the underlying colour map with its range set.
func (s ColorScale) ColorMap() palette.ColorMap {
	return s.cm
}

// Normalize maps v into [0, 1], clamping values outside the scale.
func (s ColorScale) Normalize(v float64) float64 {
	t := (v - s.Min) / (s.Max - s.Min)
	return math.Max(0, math.Min(1, t))
}

// Color returns the colour for v. NaN yields NoDataColor.
func (s ColorScale) Color(v float64) color.RGBA {
	if math.IsNaN(v) {
		return NoDataColor
	}
	c, err := s.cm.At(math.Max(s.Min, math.Min(s.Max, v)))
	if err != nil {
		return NoDataColor
	}
	r, g, b, _ := c.RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}
}
