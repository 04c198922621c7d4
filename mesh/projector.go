package mesh

import (
	"math"
	"sort"
)

// FrameProjector converts a polar frame into sensor-local Cartesian pixels.
type FrameProjector func(frame *PolarFrame) *CartesianFrame

// Projector modes accepted in the configuration.
const (
	ProjectorDirect   = "direct"
	ProjectorResample = "resample"
)

// NewFrameProjector returns the projector for a configured mode. width is
// only used by ProjectorResample.
func NewFrameProjector(mode string, width int) (FrameProjector, error) {
	switch mode {
	case "", ProjectorDirect:
		return ProjectPolar, nil
	case ProjectorResample:
		if width < 1 {
			return nil, configErrorf("cartesianWidth", "must be positive, got %d", width)
		}
		return func(frame *PolarFrame) *CartesianFrame {
			return ResamplePolar(frame, width)
		}, nil
	}
	return nil, configErrorf("projector", "must be %q or %q, got %q", ProjectorDirect, ProjectorResample, mode)
}

// ProjectPolar places every polar pixel at x = r·sin(θ), y = r·cos(θ), with
// +y forward and +x starboard. The output keeps the polar layout: one row per
// range, one column per beam. Gains are never read; they are already part of
// the intensities.
func ProjectPolar(frame *PolarFrame) *CartesianFrame {
	n := frame.NRanges * frame.NBeams
	out := &CartesianFrame{
		Width:     frame.NBeams,
		Height:    frame.NRanges,
		Intensity: make([]float64, n),
		X:         make([]float64, n),
		Y:         make([]float64, n),
	}
	copy(out.Intensity, frame.Intensity)

	sin := make([]float64, frame.NBeams)
	cos := make([]float64, frame.NBeams)
	for b, theta := range frame.Bearings {
		sin[b], cos[b] = math.Sincos(theta)
	}
	for r := 0; r < frame.NRanges; r++ {
		rng := frame.Ranges[r]
		for b := 0; b < frame.NBeams; b++ {
			i := r*frame.NBeams + b
			out.X[i] = rng * sin[b]
			out.Y[i] = rng * cos[b]
		}
	}
	return out
}

// ResamplePolar rasterizes the sonar fan onto a regular Cartesian grid width
// pixels wide using nearest-neighbour lookup. Row 0 is the far edge of the
// fan. Pixels outside the fan have NaN intensity.
func ResamplePolar(frame *PolarFrame, width int) *CartesianFrame {
	if width < 1 {
		width = 1
	}
	if frame.NBeams == 0 || frame.NRanges == 0 {
		return &CartesianFrame{}
	}
	maxRange := frame.MaxRange()

	order := make([]int, frame.NBeams)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return frame.Bearings[order[a]] < frame.Bearings[order[b]]
	})
	sorted := make([]float64, len(order))
	for i, b := range order {
		sorted[i] = frame.Bearings[b]
	}
	minB, maxB := sorted[0], sorted[len(sorted)-1]

	halfWidth := maxRange * math.Max(math.Abs(math.Sin(minB)), math.Abs(math.Sin(maxB)))
	if minB < 0 && maxB > 0 && math.Max(-minB, maxB) > math.Pi/2 {
		halfWidth = maxRange
	}
	if halfWidth <= 0 {
		halfWidth = maxRange / 2
	}
	pixel := 2 * halfWidth / float64(width)
	if pixel <= 0 {
		pixel = 1
	}
	height := int(math.Ceil(maxRange / pixel))
	if height < 1 {
		height = 1
	}

	n := width * height
	out := &CartesianFrame{
		Width:     width,
		Height:    height,
		Intensity: make([]float64, n),
		X:         make([]float64, n),
		Y:         make([]float64, n),
	}

	rangeStep := 0.0
	if frame.NRanges > 1 {
		rangeStep = frame.Ranges[1] - frame.Ranges[0]
	}
	// half a beam of tolerance at the fan edges
	edge := 0.0
	if len(sorted) > 1 {
		edge = (maxB - minB) / float64(len(sorted)-1) / 2
	}

	for row := 0; row < height; row++ {
		y := maxRange - (float64(row)+0.5)*pixel
		for col := 0; col < width; col++ {
			x := -halfWidth + (float64(col)+0.5)*pixel
			i := row*width + col
			out.X[i], out.Y[i] = x, y

			rng := math.Hypot(x, y)
			theta := math.Atan2(x, y)
			if rng > maxRange || theta < minB-edge || theta > maxB+edge {
				out.Intensity[i] = math.NaN()
				continue
			}
			r := nearestRange(frame.Ranges, rangeStep, rng)
			b := order[nearestIndex(sorted, theta)]
			out.Intensity[i] = frame.At(r, b)
		}
	}
	return out
}

// nearestRange finds the row closest to rng, using the fixed step when the
// ranging table is uniform.
func nearestRange(ranges []float64, step, rng float64) int {
	if step > 0 {
		r := int(math.Round((rng - ranges[0]) / step))
		if r >= 0 && r < len(ranges) && math.Abs(ranges[r]-rng) <= step/2+1e-9 {
			return r
		}
	}
	return nearestIndex(ranges, rng)
}

// nearestIndex returns the index of the value in ascending vals closest to v.
func nearestIndex(vals []float64, v float64) int {
	i := sort.SearchFloat64s(vals, v)
	if i == 0 {
		return 0
	}
	if i == len(vals) {
		return len(vals) - 1
	}
	if v-vals[i-1] <= vals[i]-v {
		return i - 1
	}
	return i
}
