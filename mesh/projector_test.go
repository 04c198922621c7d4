package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func polarFixture() *PolarFrame {
	return &PolarFrame{
		NRanges:   2,
		NBeams:    3,
		Intensity: []float64{1, 2, 3, 4, 5, 6},
		Bearings:  []float64{-math.Pi / 2, 0, math.Pi / 6},
		Ranges:    []float64{1, 2},
		Gains:     []float64{100, 100},
	}
}

func TestProjectPolar(t *testing.T) {
	frame := polarFixture()
	cart := ProjectPolar(frame)

	require.Equal(t, 6, cart.Len())
	assert.Equal(t, 3, cart.Width)
	assert.Equal(t, 2, cart.Height)

	want := []Point{
		{X: -1, Y: 0}, {X: 0, Y: 1}, {X: 0.5, Y: math.Sqrt(3) / 2},
		{X: -2, Y: 0}, {X: 0, Y: 2}, {X: 1, Y: math.Sqrt(3)},
	}
	for i, w := range want {
		assert.InDelta(t, w.X, cart.X[i], 1e-9, "x[%d]", i)
		assert.InDelta(t, w.Y, cart.Y[i], 1e-9, "y[%d]", i)
	}
	// gains are already baked in and must not be reapplied
	assert.Equal(t, frame.Intensity, cart.Intensity)

	cart.Intensity[0] = 99
	assert.Equal(t, 1.0, frame.Intensity[0], "output must not alias the polar image")
}

func TestProjectPolar_RangeIsPreserved(t *testing.T) {
	frame := DecodeOculusPing(encodeTestPing(simplePing()))
	require.NotNil(t, frame)
	cart := ProjectPolar(frame)
	for r := 0; r < frame.NRanges; r++ {
		for b := 0; b < frame.NBeams; b++ {
			i := r*frame.NBeams + b
			assert.InDelta(t, frame.Ranges[r], math.Hypot(cart.X[i], cart.Y[i]), 1e-9)
		}
	}
}

func TestResamplePolar(t *testing.T) {
	frame := &PolarFrame{
		NRanges:   10,
		NBeams:    3,
		Bearings:  []float64{-math.Pi / 4, 0, math.Pi / 4},
		Ranges:    make([]float64, 10),
		Intensity: make([]float64, 30),
	}
	for r := 0; r < 10; r++ {
		frame.Ranges[r] = float64(r)
		for b := 0; b < 3; b++ {
			frame.Intensity[r*3+b] = float64(b + 1)
		}
	}

	cart := ResamplePolar(frame, 40)
	require.Equal(t, 40, cart.Width)
	assert.Greater(t, cart.Height, 0)
	require.Equal(t, cart.Width*cart.Height, cart.Len())

	var inside, outside int
	for i := 0; i < cart.Len(); i++ {
		rng := math.Hypot(cart.X[i], cart.Y[i])
		if math.IsNaN(cart.Intensity[i]) {
			outside++
			continue
		}
		inside++
		assert.LessOrEqual(t, rng, 9.0+1e-9)
		// starboard of centre maps to the starboard beam
		if math.Atan2(cart.X[i], cart.Y[i]) > math.Pi/8 {
			assert.Equal(t, 3.0, cart.Intensity[i])
		}
	}
	assert.Greater(t, inside, 0)
	assert.Greater(t, outside, 0, "corners outside the fan carry no data")

	// top-left corner is beyond max range
	assert.True(t, math.IsNaN(cart.Intensity[0]))
}

func TestNewFrameProjector(t *testing.T) {
	p, err := NewFrameProjector("", 0)
	require.NoError(t, err)
	assert.Equal(t, 6, p(polarFixture()).Len())

	p, err = NewFrameProjector("resample", 16)
	require.NoError(t, err)
	assert.Equal(t, 16, p(polarFixture()).Width)

	_, err = NewFrameProjector("resample", 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewFrameProjector("bilinear", 10)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNearestIndex(t *testing.T) {
	vals := []float64{0, 1, 2, 4}
	assert.Equal(t, 0, nearestIndex(vals, -3))
	assert.Equal(t, 1, nearestIndex(vals, 1.4))
	assert.Equal(t, 2, nearestIndex(vals, 2.9))
	assert.Equal(t, 3, nearestIndex(vals, 3.1))
	assert.Equal(t, 3, nearestIndex(vals, 10))
}
