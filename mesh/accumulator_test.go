package mesh

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samples(triples ...[3]float64) WorldSamples {
	var w WorldSamples
	for _, t := range triples {
		w.Append(t[0], t[1], t[2])
	}
	return w
}

// scenarioSamples is three single-pixel frames: two hits on (0,0), one on (1,1).
func scenarioSamples() []WorldSamples {
	return []WorldSamples{
		samples([3]float64{0, 0, 10}),
		samples([3]float64{0, 0, 20}),
		samples([3]float64{1, 1, 30}),
	}
}

var rasterOpts = cmp.Options{
	cmpopts.EquateNaNs(),
	cmpopts.EquateApprox(0, 1e-12),
	cmpopts.IgnoreFields(Raster{}, "Bounds"),
}

func TestAccumulator_EndToEndScenario(t *testing.T) {
	acc := NewAccumulator(BinningExtend, 0)
	for _, b := range scenarioSamples() {
		acc.Add(b)
	}
	require.Equal(t, 3, acc.Len())

	r, err := acc.Finalize(1.0)
	require.NoError(t, err)

	mean, count, ok := r.At(0, 0)
	require.True(t, ok)
	assert.Equal(t, 15.0, mean)
	assert.Equal(t, 2, count)

	mean, count, ok = r.At(1, 1)
	require.True(t, ok)
	assert.Equal(t, 30.0, mean)
	assert.Equal(t, 1, count)

	assert.Equal(t, 2, r.Covered())
	for iy := 0; iy < r.Ny; iy++ {
		for ix := 0; ix < r.Nx; ix++ {
			if (ix == 0 && iy == 0) || (ix == 1 && iy == 1) {
				continue
			}
			_, _, ok := r.Cell(ix, iy)
			assert.False(t, ok, "cell (%d,%d) should be no data", ix, iy)
		}
	}
}

func TestAccumulator_HistogramBinning(t *testing.T) {
	tests := []struct {
		name       string
		batch      WorldSamples
		resolution float64
		wantNx     int
		wantNy     int
		wantCounts []int
	}{
		{
			name:       "max on the edge falls in the closed last bin",
			batch:      samples([3]float64{0, 0, 1}, [3]float64{2, 0, 1}),
			resolution: 1,
			wantNx:     2, wantNy: 1,
			wantCounts: []int{1, 1},
		},
		{
			name:       "partial last bin",
			batch:      samples([3]float64{0, 0, 1}, [3]float64{1, 0, 1}, [3]float64{2.5, 0, 1}),
			resolution: 1,
			wantNx:     3, wantNy: 1,
			wantCounts: []int{1, 1, 1},
		},
		{
			name:       "zero span keeps one cell",
			batch:      samples([3]float64{4, 4, 1}, [3]float64{4, 4, 3}),
			resolution: 0.5,
			wantNx:     1, wantNy: 1,
			wantCounts: []int{2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator(BinningHistogram, 0)
			acc.Add(tt.batch)
			r, err := acc.Finalize(tt.resolution)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNx, r.Nx)
			assert.Equal(t, tt.wantNy, r.Ny)
			assert.Equal(t, tt.wantCounts, r.Count)
		})
	}
}

func TestAccumulator_ExtendBinning(t *testing.T) {
	acc := NewAccumulator(BinningExtend, 0)
	acc.Add(samples([3]float64{0, 0, 1}, [3]float64{2, 0, 1}, [3]float64{0.999, 0, 5}))
	r, err := acc.Finalize(1)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Nx)
	assert.Equal(t, 1, r.Ny)
	assert.Equal(t, []int{2, 0, 1}, r.Count)
	assert.Equal(t, 3.0, r.Mean[0])
	assert.True(t, math.IsNaN(r.Mean[1]))
}

func TestAccumulator_NoDataIsNotZero(t *testing.T) {
	acc := NewAccumulator(BinningExtend, 0)
	acc.Add(samples([3]float64{0, 0, 0}, [3]float64{2, 0, 4}))
	r, err := acc.Finalize(1)
	require.NoError(t, err)

	zero, count, ok := r.Cell(0, 0)
	require.True(t, ok)
	assert.Equal(t, 0.0, zero)
	assert.Equal(t, 1, count)

	empty, count, ok := r.Cell(1, 0)
	assert.False(t, ok)
	assert.Equal(t, 0, count)
	assert.True(t, math.IsNaN(empty))

	_, _, ok = r.Cell(10, 0)
	assert.False(t, ok, "outside the grid")
}

func TestAccumulator_Empty(t *testing.T) {
	for _, g := range []Gridder{NewAccumulator(BinningExtend, 0), NewSparseAccumulator(1, 0)} {
		r, err := g.Finalize(1)
		assert.ErrorIs(t, err, ErrEmptyInput)
		assert.Nil(t, r)
	}

	acc := NewAccumulator(BinningExtend, 0)
	acc.Add(samples([3]float64{math.NaN(), 0, 1}, [3]float64{0, 0, math.Inf(1)}))
	_, err := acc.Finalize(1)
	assert.ErrorIs(t, err, ErrEmptyInput, "only non-finite samples")
	assert.Equal(t, 2, acc.Dropped())
}

func TestAccumulator_InvalidResolution(t *testing.T) {
	acc := NewAccumulator(BinningExtend, 0)
	acc.Add(samples([3]float64{0, 0, 1}))
	for _, res := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := acc.Finalize(res)
		assert.ErrorIs(t, err, ErrInvalidConfig, "resolution %v", res)
	}
}

func TestAccumulator_DuplicationKeepsMean(t *testing.T) {
	batch := samples(
		[3]float64{0.2, 0.3, 7}, [3]float64{0.7, 0.1, 3}, [3]float64{3.4, 1.9, 11},
		[3]float64{2.2, 4.8, 0}, [3]float64{4.9, 4.9, 1.5}, [3]float64{1.1, 2.2, 9},
	)

	once := NewAccumulator(BinningExtend, 0)
	once.Add(batch)
	twice := NewAccumulator(BinningExtend, 0)
	twice.Add(batch)
	twice.Add(batch)

	r1, err := once.Finalize(0.5)
	require.NoError(t, err)
	r2, err := twice.Finalize(0.5)
	require.NoError(t, err)

	for i := range r2.Count {
		r2.Count[i] /= 2
		r2.Sum[i] /= 2
	}
	if diff := cmp.Diff(r1, r2, rasterOpts); diff != "" {
		t.Errorf("raster mismatch (-once +twice):\n%s", diff)
	}
}

func TestAccumulator_GridTooLarge(t *testing.T) {
	acc := NewAccumulator(BinningExtend, 100)
	acc.Add(samples([3]float64{0, 0, 1}, [3]float64{1000, 1000, 1}))
	_, err := acc.Finalize(1)
	assert.ErrorIs(t, err, ErrGridTooLarge)

	r, err := acc.Finalize(250)
	require.NoError(t, err)
	assert.Equal(t, 25, r.Nx*r.Ny)
}

func TestGridders_StrayFixWithoutLimit(t *testing.T) {
	// one bad fix billions of metres away, no configured limit
	stray := samples([3]float64{0, 0, 1}, [3]float64{5e9, 5e9, 1})
	gridders := map[string]Gridder{
		"buffered": NewAccumulator(BinningExtend, 0),
		"sparse":   NewSparseAccumulator(1, 0),
	}
	for name, g := range gridders {
		t.Run(name, func(t *testing.T) {
			g.Add(stray)
			var err error
			require.NotPanics(t, func() { _, err = g.Finalize(1) })
			assert.ErrorIs(t, err, ErrGridTooLarge)
		})
	}
}

func TestCheckGridSize(t *testing.T) {
	tests := []struct {
		name     string
		nx, ny   int
		maxCells int
		ok       bool
	}{
		{"within limit", 10, 10, 100, true},
		{"over limit", 11, 10, 100, false},
		{"no limit", 1000, 1000, 0, true},
		{"no limit over hard cap", HardMaxCells, 2, 0, false},
		{"limit above hard cap", 1 << 15, 1 << 14, 1 << 40, false},
		{"product overflows", 1 << 40, 1 << 40, 0, false},
		{"overflowed axis", -5, 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkGridSize(tt.nx, tt.ny, tt.maxCells)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrGridTooLarge)
			}
		})
	}
}

func TestAccumulator_Bounds(t *testing.T) {
	acc := NewAccumulator(BinningExtend, 0)
	_, ok := acc.Bounds()
	assert.False(t, ok)

	acc.Add(samples([3]float64{3, -2, 1}, [3]float64{-1, 5, 1}))
	b, ok := acc.Bounds()
	require.True(t, ok)
	assert.Equal(t, -1.0, b.Min.X())
	assert.Equal(t, -2.0, b.Min.Y())
	assert.Equal(t, 3.0, b.Max.X())
	assert.Equal(t, 5.0, b.Max.Y())
}

func TestSparseAccumulator_MatchesBufferedOnAlignedGrid(t *testing.T) {
	batches := []WorldSamples{
		samples([3]float64{0, 0, 4}, [3]float64{0.4, 0.4, 8}, [3]float64{1.6, 0.2, 2}),
		samples([3]float64{2.5, 2.5, 6}, [3]float64{1.2, 2.9, 1}, [3]float64{2.9, 0.1, 3}),
	}

	buffered := NewAccumulator(BinningExtend, 0)
	sparse := NewSparseAccumulator(0.5, 0)
	for _, b := range batches {
		buffered.Add(b)
		sparse.Add(b)
	}
	assert.Equal(t, buffered.Len(), sparse.Len())

	want, err := buffered.Finalize(0.5)
	require.NoError(t, err)
	got, err := sparse.Finalize(0.5)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, rasterOpts); diff != "" {
		t.Errorf("sparse raster mismatch (-buffered +sparse):\n%s", diff)
	}
	assert.Equal(t, 5, sparse.Occupied())
}

func TestSparseAccumulator_NegativeCoordinates(t *testing.T) {
	sparse := NewSparseAccumulator(1, 0)
	sparse.Add(samples([3]float64{-0.5, -0.5, 2}, [3]float64{0.5, 0.5, 4}))
	r, err := sparse.Finalize(1)
	require.NoError(t, err)

	assert.Equal(t, -1.0, r.OriginX)
	assert.Equal(t, -1.0, r.OriginY)
	mean, _, ok := r.At(-0.5, -0.5)
	require.True(t, ok)
	assert.Equal(t, 2.0, mean)
	mean, _, ok = r.At(0.5, 0.5)
	require.True(t, ok)
	assert.Equal(t, 4.0, mean)
}

func TestSparseAccumulator_ResolutionMismatch(t *testing.T) {
	sparse := NewSparseAccumulator(1, 0)
	sparse.Add(samples([3]float64{0, 0, 1}))
	_, err := sparse.Finalize(2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewGridder(t *testing.T) {
	g, err := NewGridder(&Config{Resolution: 1})
	require.NoError(t, err)
	assert.IsType(t, &Accumulator{}, g)

	g, err = NewGridder(&Config{Resolution: 1, Accumulator: "sparse"})
	require.NoError(t, err)
	assert.IsType(t, &SparseAccumulator{}, g)

	_, err = NewGridder(&Config{Resolution: 1, Accumulator: "quadtree"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewGridder(&Config{Resolution: 1, Binning: "round"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRaster_Stats(t *testing.T) {
	acc := NewAccumulator(BinningExtend, 0)
	acc.Add(samples([3]float64{0, 0, 2}, [3]float64{1, 0, 4}, [3]float64{2, 0, 6}, [3]float64{2, 0, 6}, [3]float64{3, 1, 8}))
	r, err := acc.Finalize(1)
	require.NoError(t, err)

	s := r.Stats()
	assert.Equal(t, 8, s.Cells)
	assert.Equal(t, 4, s.Covered)
	assert.Equal(t, 5, s.Samples)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 8.0, s.Max)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(20.0/3), s.StdDev, 1e-12)
	assert.Equal(t, 0.5, s.Coverage)
	assert.Equal(t, 2.0, r.Quantile(0))
	assert.Equal(t, 8.0, r.Quantile(1))

	x, y := r.CellCenter(1, 0)
	assert.Equal(t, 1.5, x)
	assert.Equal(t, 0.5, y)
	ext := r.Extent()
	assert.Equal(t, 4.0, ext.Max.X())
	assert.Equal(t, 2.0, ext.Max.Y())
}
