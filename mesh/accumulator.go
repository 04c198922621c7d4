package mesh

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Gridder collects world samples and bins them into a raster.
type Gridder interface {
	Add(batch WorldSamples)
	Len() int
	Finalize(resolution float64) (*Raster, error)
}

// BinningMode selects how the grid extent is derived from the sample bounds.
type BinningMode string

const (
	// BinningExtend uses floor(span/res)+1 half-open cells, so the maximum
	// sample lies inside the last cell and every cell has the same rule.
	BinningExtend BinningMode = "extend"
	// BinningHistogram uses ceil(span/res) cells (at least one) with the last
	// cell closed on both ends so the maximum sample is included.
	BinningHistogram BinningMode = "histogram"
)

// ParseBinningMode validates a binning mode name. Empty means BinningExtend.
func ParseBinningMode(s string) (BinningMode, error) {
	switch BinningMode(s) {
	case "", BinningExtend:
		return BinningExtend, nil
	case BinningHistogram:
		return BinningHistogram, nil
	}
	return "", configErrorf("binning", "must be %q or %q, got %q", BinningExtend, BinningHistogram, s)
}

// maxAxisCells bounds a single grid axis before any allocation happens.
const maxAxisCells = 1 << 31

// cells returns the number of cells covering span.
func (m BinningMode) cells(span, resolution float64) int {
	q := span / resolution
	if q > maxAxisCells {
		return maxAxisCells
	}
	if m == BinningHistogram {
		n := int(math.Ceil(q))
		if n < 1 {
			n = 1
		}
		return n
	}
	return int(math.Floor(q)) + 1
}

// bin returns the cell index of v along an axis starting at min with n cells.
func (m BinningMode) bin(v, min, resolution float64, n int) int {
	i := int(math.Floor((v - min) / resolution))
	if i < 0 {
		return 0
	}
	if i >= n {
		// closed last bin (histogram) or float rounding at the edge (extend)
		return n - 1
	}
	return i
}

// Accumulator buffers every sample and bins them on Finalize, once the
// global bounding box is known. Memory grows with the number of samples.
type Accumulator struct {
	samples  WorldSamples
	bounds   orb.Bound
	mode     BinningMode
	maxCells int
	dropped  int
}

// NewAccumulator creates a buffered accumulator. maxCells <= 0 leaves only
// the HardMaxCells limit.
func NewAccumulator(mode BinningMode, maxCells int) *Accumulator {
	if mode == "" {
		mode = BinningExtend
	}
	return &Accumulator{mode: mode, maxCells: maxCells}
}

// Add appends a batch. Samples with a non-finite coordinate or intensity
// are dropped.
func (a *Accumulator) Add(batch WorldSamples) {
	for i := 0; i < batch.Len(); i++ {
		x, y, v := batch.X[i], batch.Y[i], batch.Intensity[i]
		if !finite(x) || !finite(y) || !finite(v) {
			a.dropped++
			continue
		}
		p := orb.Point{x, y}
		if a.samples.Len() == 0 {
			a.bounds = p.Bound()
		} else {
			a.bounds = a.bounds.Extend(p)
		}
		a.samples.Append(x, y, v)
	}
}

// Len returns the number of buffered samples.
func (a *Accumulator) Len() int {
	return a.samples.Len()
}

// Dropped returns the number of rejected non-finite samples.
func (a *Accumulator) Dropped() int {
	return a.dropped
}

// Bounds returns the running bounding box of the buffered samples.
func (a *Accumulator) Bounds() (orb.Bound, bool) {
	return a.bounds, a.samples.Len() > 0
}

// Finalize bins all samples into a raster anchored at the minimum corner of
// the sample bounds.
func (a *Accumulator) Finalize(resolution float64) (*Raster, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, configErrorf("resolution", "must be positive, got %v", resolution)
	}
	if a.samples.Len() == 0 {
		return nil, ErrEmptyInput
	}

	minX, minY := a.bounds.Min.X(), a.bounds.Min.Y()
	nx := a.mode.cells(a.bounds.Max.X()-minX, resolution)
	ny := a.mode.cells(a.bounds.Max.Y()-minY, resolution)
	if err := checkGridSize(nx, ny, a.maxCells); err != nil {
		return nil, err
	}

	r := newRaster(minX, minY, resolution, nx, ny)
	r.Bounds = a.bounds
	for i := 0; i < a.samples.Len(); i++ {
		ix := a.mode.bin(a.samples.X[i], minX, resolution, nx)
		iy := a.mode.bin(a.samples.Y[i], minY, resolution, ny)
		c := r.Index(ix, iy)
		r.Sum[c] += a.samples.Intensity[i]
		r.Count[c]++
	}
	r.normalize()
	return r, nil
}

// HardMaxCells caps every grid, whether or not a smaller limit is
// configured.
const HardMaxCells = 1 << 28

// checkGridSize rejects grids above maxCells (or HardMaxCells when maxCells
// is unset or larger). Axis counts that overflowed to zero or below are
// rejected too.
func checkGridSize(nx, ny, maxCells int) error {
	limit := HardMaxCells
	if maxCells > 0 && maxCells < limit {
		limit = maxCells
	}
	if nx < 1 || ny < 1 || nx > limit || ny > limit || nx > limit/ny {
		return fmt.Errorf("%w: %dx%d cells exceeds limit of %d", ErrGridTooLarge, nx, ny, limit)
	}
	return nil
}

type cellKey struct {
	ix, iy int64
}

type cellSum struct {
	sum   float64
	count int
}

// SparseAccumulator bins samples as they arrive into cells keyed by their
// absolute index floor(x/res), floor(y/res). Memory grows with the number of
// occupied cells rather than samples, but the resolution must be known up
// front and the grid is anchored at multiples of it instead of the sample
// minimum.
type SparseAccumulator struct {
	resolution float64
	cells      map[cellKey]*cellSum
	bounds     orb.Bound
	n          int
	maxCells   int
	dropped    int
}

// NewSparseAccumulator creates a streaming accumulator for resolution.
func NewSparseAccumulator(resolution float64, maxCells int) *SparseAccumulator {
	return &SparseAccumulator{
		resolution: resolution,
		cells:      make(map[cellKey]*cellSum),
		maxCells:   maxCells,
	}
}

// Add bins a batch immediately.
func (s *SparseAccumulator) Add(batch WorldSamples) {
	for i := 0; i < batch.Len(); i++ {
		x, y, v := batch.X[i], batch.Y[i], batch.Intensity[i]
		if !finite(x) || !finite(y) || !finite(v) {
			s.dropped++
			continue
		}
		p := orb.Point{x, y}
		if s.n == 0 {
			s.bounds = p.Bound()
		} else {
			s.bounds = s.bounds.Extend(p)
		}
		k := cellKey{int64(math.Floor(x / s.resolution)), int64(math.Floor(y / s.resolution))}
		c, ok := s.cells[k]
		if !ok {
			c = &cellSum{}
			s.cells[k] = c
		}
		c.sum += v
		c.count++
		s.n++
	}
}

// Len returns the number of samples added.
func (s *SparseAccumulator) Len() int {
	return s.n
}

// Occupied returns the number of cells holding data.
func (s *SparseAccumulator) Occupied() int {
	return len(s.cells)
}

// Dropped returns the number of rejected non-finite samples.
func (s *SparseAccumulator) Dropped() int {
	return s.dropped
}

// Finalize compacts the occupied cells into a dense raster. resolution must
// match the one given to NewSparseAccumulator.
func (s *SparseAccumulator) Finalize(resolution float64) (*Raster, error) {
	if resolution != s.resolution {
		return nil, configErrorf("resolution", "sparse accumulator was built for %v, finalize asked for %v", s.resolution, resolution)
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, configErrorf("resolution", "must be positive, got %v", resolution)
	}
	if s.n == 0 {
		return nil, ErrEmptyInput
	}

	first := true
	var minX, minY, maxX, maxY int64
	for k := range s.cells {
		if first {
			minX, maxX, minY, maxY = k.ix, k.ix, k.iy, k.iy
			first = false
			continue
		}
		minX, maxX = min(minX, k.ix), max(maxX, k.ix)
		minY, maxY = min(minY, k.iy), max(maxY, k.iy)
	}

	nx, ny := int(maxX-minX+1), int(maxY-minY+1)
	if err := checkGridSize(nx, ny, s.maxCells); err != nil {
		return nil, err
	}

	r := newRaster(float64(minX)*resolution, float64(minY)*resolution, resolution, nx, ny)
	r.Bounds = s.bounds
	for k, c := range s.cells {
		i := r.Index(int(k.ix-minX), int(k.iy-minY))
		r.Sum[i] = c.sum
		r.Count[i] = c.count
	}
	r.normalize()
	return r, nil
}

// Accumulator kinds accepted in the configuration.
const (
	AccumulatorBuffered = "buffered"
	AccumulatorSparse   = "sparse"
)

// NewGridder returns the accumulator selected by cfg.
func NewGridder(cfg *Config) (Gridder, error) {
	mode, err := ParseBinningMode(cfg.Binning)
	if err != nil {
		return nil, err
	}
	switch cfg.Accumulator {
	case "", AccumulatorBuffered:
		return NewAccumulator(mode, cfg.MaxCells), nil
	case AccumulatorSparse:
		if !(cfg.Resolution > 0) {
			return nil, configErrorf("resolution", "must be positive, got %v", cfg.Resolution)
		}
		return NewSparseAccumulator(cfg.Resolution, cfg.MaxCells), nil
	}
	return nil, configErrorf("accumulator", "must be %q or %q, got %q", AccumulatorBuffered, AccumulatorSparse, cfg.Accumulator)
}
