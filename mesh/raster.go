package mesh

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Raster is a finalized grid of mean intensities. Cells are stored row-major
// with row 0 at the southern edge: index = iy*Nx + ix. Cell (ix, iy) covers
// [OriginX + ix*Resolution, OriginX + (ix+1)*Resolution) in x, likewise in y.
// Cells without samples have Count 0 and a NaN Mean.
type Raster struct {
	OriginX    float64   `json:"originX"`
	OriginY    float64   `json:"originY"`
	Resolution float64   `json:"resolution"`
	Nx         int       `json:"nx"`
	Ny         int       `json:"ny"`
	Sum        []float64 `json:"-"`
	Count      []int     `json:"-"`
	Mean       []float64 `json:"-"`

	// Bounds is the bounding box of the accumulated samples.
	Bounds orb.Bound `json:"bounds"`
}

// newRaster allocates an empty raster.
func newRaster(originX, originY, resolution float64, nx, ny int) *Raster {
	n := nx * ny
	return &Raster{
		OriginX:    originX,
		OriginY:    originY,
		Resolution: resolution,
		Nx:         nx,
		Ny:         ny,
		Sum:        make([]float64, n),
		Count:      make([]int, n),
		Mean:       make([]float64, n),
	}
}

// normalize turns sums and counts into means.
func (r *Raster) normalize() {
	for i, c := range r.Count {
		if c > 0 {
			r.Mean[i] = r.Sum[i] / float64(c)
		} else {
			r.Mean[i] = math.NaN()
		}
	}
}

// Index returns the flat index of cell (ix, iy).
func (r *Raster) Index(ix, iy int) int {
	return iy*r.Nx + ix
}

// Cell returns the mean and count of cell (ix, iy). ok is false for cells
// outside the grid or without data.
func (r *Raster) Cell(ix, iy int) (mean float64, count int, ok bool) {
	if ix < 0 || iy < 0 || ix >= r.Nx || iy >= r.Ny {
		return math.NaN(), 0, false
	}
	i := r.Index(ix, iy)
	return r.Mean[i], r.Count[i], r.Count[i] > 0
}

// CellOf returns the cell containing world coordinate (x, y).
func (r *Raster) CellOf(x, y float64) (ix, iy int) {
	return int(math.Floor((x - r.OriginX) / r.Resolution)), int(math.Floor((y - r.OriginY) / r.Resolution))
}

// At returns the mean and count of the cell containing (x, y).
func (r *Raster) At(x, y float64) (mean float64, count int, ok bool) {
	ix, iy := r.CellOf(x, y)
	return r.Cell(ix, iy)
}

// CellCenter returns the world coordinates of the centre of cell (ix, iy).
func (r *Raster) CellCenter(ix, iy int) (x, y float64) {
	return r.OriginX + (float64(ix)+0.5)*r.Resolution, r.OriginY + (float64(iy)+0.5)*r.Resolution
}

// CellBound returns the extent of cell (ix, iy).
func (r *Raster) CellBound(ix, iy int) orb.Bound {
	x0 := r.OriginX + float64(ix)*r.Resolution
	y0 := r.OriginY + float64(iy)*r.Resolution
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x0 + r.Resolution, y0 + r.Resolution}}
}

// Extent returns the extent of the whole grid.
func (r *Raster) Extent() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.OriginX, r.OriginY},
		Max: orb.Point{r.OriginX + float64(r.Nx)*r.Resolution, r.OriginY + float64(r.Ny)*r.Resolution},
	}
}

// Covered returns the number of cells holding data.
func (r *Raster) Covered() int {
	n := 0
	for _, c := range r.Count {
		if c > 0 {
			n++
		}
	}
	return n
}

// Coverage returns the fraction of cells holding data.
func (r *Raster) Coverage() float64 {
	if len(r.Count) == 0 {
		return 0
	}
	return float64(r.Covered()) / float64(len(r.Count))
}

// coveredMeans returns the means of all covered cells in ascending order.
func (r *Raster) coveredMeans() []float64 {
	vals := make([]float64, 0, len(r.Mean))
	for i, c := range r.Count {
		if c > 0 {
			vals = append(vals, r.Mean[i])
		}
	}
	sort.Float64s(vals)
	return vals
}

// RasterStats summarizes the covered cells of a raster.
type RasterStats struct {
	Cells    int     `json:"cells"`
	Covered  int     `json:"covered"`
	Samples  int     `json:"samples"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stdDev"`
	Median   float64 `json:"median"`
	Coverage float64 `json:"coverage"`
}

// Stats computes summary statistics over the covered cells. Statistics are
// zero when no cell is covered.
func (r *Raster) Stats() RasterStats {
	s := RasterStats{Cells: r.Nx * r.Ny, Coverage: r.Coverage()}
	for _, c := range r.Count {
		s.Samples += c
	}
	vals := r.coveredMeans()
	s.Covered = len(vals)
	if len(vals) == 0 {
		return s
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	if len(vals) == 1 {
		s.StdDev = 0
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
	return s
}

// Quantile returns the p-quantile (0..1) of covered cell means, or NaN for
// a raster without data.
func (r *Raster) Quantile(p float64) float64 {
	vals := r.coveredMeans()
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Quantile(p, stat.Empirical, vals, nil)
}
