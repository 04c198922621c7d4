package mesh

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Directions along the cell lattice: 0=E, 1=N, 2=W, 3=S
var latticeStep = [4][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

// latticeEdge is one unit boundary edge between a covered and an uncovered
// cell, directed so the covered cell lies on its left.
type latticeEdge struct {
	x, y int // start corner
	dir  int
	used bool
}

// VectorizeCoverage traces the outline of the covered cells of r. Every
// connected patch becomes one polygon with a counter-clockwise exterior and
// clockwise holes, in world coordinates. Cells touching only at a corner
// belong to separate polygons.
func VectorizeCoverage(r *Raster) orb.MultiPolygon {
	if r == nil {
		return nil
	}
	covered := func(ix, iy int) bool {
		_, _, ok := r.Cell(ix, iy)
		return ok
	}

	var edges []latticeEdge
	out := make(map[[2]int][]int)
	add := func(x, y, dir int) {
		k := [2]int{x, y}
		out[k] = append(out[k], len(edges))
		edges = append(edges, latticeEdge{x: x, y: y, dir: dir})
	}
	for iy := 0; iy < r.Ny; iy++ {
		for ix := 0; ix < r.Nx; ix++ {
			if !covered(ix, iy) {
				continue
			}
			if !covered(ix, iy-1) {
				add(ix, iy, 0)
			}
			if !covered(ix+1, iy) {
				add(ix+1, iy, 1)
			}
			if !covered(ix, iy+1) {
				add(ix+1, iy+1, 2)
			}
			if !covered(ix-1, iy) {
				add(ix, iy+1, 3)
			}
		}
	}

	var rings []orb.Ring
	for i := range edges {
		if edges[i].used {
			continue
		}
		corners := traceLattice(edges, out, i)
		ring := make(orb.Ring, 0, len(corners)+1)
		for _, c := range corners {
			ring = append(ring, orb.Point{
				r.OriginX + float64(c[0])*r.Resolution,
				r.OriginY + float64(c[1])*r.Resolution,
			})
		}
		ring = append(ring, ring[0])
		rings = append(rings, ring)
	}
	return assemblePolygons(rings)
}

// traceLattice follows unused edges from start until it returns to it,
// preferring left turns so the walk hugs the cell it started on. It returns
// the corners where the direction changes.
func traceLattice(edges []latticeEdge, out map[[2]int][]int, start int) [][2]int {
	var corners [][2]int
	e := start
	for {
		edges[e].used = true
		ed := edges[e]
		corners = append(corners, [2]int{ed.x, ed.y})

		end := [2]int{ed.x + latticeStep[ed.dir][0], ed.y + latticeStep[ed.dir][1]}
		next := -1
		closed := false
	turns:
		for _, turn := range [3]int{1, 0, 3} {
			want := (ed.dir + turn) % 4
			for _, c := range out[end] {
				if edges[c].dir != want {
					continue
				}
				if c == start {
					closed = true
					break turns
				}
				if !edges[c].used {
					next = c
					break turns
				}
			}
		}
		if closed || next < 0 {
			break
		}
		e = next
	}
	return dropCollinear(corners)
}

// dropCollinear removes corners lying on a straight run of a closed lattice
// path.
func dropCollinear(corners [][2]int) [][2]int {
	n := len(corners)
	if n < 4 {
		return corners
	}
	kept := corners[:0:0]
	for i, c := range corners {
		prev := corners[(i+n-1)%n]
		next := corners[(i+1)%n]
		cross := (c[0]-prev[0])*(next[1]-c[1]) - (c[1]-prev[1])*(next[0]-c[0])
		if cross != 0 {
			kept = append(kept, c)
		}
	}
	return kept
}

// assemblePolygons pairs every clockwise ring with the smallest
// counter-clockwise ring that contains it.
func assemblePolygons(rings []orb.Ring) orb.MultiPolygon {
	var outers []orb.Polygon
	var holes []orb.Ring
	for _, ring := range rings {
		if ring.Orientation() == orb.CCW {
			outers = append(outers, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	for _, hole := range holes {
		best, bestArea := -1, math.Inf(1)
		for i, p := range outers {
			if !planar.RingContains(p[0], hole[0]) {
				continue
			}
			if a := math.Abs(planar.Area(p[0])); a < bestArea {
				best, bestArea = i, a
			}
		}
		if best >= 0 {
			outers[best] = append(outers[best], hole)
		}
	}
	return orb.MultiPolygon(outers)
}

// CoverageArea returns the covered area in square metres.
func CoverageArea(mp orb.MultiPolygon) float64 {
	return planar.Area(mp)
}
