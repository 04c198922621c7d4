package mesh

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSONRenderer exports covered cells as polygons, their outline as a
// multipolygon and the vehicle track as a line string. Coordinates are projected metres (easting, northing).
type GeoJSONRenderer struct {
	Config RenderConfig
	// TrackTolerance is the Douglas-Peucker tolerance in metres applied to
	// the track; 0 uses half the cell size.
	TrackTolerance float64
}

// NewGeoJSONRenderer creates a GeoJSON renderer.
func NewGeoJSONRenderer(cfg RenderConfig) *GeoJSONRenderer {
	return &GeoJSONRenderer{Config: cfg}
}

// FeatureCollection builds the collection for r and track.
func (g *GeoJSONRenderer) FeatureCollection(r *Raster, track orb.LineString) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"resolution": r.Resolution,
		"origin":     []float64{r.OriginX, r.OriginY},
		"size":       []int{r.Nx, r.Ny},
	}

	for iy := 0; iy < r.Ny; iy++ {
		for ix := 0; ix < r.Nx; ix++ {
			mean, count, ok := r.Cell(ix, iy)
			if !ok {
				continue
			}
			f := geojson.NewFeature(r.CellBound(ix, iy).ToPolygon())
			f.ID = fmt.Sprintf("%d,%d", ix, iy)
			f.Properties["kind"] = "cell"
			f.Properties["ix"] = ix
			f.Properties["iy"] = iy
			f.Properties["mean"] = mean
			f.Properties["count"] = count
			fc.Append(f)
		}
	}

	if coverage := VectorizeCoverage(r); len(coverage) > 0 {
		f := geojson.NewFeature(coverage)
		f.Properties["kind"] = "coverage"
		f.Properties["area"] = CoverageArea(coverage)
		f.Properties["cells"] = r.Covered()
		fc.Append(f)
	}

	if g.Config.Track && len(track) > 1 {
		tol := g.TrackTolerance
		if tol <= 0 {
			tol = r.Resolution / 2
		}
		f := geojson.NewFeature(SimplifyTrack(track, tol))
		f.Properties["kind"] = "track"
		f.Properties["length"] = TrackLength(track)
		f.Properties["points"] = len(track)
		fc.Append(f)
	}
	return fc
}

// Render writes the collection as JSON.
func (g *GeoJSONRenderer) Render(w io.Writer, r *Raster, track orb.LineString) error {
	if r == nil {
		return ErrEmptyInput
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(g.FeatureCollection(r, track)); err != nil {
		return fmt.Errorf("failed to encode geojson: %w", err)
	}
	return nil
}
