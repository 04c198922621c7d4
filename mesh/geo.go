package mesh

import (
	"fmt"
	"math"

	"github.com/im7mortal/UTM"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projector converts geographic WGS84 coordinates (degrees) into planar
// easting/northing meters.
type Projector interface {
	Project(lat, lon float64) (easting, northing float64, err error)
}

// Projection names accepted in the configuration.
const (
	ProjectionUTM      = "utm"
	ProjectionMercator = "mercator"
)

// NewProjector returns the projector selected by name. zone pins the UTM zone;
// zero lets the first fix choose it.
func NewProjector(name string, zone int) (Projector, error) {
	switch name {
	case "", ProjectionUTM:
		if zone < 0 || zone > 60 {
			return nil, configErrorf("utmZone", "must be between 1 and 60, got %d", zone)
		}
		return &UTMProjector{zone: zone}, nil
	case ProjectionMercator:
		return &MercatorProjector{}, nil
	}
	return nil, configErrorf("projection", "must be %q or %q, got %q", ProjectionUTM, ProjectionMercator, name)
}

// UTMProjector projects onto a single UTM zone. The zone and hemisphere are
// fixed by the first successful fix unless a zone was configured. Later fixes
// that fall in another zone or hemisphere are rejected with ErrOutsideZone,
// so a session never mixes two planar frames.
type UTMProjector struct {
	zone     int
	band     string
	southern bool
	locked   bool
}

// Zone returns the zone number, or 0 before the first fix when none was configured.
func (u *UTMProjector) Zone() int {
	return u.zone
}

// Band returns the latitude band letter of the first fix.
func (u *UTMProjector) Band() string {
	return u.band
}

// Southern reports whether northings are offset for the southern hemisphere.
func (u *UTMProjector) Southern() bool {
	return u.southern
}

// Project converts lat/lon to UTM easting/northing.
func (u *UTMProjector) Project(lat, lon float64) (float64, float64, error) {
	if !finite(lat) || !finite(lon) {
		return 0, 0, fmt.Errorf("utm: non-finite coordinate (%v, %v)", lat, lon)
	}
	e, n, zone, band, err := UTM.FromLatLon(lat, lon, false)
	if err != nil {
		return 0, 0, fmt.Errorf("utm: (%.6f, %.6f): %w", lat, lon, err)
	}
	southern := lat < 0

	if !u.locked && u.zone == 0 {
		u.zone = zone
	}
	if zone != u.zone {
		return 0, 0, fmt.Errorf("%w: (%.6f, %.6f) is in zone %d, session uses %d", ErrOutsideZone, lat, lon, zone, u.zone)
	}
	if u.locked && southern != u.southern {
		return 0, 0, fmt.Errorf("%w: (%.6f, %.6f) crosses the equator", ErrOutsideZone, lat, lon)
	}
	if !u.locked {
		u.band, u.southern, u.locked = band, southern, true
	}
	return e, n, nil
}

// MercatorProjector uses spherical web Mercator scaled by cos(lat0) of the
// first fix, which keeps distances near the survey site close to meters.
type MercatorProjector struct {
	scale  float64
	locked bool
}

// Project converts lat/lon to locally scaled Mercator meters.
func (m *MercatorProjector) Project(lat, lon float64) (float64, float64, error) {
	if !finite(lat) || !finite(lon) {
		return 0, 0, fmt.Errorf("mercator: non-finite coordinate (%v, %v)", lat, lon)
	}
	if math.Abs(lat) >= 85.05112878 {
		return 0, 0, fmt.Errorf("mercator: latitude %.6f outside projection", lat)
	}
	if !m.locked {
		m.scale = math.Cos(lat * math.Pi / 180)
		m.locked = true
	}
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p.X() * m.scale, p.Y() * m.scale, nil
}
