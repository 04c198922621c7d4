package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTMProjector_KnownPoints(t *testing.T) {
	tests := []struct {
		name         string
		lat, lon     float64
		wantEasting  float64
		wantNorthing float64
		wantZone     int
	}{
		{"central meridian on equator", 0, 3, 500000, 0, 31},
		{"western germany", 51.2, 7.5, 395201.31, 5673135.24, 32},
		{"southern hemisphere", -33.8688, 151.2093, 334368.63, 6250948.35, 56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &UTMProjector{}
			e, n, err := p.Project(tt.lat, tt.lon)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantEasting, e, 0.5)
			assert.InDelta(t, tt.wantNorthing, n, 0.5)
			assert.Equal(t, tt.wantZone, p.Zone())
		})
	}
}

func TestUTMProjector_ZoneLockedAtFirstFix(t *testing.T) {
	p := &UTMProjector{}
	e1, _, err := p.Project(10, 5.999)
	require.NoError(t, err)
	assert.Equal(t, 31, p.Zone())
	assert.Equal(t, "P", p.Band())

	e2, _, err := p.Project(10, 5.9995)
	require.NoError(t, err)
	assert.InDelta(t, 0.0005*111320*math.Cos(10*math.Pi/180), e2-e1, 1.0)

	// zone 32 starts at 6 E
	_, _, err = p.Project(10, 6.001)
	assert.ErrorIs(t, err, ErrOutsideZone)
	assert.Equal(t, 31, p.Zone())

	_, _, err = p.Project(10, 5.998)
	assert.NoError(t, err, "fixes back inside the zone are accepted again")
}

func TestUTMProjector_HemisphereLocked(t *testing.T) {
	p := &UTMProjector{}
	_, n, err := p.Project(-0.001, 3)
	require.NoError(t, err)
	assert.True(t, p.Southern())
	assert.InDelta(t, 10000000-110.6, n, 1.0)

	_, _, err = p.Project(0.001, 3)
	assert.ErrorIs(t, err, ErrOutsideZone)
}

func TestUTMProjector_ConfiguredZone(t *testing.T) {
	p := &UTMProjector{zone: 32}
	_, _, err := p.Project(51.2, 7.5)
	require.NoError(t, err)

	_, _, err = p.Project(51.2, 5.5)
	assert.ErrorIs(t, err, ErrOutsideZone)
	assert.Equal(t, 32, p.Zone())
}

func TestUTMProjector_Rejects(t *testing.T) {
	p := &UTMProjector{}
	for _, c := range [][2]float64{{85, 0}, {-81, 0}, {0, 181}, {math.NaN(), 0}} {
		_, _, err := p.Project(c[0], c[1])
		assert.Error(t, err, "lat=%v lon=%v", c[0], c[1])
	}
	assert.Equal(t, 0, p.Zone(), "failed fixes must not lock the zone")
}

func TestNewProjector(t *testing.T) {
	p, err := NewProjector("", 0)
	require.NoError(t, err)
	assert.IsType(t, &UTMProjector{}, p)

	p, err = NewProjector("utm", 33)
	require.NoError(t, err)
	assert.Equal(t, 33, p.(*UTMProjector).Zone())

	p, err = NewProjector("mercator", 0)
	require.NoError(t, err)
	assert.IsType(t, &MercatorProjector{}, p)

	_, err = NewProjector("lambert", 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewProjector("utm", 61)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMercatorProjector_LocalScale(t *testing.T) {
	p := &MercatorProjector{}
	e1, n1, err := p.Project(51.2, 7.5)
	require.NoError(t, err)
	e2, n2, err := p.Project(51.2+0.001, 7.5+0.001)
	require.NoError(t, err)

	// compare against the UTM distance over the same ~100 m step
	u := &UTMProjector{}
	ue1, un1, _ := u.Project(51.2, 7.5)
	ue2, un2, _ := u.Project(51.2+0.001, 7.5+0.001)

	assert.InDelta(t, math.Hypot(ue2-ue1, un2-un1), math.Hypot(e2-e1, n2-n1), 0.5)

	_, _, err = p.Project(89, 0)
	assert.Error(t, err)
}
