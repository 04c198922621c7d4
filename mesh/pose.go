package mesh

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// PoseTracker holds the latest vehicle pose built from navigation events.
// It has a single writer (the stream consumer) and keeps no history apart
// from the projected track used for map overlays.
type PoseTracker struct {
	projector Projector
	pose      Pose
	track     orb.LineString
}

// NewPoseTracker creates a tracker projecting fixes with projector.
func NewPoseTracker(projector Projector) *PoseTracker {
	return &PoseTracker{projector: projector}
}

// Update overwrites the pose fields carried by ev. Non-navigation events are
// ignored. A fix that cannot be projected leaves the pose unchanged.
func (t *PoseTracker) Update(ev Event) error {
	switch ev.Kind {
	case EventNavFix:
		e, n, err := t.projector.Project(ev.Lat, ev.Lon)
		if err != nil {
			return fmt.Errorf("project fix: %w", err)
		}
		t.pose.Easting, t.pose.Northing = e, n
		t.pose.HasPosition = true
		t.track = append(t.track, orb.Point{e, n})
	case EventHeading:
		if !finite(ev.Value) {
			return fmt.Errorf("heading: non-finite value %v", ev.Value)
		}
		t.pose.Heading = NormalizeAngle(ev.Value)
		t.pose.HasHeading = true
	case EventAltitude:
		if !finite(ev.Value) {
			return fmt.Errorf("altitude: non-finite value %v", ev.Value)
		}
		t.pose.Depth = ev.Value
		t.pose.HasDepth = true
	}
	return nil
}

// Snapshot returns the current pose by value.
func (t *PoseTracker) Snapshot() Pose {
	return t.pose
}

// IsComplete reports whether all pose fields have been observed.
func (t *PoseTracker) IsComplete() bool {
	return t.pose.Complete()
}

// Track returns a copy of the projected vehicle track.
func (t *PoseTracker) Track() orb.LineString {
	return t.track.Clone()
}

// SimplifyTrack reduces a track with Douglas-Peucker using tolerance in
// meters. Tracks with fewer than three points are returned unchanged.
func SimplifyTrack(track orb.LineString, tolerance float64) orb.LineString {
	if len(track) < 3 || tolerance <= 0 {
		return track.Clone()
	}
	simplified := simplify.DouglasPeucker(tolerance).Simplify(track.Clone())
	result, ok := simplified.(orb.LineString)
	if !ok || len(result) < 2 {
		return track.Clone()
	}
	return result
}

// TrackLength returns the planar length of a track in meters.
func TrackLength(track orb.LineString) float64 {
	return planar.Length(track)
}
