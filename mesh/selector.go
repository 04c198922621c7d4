package mesh

// Decision is the selector's verdict for one sonar event.
type Decision int

const (
	// Skip drops the frame and keeps consuming the stream.
	Skip Decision = iota
	// Process sends the frame through decode, projection and transform.
	Process
	// Stop ends stream consumption; the frame is not processed.
	Stop
)

func (d Decision) String() string {
	switch d {
	case Process:
		return "process"
	case Stop:
		return "stop"
	}
	return "skip"
}

// FrameSelector gates sonar frames on pose readiness, a skip stride and an
// optional cap on accepted frames.
//
// The stride counts every raw frame seen while the pose was complete, and
// frames N, 2N, 3N... of that count are accepted. With a cap of K, the
// (K+1)-th accepted frame stops the stream.
type FrameSelector struct {
	stride  int
	cap     int
	hasCap  bool
	counted bool // whether accepted frames consume cap slots here

	raw      int
	accepted int
	skipped  int
}

// NewFrameSelector creates a selector. stride must be >= 1. When
// countAccepted is false the cap is not enforced by Offer and callers use
// Reached after counting successfully decoded frames themselves.
func NewFrameSelector(stride int, cap *int, countAccepted bool) *FrameSelector {
	if stride < 1 {
		stride = 1
	}
	s := &FrameSelector{stride: stride, counted: countAccepted}
	if cap != nil {
		s.cap, s.hasCap = *cap, true
	}
	return s
}

// Offer decides what to do with the next sonar event.
func (s *FrameSelector) Offer(poseComplete bool) Decision {
	if !poseComplete {
		s.skipped++
		return Skip
	}
	s.raw++
	if s.raw%s.stride != 0 {
		return Skip
	}
	if s.counted && s.hasCap && s.accepted >= s.cap {
		return Stop
	}
	s.accepted++
	return Process
}

// Reached reports whether n processed frames fill the cap.
func (s *FrameSelector) Reached(n int) bool {
	return s.hasCap && n >= s.cap
}

// Raw returns the number of sonar events seen with a complete pose.
func (s *FrameSelector) Raw() int { return s.raw }

// Accepted returns the number of frames handed to processing.
func (s *FrameSelector) Accepted() int { return s.accepted }

// Gated returns the number of sonar events dropped for an incomplete pose.
func (s *FrameSelector) Gated() int { return s.skipped }
