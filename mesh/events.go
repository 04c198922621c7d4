package mesh

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"
)

// EventKind identifies what a log event carries.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventNavFix
	EventHeading
	EventAltitude
	EventSonar
	EventCamera
)

func (k EventKind) String() string {
	switch k {
	case EventNavFix:
		return "navfix"
	case EventHeading:
		return "heading"
	case EventAltitude:
		return "altitude"
	case EventSonar:
		return "sonar"
	case EventCamera:
		return "camera"
	}
	return "unknown"
}

// IsNavigation reports whether the event updates the pose.
func (k EventKind) IsNavigation() bool {
	return k == EventNavFix || k == EventHeading || k == EventAltitude
}

// Event is one timestamped, topic-tagged entry of a recorded session.
// Lat/Lon are set for EventNavFix, Value for EventHeading (degrees) and
// EventAltitude (meters), Payload for EventSonar and EventCamera.
type Event struct {
	Kind    EventKind
	Topic   string
	Time    time.Time
	Lat     float64
	Lon     float64
	Value   float64
	Payload []byte
	Format  string // image format for EventCamera
}

// EventSource is an ordered stream of events. Next returns io.EOF once the
// stream is exhausted.
type EventSource interface {
	Next(ctx context.Context) (Event, error)
}

// SliceSource replays a fixed list of events.
type SliceSource struct {
	events []Event
	pos    int
}

// NewSliceSource creates a source over events.
func NewSliceSource(events []Event) *SliceSource {
	return &SliceSource{events: events}
}

// Next returns the next event or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// DefaultTopics returns the topic names recorded by the BlueROV2 + Oculus setup.
func DefaultTopics() TopicConfig {
	return TopicConfig{
		Position: "/bluerov2/mavros/global_position/global",
		Heading:  "/bluerov2/mavros/global_position/compass_hdg",
		Altitude: "/bluerov2/mavros/global_position/rel_alt",
		Sonar:    "/oculus/raw_data",
		Camera:   "/oak_d_lite/rgb/image_color/h265",
	}
}

// kindFor maps a topic to its event kind.
func (t TopicConfig) kindFor(topic string) EventKind {
	switch topic {
	case "":
		return EventUnknown
	case t.Position:
		return EventNavFix
	case t.Heading:
		return EventHeading
	case t.Altitude:
		return EventAltitude
	case t.Sonar:
		return EventSonar
	case t.Camera:
		return EventCamera
	}
	return EventUnknown
}

// BagSource turns bag messages on the configured topics into events.
// Messages on other topics are skipped, as are messages that fail to
// deserialize (logged once per topic).
type BagSource struct {
	it     *MessageIterator
	topics TopicConfig
	warned map[string]bool
}

// NewBagSource creates an event source reading bag in record order.
func NewBagSource(bag *Bag, topics TopicConfig) *BagSource {
	return &BagSource{
		it:     bag.Iterator(),
		topics: topics,
		warned: make(map[string]bool),
	}
}

// Next returns the next event on a mapped topic.
func (s *BagSource) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		msg, err := s.it.Next()
		if err != nil {
			return Event{}, err
		}
		kind := s.topics.kindFor(msg.Conn.Topic)
		if kind == EventUnknown {
			continue
		}
		ev, err := decodeEvent(kind, msg)
		if err != nil {
			if !s.warned[msg.Conn.Topic] {
				log.Printf("[BAG] Skipping undecodable %s message on %s: %v", kind, msg.Conn.Topic, err)
				s.warned[msg.Conn.Topic] = true
			}
			continue
		}
		return ev, nil
	}
}

func decodeEvent(kind EventKind, msg Message) (Event, error) {
	ev := Event{Kind: kind, Topic: msg.Conn.Topic, Time: msg.Time}
	switch kind {
	case EventNavFix:
		fix, err := DecodeNavSatFix(msg.Data)
		if err != nil {
			return ev, err
		}
		ev.Lat, ev.Lon = fix.Latitude, fix.Longitude
	case EventHeading, EventAltitude:
		v, err := DecodeFloat64(msg.Data)
		if err != nil {
			return ev, err
		}
		ev.Value = v
	case EventSonar:
		raw, err := DecodeRawData(msg.Data)
		if err != nil {
			return ev, err
		}
		ev.Payload = raw.Data
	case EventCamera:
		img, err := DecodeCompressedImage(msg.Data)
		if err != nil {
			return ev, err
		}
		ev.Payload = img.Data
		ev.Format = img.Format
	default:
		return ev, fmt.Errorf("unsupported event kind %s", kind)
	}
	return ev, nil
}
