package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/paulmach/orb"
)

// Summary is the retained end-of-run message.
type Summary struct {
	RunID      string        `json:"runId"`
	Input      string        `json:"input"`
	Output     string        `json:"output,omitempty"`
	Counters   Counters      `json:"counters"`
	Stats      RasterStats   `json:"stats"`
	Resolution float64       `json:"resolution"`
	Size       [2]int        `json:"size"`
	Bounds     orb.Bound     `json:"bounds"`
	Track      float64       `json:"trackLength"`  // meters
	Area       float64       `json:"coverageArea"` // square meters
	Duration   time.Duration `json:"durationNs"`
	Finished   int64         `json:"finished"`
	Error      string        `json:"error,omitempty"`
}

// NewSummary describes a finished run. err is the run error, if any.
func NewSummary(input, output string, res *Result, err error) Summary {
	s := Summary{Input: input, Output: output, Finished: time.Now().Unix()}
	if err != nil {
		s.Error = err.Error()
	}
	if res == nil {
		return s
	}
	s.RunID = res.RunID
	s.Counters = res.Counters
	s.Duration = res.Duration
	s.Track = TrackLength(res.Track)
	if r := res.Raster; r != nil {
		s.Stats = r.Stats()
		s.Resolution = r.Resolution
		s.Size = [2]int{r.Nx, r.Ny}
		s.Bounds = r.Bounds
		s.Area = CoverageArea(VectorizeCoverage(r))
	}
	return s
}

// Publisher publishes run progress, the run summary and the rendered map.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	timeout       time.Duration
	last          *Progress
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. MQTT_PUBLISH_PREFIX overrides prefix;
// an empty prefix falls back to "seabedmesh". A nil client disables
// publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "seabedmesh"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		timeout:       2 * time.Second,
	}
}

// Topic returns the full topic for suffix.
func (p *Publisher) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.publishPrefix, suffix)
}

func (p *Publisher) publish(suffix string, retain bool, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := p.Topic(suffix)
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(p.timeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// PublishProgress publishes a progress snapshot to {prefix}/progress. It is
// not retained.
func (p *Publisher) PublishProgress(progress Progress) error {
	p.mu.Lock()
	p.last = &progress
	p.mu.Unlock()

	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	return p.publish("progress", false, payload)
}

// PublishSummary publishes the retained run summary to {prefix}/summary.
func (p *Publisher) PublishSummary(s Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := p.publish("summary", true, payload); err != nil {
		return err
	}
	log.Printf("[MQTT] Published summary for run %s (%d frames, %d cells covered)",
		s.RunID, s.Counters.Processed, s.Stats.Covered)
	return nil
}

// PublishImage publishes a rendered map as a retained message on
// {prefix}/map.
func (p *Publisher) PublishImage(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty map image")
	}
	return p.publish("map", true, data)
}

// LastProgress returns the most recent progress handed to PublishProgress.
func (p *Publisher) LastProgress() (Progress, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Progress{}, false
	}
	return *p.last, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}
