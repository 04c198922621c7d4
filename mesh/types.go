package mesh

import (
	"math"
	"time"
)

// Point represents a 2D coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// Pose is the latest known vehicle state. Fields are only meaningful once the
// matching Has* flag is set; a Pose is complete when all four are.
type Pose struct {
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
	Heading  float64 `json:"heading"` // degrees
	Depth    float64 `json:"depth"`

	HasPosition bool `json:"hasPosition"`
	HasHeading  bool `json:"hasHeading"`
	HasDepth    bool `json:"hasDepth"`
}

// Complete reports whether easting, northing, heading and depth have all been observed.
func (p Pose) Complete() bool {
	return p.HasPosition && p.HasHeading && p.HasDepth
}

// PolarFrame is one decoded ping in sensor polar form. Intensity is stored
// row-major: row = range index, column = beam index.
type PolarFrame struct {
	NRanges   int       `json:"nRanges"`
	NBeams    int       `json:"nBeams"`
	Intensity []float64 `json:"-"`
	Bearings  []float64 `json:"bearings"` // radians, per beam
	Ranges    []float64 `json:"ranges"`   // meters, per range row
	Gains     []float64 `json:"gains"`    // per range row, already applied to Intensity
}

// At returns the intensity at range row r and beam b.
func (f *PolarFrame) At(r, b int) float64 {
	return f.Intensity[r*f.NBeams+b]
}

// MaxRange returns the largest range in the ranging table.
func (f *PolarFrame) MaxRange() float64 {
	if len(f.Ranges) == 0 {
		return 0
	}
	return f.Ranges[len(f.Ranges)-1]
}

// CartesianFrame holds local sensor-frame coordinates for every pixel. All
// three slices have Width*Height entries, row-major. Pixels with NaN
// intensity carry no data (outside the sonar fan).
type CartesianFrame struct {
	Width     int
	Height    int
	Intensity []float64
	X         []float64 // meters, +x starboard
	Y         []float64 // meters, +y forward
}

// Len returns the number of pixels in the frame.
func (f *CartesianFrame) Len() int {
	return len(f.Intensity)
}

// WorldSamples is a batch of world-frame samples in parallel slices.
type WorldSamples struct {
	X         []float64
	Y         []float64
	Intensity []float64
}

// Len returns the number of samples in the batch.
func (w WorldSamples) Len() int {
	return len(w.X)
}

// Append adds a single sample to the batch.
func (w *WorldSamples) Append(x, y, intensity float64) {
	w.X = append(w.X, x)
	w.Y = append(w.Y, y)
	w.Intensity = append(w.Intensity, intensity)
}

// finite reports whether v is neither NaN nor infinite.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Counters tracks how the frame selector and pipeline treated sonar events.
type Counters struct {
	Events         int  `json:"events"`
	NavEvents      int  `json:"navEvents"`
	NavRejected    int  `json:"navRejected"` // navigation events that could not update the pose
	SonarEvents    int  `json:"sonarEvents"`
	PoseIncomplete int  `json:"poseIncomplete"` // sonar events seen before the pose was complete
	RawFrames      int  `json:"rawFrames"`      // sonar events seen with a complete pose
	Accepted       int  `json:"accepted"`       // frames that passed the stride and cap
	DecodeFailures int  `json:"decodeFailures"`
	Processed      int  `json:"processed"` // frames that contributed samples
	Samples        int  `json:"samples"`
	StoppedAtCap   bool `json:"stoppedAtCap"`
}

// Progress is a snapshot of a running pipeline.
type Progress struct {
	RunID     string    `json:"runId"`
	Counters  Counters  `json:"counters"`
	Pose      Pose      `json:"pose"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicConfig maps log topics to event kinds
type TopicConfig struct {
	Position string `yaml:"position" json:"position"`
	Heading  string `yaml:"heading" json:"heading"`
	Altitude string `yaml:"altitude" json:"altitude"`
	Sonar    string `yaml:"sonar" json:"sonar"`
	Camera   string `yaml:"camera,omitempty" json:"camera,omitempty"`
}

// RenderConfig controls the output artifact
type RenderConfig struct {
	Format         string   `yaml:"format" json:"format"`                                     // "plot", "image", "svg", "geojson"
	MinIntensity   *float64 `yaml:"minIntensity,omitempty" json:"minIntensity,omitempty"`     // Optional fixed lower end of the colour scale
	MaxIntensity   *float64 `yaml:"maxIntensity,omitempty" json:"maxIntensity,omitempty"`     // Optional fixed upper end of the colour scale
	ClipPercentile float64  `yaml:"clipPercentile,omitempty" json:"clipPercentile,omitempty"` // Clip colour scale to [p, 100-p] percentiles
	PixelsPerCell  int      `yaml:"pixelsPerCell,omitempty" json:"pixelsPerCell,omitempty"`   // Image renderer cell size (default 2)
	GridSpacing    float64  `yaml:"gridSpacing,omitempty" json:"gridSpacing,omitempty"`       // SVG grid spacing in meters (default 10)
	Track          bool     `yaml:"track" json:"track"`                                       // Overlay the vehicle track
	Title          string   `yaml:"title,omitempty" json:"title,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	PublishImage  bool   `yaml:"publishImage,omitempty" json:"publishImage,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	Input      string  `yaml:"input" json:"input"`
	Output     string  `yaml:"output" json:"output"`
	Resolution float64 `yaml:"resolution" json:"resolution"`
	MaxFrames  *int    `yaml:"maxFrames,omitempty" json:"maxFrames,omitempty"` // nil = unbounded
	SkipFrames int     `yaml:"skipFrames" json:"skipFrames"`
	Workers    int     `yaml:"workers" json:"workers"`

	HeadingConvention       string `yaml:"headingConvention" json:"headingConvention"` // "math" or "compass"
	Projection              string `yaml:"projection" json:"projection"`               // "utm" or "mercator"
	UTMZone                 int    `yaml:"utmZone,omitempty" json:"utmZone,omitempty"` // 0 = from first fix
	Accumulator             string `yaml:"accumulator" json:"accumulator"`             // "buffered" or "sparse"
	Binning                 string `yaml:"binning" json:"binning"`                     // "extend" or "histogram"
	Projector               string `yaml:"projector" json:"projector"`                 // "direct" or "resample"
	CartesianWidth          int    `yaml:"cartesianWidth" json:"cartesianWidth"`
	CapCountsDecodeFailures bool   `yaml:"capCountsDecodeFailures" json:"capCountsDecodeFailures"`
	MaxCells                int    `yaml:"maxCells" json:"maxCells"`
	ProgressEvery           int    `yaml:"progressEvery" json:"progressEvery"`

	Topics TopicConfig  `yaml:"topics" json:"topics"`
	Render RenderConfig `yaml:"render" json:"render"`
	MQTT   MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	Store  string       `yaml:"store,omitempty" json:"store,omitempty"` // SQLite path; empty disables persistence
}

// Cap returns the configured frame cap and whether one is set.
func (c *Config) Cap() (int, bool) {
	if c.MaxFrames == nil {
		return 0, false
	}
	return *c.MaxFrames, true
}
