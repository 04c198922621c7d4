package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a completed run.
type Result struct {
	RunID    string         `json:"runId"`
	Counters Counters       `json:"counters"`
	Raster   *Raster        `json:"raster"`
	Track    orb.LineString `json:"-"`
	Pose     Pose           `json:"pose"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration"`
}

// Pipeline turns an ordered event stream into a raster. The stream is read
// by a single goroutine which owns the pose tracker and the frame selector;
// decoding, projection and transformation of accepted frames run on a worker
// pool, and their samples are accumulated in stream order.
type Pipeline struct {
	Decoder   FrameDecoder
	Projector FrameProjector
	Tracker   *PoseTracker
	Gridder   Gridder

	// OnProgress, when set, is called from the accumulating goroutine every
	// progressEvery processed frames.
	OnProgress func(Progress)

	resolution    float64
	conv          HeadingConvention
	selector      *FrameSelector
	capOnDecoded  bool
	maxFrames     int
	workers       int
	progressEvery int
}

// NewPipeline validates cfg and wires the default Oculus decoder, the
// configured projector, tracker and accumulator.
func NewPipeline(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conv, _ := ParseHeadingConvention(cfg.HeadingConvention)
	geo, err := NewProjector(cfg.Projection, cfg.UTMZone)
	if err != nil {
		return nil, err
	}
	proj, err := NewFrameProjector(cfg.Projector, cfg.CartesianWidth)
	if err != nil {
		return nil, err
	}
	gridder, err := NewGridder(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Decoder:       DecodeOculusPing,
		Projector:     proj,
		Tracker:       NewPoseTracker(geo),
		Gridder:       gridder,
		resolution:    cfg.Resolution,
		conv:          conv,
		selector:      NewFrameSelector(cfg.SkipFrames, cfg.MaxFrames, cfg.CapCountsDecodeFailures),
		workers:       cfg.Workers,
		progressEvery: cfg.ProgressEvery,
	}
	if n, ok := cfg.Cap(); ok && !cfg.CapCountsDecodeFailures {
		p.capOnDecoded = true
		p.maxFrames = n
	}
	return p, nil
}

// job is one accepted frame with the pose captured when it was dispatched.
type job struct {
	seq     int
	payload []byte
	pose    Pose
	seen    Counters
	out     chan frameResult
}

type frameResult struct {
	seq     int
	pose    Pose
	seen    Counters
	samples WorldSamples
	failed  bool
}

// Run consumes src until it is exhausted, the frame cap is reached or ctx is
// cancelled, then finalizes the raster. When no frame contributed samples it
// returns ErrEmptyInput together with a Result that carries the counters but
// no raster. A Pipeline runs once.
func (p *Pipeline) Run(ctx context.Context, src EventSource) (*Result, error) {
	res := &Result{RunID: uuid.New().String(), Started: time.Now()}

	g, gctx := errgroup.WithContext(ctx)
	// stopCtx ends stream consumption once the decoded-frame cap is met
	stopCtx, stop := context.WithCancel(gctx)
	defer stop()

	jobs := make(chan job, p.workers)
	ordered := make(chan chan frameResult, 2*p.workers)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				j.out <- p.process(j)
			}
			return nil
		})
	}

	var collected Counters
	// stream counters as they stood when the capping frame was read
	var atCap Counters
	g.Go(func() error {
		for out := range ordered {
			r := <-out
			if collected.StoppedAtCap {
				continue
			}
			if r.failed {
				collected.DecodeFailures++
				continue
			}
			p.Gridder.Add(r.samples)
			collected.Processed++
			collected.Samples += r.samples.Len()

			if p.progressEvery > 0 && collected.Processed%p.progressEvery == 0 {
				log.Printf("[PIPELINE] Processed %d sonar frames so far...", collected.Processed)
				if p.OnProgress != nil {
					prog := Progress{RunID: res.RunID, Counters: mergeCounters(r.seen, collected), Pose: r.pose, Timestamp: time.Now()}
					p.OnProgress(prog)
				}
			}
			if p.capOnDecoded && collected.Processed >= p.maxFrames {
				log.Printf("[PIPELINE] Reached max frames limit (%d). Stopping processing.", p.maxFrames)
				collected.StoppedAtCap = true
				atCap = r.seen
				stop()
			}
		}
		return nil
	})

	var seen Counters
	readErr := p.consume(stopCtx, src, &seen, jobs, ordered)
	close(jobs)
	close(ordered)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if readErr != nil && !(errors.Is(readErr, context.Canceled) && ctx.Err() == nil) {
		return nil, readErr
	}

	if collected.StoppedAtCap {
		// the reader runs ahead of the collector by a worker-dependent margin
		seen = atCap
	}
	res.Counters = mergeCounters(seen, collected)
	res.Track = p.Tracker.Track()
	res.Pose = p.Tracker.Snapshot()
	log.Printf("[PIPELINE] Finished reading. Total sonar frames processed: %d (raw %d, accepted %d, decode failures %d)",
		res.Counters.Processed, res.Counters.RawFrames, res.Counters.Accepted, res.Counters.DecodeFailures)

	if res.Counters.Processed == 0 || p.Gridder.Len() == 0 {
		res.Duration = time.Since(res.Started)
		return res, fmt.Errorf("%w: %d sonar events, %d with complete pose, %d processed",
			ErrEmptyInput, seen.SonarEvents, seen.RawFrames, res.Counters.Processed)
	}

	log.Printf("[PIPELINE] Building 2D map from %d samples at %.3f m resolution...", p.Gridder.Len(), p.resolution)
	raster, err := p.Gridder.Finalize(p.resolution)
	if err != nil {
		return nil, fmt.Errorf("finalizing raster: %w", err)
	}
	res.Raster = raster
	res.Duration = time.Since(res.Started)
	return res, nil
}

// consume reads the stream on the calling goroutine. The pose snapshot for a
// frame is taken here, before the frame is handed to a worker.
func (p *Pipeline) consume(ctx context.Context, src EventSource, seen *Counters, jobs chan<- job, ordered chan<- chan frameResult) error {
	seq := 0
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading events: %w", err)
		}
		seen.Events++

		switch {
		case ev.Kind.IsNavigation():
			seen.NavEvents++
			if err := p.Tracker.Update(ev); err != nil {
				seen.NavRejected++
				log.Printf("[PIPELINE] Ignoring %s event at %s: %v", ev.Kind, ev.Time.Format(time.RFC3339), err)
			}
			continue
		case ev.Kind != EventSonar:
			continue
		}

		seen.SonarEvents++
		complete := p.Tracker.IsComplete()
		decision := p.selector.Offer(complete)
		seen.PoseIncomplete = p.selector.Gated()
		seen.RawFrames = p.selector.Raw()
		if decision == Stop {
			seen.StoppedAtCap = true
			log.Printf("[PIPELINE] Reached max frames limit (%d). Stopping processing.", p.selector.Accepted())
			return nil
		}
		if decision == Skip {
			continue
		}
		seen.Accepted = p.selector.Accepted()

		seq++
		j := job{seq: seq, payload: ev.Payload, pose: p.Tracker.Snapshot(), seen: *seen, out: make(chan frameResult, 1)}
		select {
		case ordered <- j.out:
		case <-ctx.Done():
			return ctx.Err()
		}
		// the collector is already waiting on j.out, so this send must not be abandoned
		jobs <- j
	}
}

// process runs decode, projection and transform for one frame.
func (p *Pipeline) process(j job) frameResult {
	r := frameResult{seq: j.seq, pose: j.pose, seen: j.seen}
	frame := p.Decoder(j.payload)
	if frame == nil {
		r.failed = true
		return r
	}
	cart := p.Projector(frame)
	samples, err := TransformFrame(cart, j.pose, p.conv)
	if err != nil {
		log.Printf("[PIPELINE] Dropping frame %d: %v", j.seq, err)
		r.failed = true
		return r
	}
	r.samples = samples
	return r
}

// mergeCounters combines the stream-side counters with the accumulation side.
func mergeCounters(seen, collected Counters) Counters {
	out := seen
	out.DecodeFailures = collected.DecodeFailures
	out.Processed = collected.Processed
	out.Samples = collected.Samples
	out.StoppedAtCap = seen.StoppedAtCap || collected.StoppedAtCap
	return out
}
