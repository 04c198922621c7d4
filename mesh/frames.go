package mesh

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"
)

// FrameExtractor writes every decodable sonar ping as a Cartesian grayscale
// PNG named by the time elapsed since the first ping.
type FrameExtractor struct {
	Dir     string
	Width   int // resampled width in pixels
	Scale   int // integer upscale factor applied after resampling
	Decoder FrameDecoder

	start   time.Time
	seq     int
	written int
	failed  int
}

// NewFrameExtractor creates an extractor writing into dir.
func NewFrameExtractor(dir string, width int) *FrameExtractor {
	if width <= 0 {
		width = DefaultCartesianWidth
	}
	return &FrameExtractor{Dir: dir, Width: width, Scale: 1, Decoder: DecodeOculusPing}
}

// Written returns the number of frames written.
func (x *FrameExtractor) Written() int { return x.written }

// Failed returns the number of pings that could not be decoded.
func (x *FrameExtractor) Failed() int { return x.failed }

// FrameName returns the file name for a ping seq recorded elapsed after
// the first one.
func FrameName(elapsed time.Duration, seq int) string {
	secs := int(elapsed / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("oculus_frame_%d_min_%d_sec_%05d.png", secs/60, secs%60, seq)
}

// Extract writes ev as a frame. Non-sonar events are ignored and pings that
// fail to decode are counted and skipped; only I/O failures are errors.
func (x *FrameExtractor) Extract(ev Event) error {
	if ev.Kind != EventSonar {
		return nil
	}
	if x.start.IsZero() {
		x.start = ev.Time
	}
	seq := x.seq
	x.seq++

	frame := x.Decoder(ev.Payload)
	if frame == nil {
		x.failed++
		return nil
	}
	cart := ResamplePolar(frame, x.Width)
	if cart.Width == 0 || cart.Height == 0 {
		x.failed++
		return nil
	}
	img := CartesianImage(cart)
	if x.Scale > 1 {
		b := img.Bounds()
		scaled := image.NewGray(image.Rect(0, 0, b.Dx()*x.Scale, b.Dy()*x.Scale))
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
		img = scaled
	}

	path := filepath.Join(x.Dir, FrameName(ev.Time.Sub(x.start), seq))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode frame %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	x.written++
	return nil
}

// Run extracts every sonar event from src until EOF.
func (x *FrameExtractor) Run(ctx context.Context, src EventSource) error {
	if err := os.MkdirAll(x.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create frame directory: %w", err)
	}
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := x.Extract(ev); err != nil {
			return err
		}
	}
	log.Printf("[FRAMES] Wrote %d frames to %s (%d undecodable)", x.written, x.Dir, x.failed)
	return nil
}

// CartesianImage converts a Cartesian frame to 8-bit grayscale, scaled so
// the brightest pixel is white. Pixels outside the fan are black.
func CartesianImage(frame *CartesianFrame) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
	peak := 0.0
	for _, v := range frame.Intensity {
		if finite(v) && v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return img
	}
	for i, v := range frame.Intensity {
		if !finite(v) || v <= 0 {
			continue
		}
		g := uint8(math.Round(255 * v / peak))
		img.SetGray(i%frame.Width, i/frame.Width, color.Gray{Y: g})
	}
	return img
}
