package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
)

// FFmpegArgs returns the arguments that mux a raw H.265 stream from stdin
// into output without re-encoding.
func FFmpegArgs(output string, framerate int) []string {
	return []string{
		"-y",
		"-f", "hevc",
		"-framerate", fmt.Sprint(framerate),
		"-i", "pipe:0",
		"-c", "copy",
		output,
	}
}

// VideoWriter pipes compressed camera payloads into an external muxer.
type VideoWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames int
	bytes  int64
}

// NewVideoWriter starts name with args, reading payloads on its stdin.
func NewVideoWriter(ctx context.Context, name string, args ...string) (*VideoWriter, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stdin: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return &VideoWriter{cmd: cmd, stdin: stdin}, nil
}

// Write sends one payload.
func (v *VideoWriter) Write(payload []byte) error {
	n, err := v.stdin.Write(payload)
	v.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write video frame: %w", err)
	}
	v.frames++
	return nil
}

// Frames returns the number of payloads written.
func (v *VideoWriter) Frames() int { return v.frames }

// Close finishes the stream and waits for the muxer to exit.
func (v *VideoWriter) Close() error {
	closeErr := v.stdin.Close()
	if err := v.cmd.Wait(); err != nil {
		return fmt.Errorf("video muxer failed: %w", err)
	}
	return closeErr
}

// ExtractVideo writes the payload of every camera event in src to w.
// Events on other topics are ignored.
func ExtractVideo(ctx context.Context, src EventSource, w *VideoWriter) error {
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if ev.Kind != EventCamera || len(ev.Payload) == 0 {
			continue
		}
		if err := w.Write(ev.Payload); err != nil {
			return err
		}
	}
	log.Printf("[VIDEO] Wrote %d camera frames (%d bytes)", w.frames, w.bytes)
	return nil
}
