package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line. Pointer fields are nil unless the
// flag was given, so they only override the config file when set.
type AppOptions struct {
	ConfigFile string
	Input      string
	Output     string
	Format     string
	Store      string

	Resolution *float64
	MaxFrames  *int
	SkipFrames *int
	Workers    *int

	ListTopics    bool
	ListRuns      bool
	RenderRun     string
	ExtractFrames string
	FrameWidth    int
	ExtractVideo  string
	Framerate     int

	HttpMode bool
	HttpPort int
	MqttMode bool
}

// appRunner is implemented by App; tests substitute a recorder.
type appRunner interface {
	ApplyOptions(opts AppOptions)
	RunMap()
	RunTopics()
	RunListRuns()
	RunRenderStored(runID string)
	RunExtractFrames()
	RunExtractVideo()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("%v", err)
	}
}

func run(args []string, out io.Writer, app appRunner) error {
	fs := flag.NewFlagSet("seabedmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", defaultConfigFile, "Path to configuration file")
	fs.StringVar(&opts.Input, "input", "", "Path or http(s) URL of the recorded session (.bag)")
	fs.StringVar(&opts.Output, "output", "", "Output map file (overrides config output)")
	fs.StringVar(&opts.Format, "format", "", "Render format: plot, image, svg or geojson (default from output extension)")
	fs.StringVar(&opts.Store, "db", "", "SQLite database for run history (default from config)")
	resolution := fs.Float64("resolution", 0, "Raster cell size in meters")
	maxFrames := fs.Int("max-frames", 0, "Stop after this many accepted sonar frames")
	skipFrames := fs.Int("skip-frames", 0, "Keep every Nth sonar frame (1 keeps all)")
	workers := fs.Int("workers", 0, "Number of frame processing workers")

	fs.BoolVar(&opts.ListTopics, "topics", false, "List the connections in the input and exit")
	fs.BoolVar(&opts.ListRuns, "list-runs", false, "List stored runs and exit")
	fs.StringVar(&opts.RenderRun, "render-run", "", "Render a stored run by ID and exit")
	fs.StringVar(&opts.ExtractFrames, "extract-frames", "", "Write every sonar ping as a PNG into this directory and exit")
	fs.IntVar(&opts.FrameWidth, "frame-width", 0, "Width in pixels of extracted frames (default from config)")
	fs.StringVar(&opts.ExtractVideo, "extract-video", "", "Mux the camera stream into this video file with ffmpeg and exit")
	fs.IntVar(&opts.Framerate, "framerate", 30, "Framerate for --extract-video")

	fs.BoolVar(&opts.HttpMode, "http", false, "Serve status and the finished map over HTTP until interrupted")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish progress and the run summary over MQTT (requires a broker)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "resolution":
			opts.Resolution = resolution
		case "max-frames":
			opts.MaxFrames = maxFrames
		case "skip-frames":
			opts.SkipFrames = skipFrames
		case "workers":
			opts.Workers = workers
		}
	})

	fmt.Fprintf(out, "seabedmesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ListRuns:
		app.RunListRuns()
	case opts.RenderRun != "":
		app.RunRenderStored(opts.RenderRun)
	case opts.ListTopics:
		app.RunTopics()
	case opts.ExtractFrames != "":
		app.RunExtractFrames()
	case opts.ExtractVideo != "":
		app.RunExtractVideo()
	default:
		app.RunMap()
	}
	return nil
}
