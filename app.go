package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kwv/seabedmesh/mesh"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *mesh.Config
	State      *mesh.RunState
	MQTTClient *mesh.MQTTClient
	Publisher  *mesh.Publisher
	Store      *mesh.Store

	// CLI Flags (effectively dependencies)
	ConfigFile    string
	Input         string
	Output        string
	Format        string
	StorePath     string
	Resolution    *float64
	MaxFrames     *int
	SkipFrames    *int
	Workers       *int
	ExtractFrames string
	FrameWidth    int
	ExtractVideo  string
	Framerate     int
	HttpPort      int
	HttpMode      bool
	MqttMode      bool

	out    io.Writer
	ffmpeg string
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		ConfigFile: defaultConfigFile,
		Framerate:  30,
		HttpPort:   8080,
		out:        os.Stdout,
		ffmpeg:     "ffmpeg",
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Input = opts.Input
	a.Output = opts.Output
	a.Format = opts.Format
	a.StorePath = opts.Store
	a.Resolution = opts.Resolution
	a.MaxFrames = opts.MaxFrames
	a.SkipFrames = opts.SkipFrames
	a.Workers = opts.Workers
	a.ExtractFrames = opts.ExtractFrames
	a.FrameWidth = opts.FrameWidth
	a.ExtractVideo = opts.ExtractVideo
	a.Framerate = opts.Framerate
	a.HttpPort = opts.HttpPort
	a.HttpMode = opts.HttpMode
	a.MqttMode = opts.MqttMode
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RunMap builds the backscatter map for the configured input and writes it
// to the output file.
func (a *App) RunMap() {
	ctx, stop := signalContext()
	defer stop()
	if err := a.runMap(ctx); err != nil {
		log.Fatalf("Failed to build map: %v", err)
	}
}

// RunTopics prints the connections recorded in the input.
func (a *App) RunTopics() {
	ctx, stop := signalContext()
	defer stop()
	if err := a.runTopics(ctx); err != nil {
		log.Fatalf("Failed to list topics: %v", err)
	}
}

// RunExtractFrames writes every sonar ping of the input as a PNG.
func (a *App) RunExtractFrames() {
	ctx, stop := signalContext()
	defer stop()
	if err := a.runExtractFrames(ctx); err != nil {
		log.Fatalf("Failed to extract frames: %v", err)
	}
}

// RunExtractVideo muxes the camera stream of the input into a video file.
func (a *App) RunExtractVideo() {
	ctx, stop := signalContext()
	defer stop()
	if err := a.runExtractVideo(ctx); err != nil {
		log.Fatalf("Failed to extract video: %v", err)
	}
}

// RunListRuns prints the runs kept in the database.
func (a *App) RunListRuns() {
	if err := a.runListRuns(context.Background()); err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}
}

// RunRenderStored renders a stored run to the output file.
func (a *App) RunRenderStored(runID string) {
	if err := a.runRenderStored(context.Background(), runID); err != nil {
		log.Fatalf("Failed to render run %s: %v", runID, err)
	}
}

// loadConfig reads the config file, falling back to defaults when the
// default file is absent, and applies the command line overrides.
func (a *App) loadConfig() (*mesh.Config, error) {
	cfg := mesh.DefaultConfig()
	if a.ConfigFile != "" {
		if _, err := os.Stat(a.ConfigFile); err == nil {
			loaded, err := mesh.LoadConfig(a.ConfigFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
			log.Printf("Loaded config from %s", a.ConfigFile)
		} else if a.ConfigFile != defaultConfigFile {
			return nil, fmt.Errorf("config file not found: %s", a.ConfigFile)
		}
	}

	if a.Input != "" {
		cfg.Input = a.Input
	}
	if a.Output != "" {
		cfg.Output = a.Output
	}
	if a.Format != "" {
		cfg.Render.Format = a.Format
	}
	if a.StorePath != "" {
		cfg.Store = a.StorePath
	}
	if a.Resolution != nil {
		cfg.Resolution = *a.Resolution
	}
	if a.MaxFrames != nil {
		n := *a.MaxFrames
		cfg.MaxFrames = &n
	}
	if a.SkipFrames != nil {
		cfg.SkipFrames = *a.SkipFrames
	}
	if a.Workers != nil {
		cfg.Workers = *a.Workers
	}
	if a.FrameWidth > 0 {
		cfg.CartesianWidth = a.FrameWidth
	}

	a.Config = cfg
	return cfg, nil
}

// outputFormat picks the render format. An explicit --format wins; otherwise
// the output extension may select svg or geojson.
func (a *App) outputFormat(cfg *mesh.Config) (mesh.Format, error) {
	f, err := mesh.ParseFormat(cfg.Render.Format)
	if err != nil {
		return "", err
	}
	if a.Format != "" {
		return f, nil
	}
	return mesh.FormatForPath(cfg.Output, f), nil
}

// openInput opens the session log, downloading it first when it is remote.
// The returned func closes the bag and removes any download.
func (a *App) openInput(ctx context.Context, cfg *mesh.Config) (*mesh.Bag, func(), error) {
	input := cfg.Input
	if input == "" {
		return nil, nil, fmt.Errorf("no input given: use --input or set input in %s", a.ConfigFile)
	}

	cleanup := func() {}
	if mesh.IsRemote(input) {
		dir, err := os.MkdirTemp("", "seabedmesh-")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create download directory: %w", err)
		}
		log.Printf("Downloading %s", input)
		path, err := mesh.FetchBag(ctx, input, dir)
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		input = path
		cleanup = func() { os.RemoveAll(dir) }
	}

	bag, err := mesh.OpenBag(input)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return bag, func() {
		bag.Close()
		cleanup()
	}, nil
}

// initNotifications connects the MQTT publisher when a broker is configured.
// --mqtt makes a missing broker an error.
func (a *App) initNotifications(cfg *mesh.Config) error {
	if a.Publisher != nil {
		return nil
	}
	client, err := mesh.InitMQTT(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if client == nil {
		if a.MqttMode {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		return nil
	}
	a.MQTTClient = client
	a.Publisher = mesh.NewPublisher(client.GetClient(), cfg.MQTT.PublishPrefix)
	fmt.Fprintln(a.out, "MQTT publisher initialized")
	return nil
}

func (a *App) openStore(cfg *mesh.Config) error {
	if a.Store != nil || cfg.Store == "" {
		return nil
	}
	st, err := mesh.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	a.Store = st
	return nil
}

func (a *App) close() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}
}

func (a *App) runMap(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := a.outputFormat(cfg)
	if err != nil {
		return err
	}
	pipeline, err := mesh.NewPipeline(cfg)
	if err != nil {
		return err
	}

	if err := a.initNotifications(cfg); err != nil {
		return err
	}
	if err := a.openStore(cfg); err != nil {
		return err
	}
	defer a.close()

	a.State = mesh.NewRunState(cfg.Render)
	if a.HttpMode {
		srv := a.startHTTP()
		defer shutdownHTTP(srv)
	}

	bag, closeInput, err := a.openInput(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeInput()

	pipeline.OnProgress = func(p mesh.Progress) {
		a.State.UpdateProgress(p)
		if a.Publisher != nil {
			if err := a.Publisher.PublishProgress(p); err != nil {
				log.Printf("[MQTT] Error publishing progress: %v", err)
			}
		}
	}

	a.State.Start(cfg.Input)
	res, err := pipeline.Run(ctx, mesh.NewBagSource(bag, cfg.Topics))
	if err != nil {
		a.State.Fail(res, err)
		a.publishSummary(cfg, res, "", err)
		return err
	}
	a.State.Finish(res)

	if err := mesh.SaveMap(cfg.Output, format, res.Raster, res.Track, cfg.Render); err != nil {
		return fmt.Errorf("failed to save map: %w", err)
	}
	a.printReport(cfg, res, format)

	if a.Store != nil {
		if err := a.Store.SaveRun(ctx, mesh.NewRunRecord(cfg.Input, res), res.Raster); err != nil {
			log.Printf("Error saving run %s: %v", res.RunID, err)
		} else {
			fmt.Fprintf(a.out, "Run %s saved to %s\n", res.RunID, cfg.Store)
		}
	}
	a.publishSummary(cfg, res, cfg.Output, nil)

	if a.HttpMode {
		fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
		<-ctx.Done()
		fmt.Fprintln(a.out, "\nShutting down...")
	}
	return nil
}

func (a *App) publishSummary(cfg *mesh.Config, res *mesh.Result, output string, runErr error) {
	if a.Publisher == nil {
		return
	}
	if a.MQTTClient != nil && !a.MQTTClient.WaitConnected(5*time.Second) {
		log.Printf("[MQTT] Not connected, summary not published")
		return
	}
	if err := a.Publisher.PublishSummary(mesh.NewSummary(cfg.Input, output, res, runErr)); err != nil {
		log.Printf("[MQTT] Error publishing summary: %v", err)
	}
	if runErr != nil || !cfg.MQTT.PublishImage {
		return
	}
	img, err := a.State.RenderedMap(mesh.FormatImage)
	if err != nil {
		log.Printf("[MQTT] Error rendering map image: %v", err)
		return
	}
	if err := a.Publisher.PublishImage(img); err != nil {
		log.Printf("[MQTT] Error publishing map image: %v", err)
	}
}

func (a *App) printReport(cfg *mesh.Config, res *mesh.Result, format mesh.Format) {
	c := res.Counters
	stats := res.Raster.Stats()
	fmt.Fprintf(a.out, "\nRun %s finished in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(a.out, "Sonar frames: %d raw, %d accepted, %d processed, %d decode failures\n",
		c.RawFrames, c.Accepted, c.Processed, c.DecodeFailures)
	if c.StoppedAtCap {
		fmt.Fprintln(a.out, "Stopped at the max frames limit")
	}
	fmt.Fprintf(a.out, "Samples: %d\n", c.Samples)
	fmt.Fprintf(a.out, "Grid: %dx%d cells at %.3f m, %d covered (%.1f%%)\n",
		res.Raster.Nx, res.Raster.Ny, res.Raster.Resolution, stats.Covered, stats.Coverage*100)
	fmt.Fprintf(a.out, "Intensity: min %.2f, max %.2f, mean %.2f\n", stats.Min, stats.Max, stats.Mean)
	fmt.Fprintf(a.out, "Track length: %.1f m\n", mesh.TrackLength(res.Track))
	fmt.Fprintf(a.out, "Map saved to %s (%s)\n", cfg.Output, format)
}

func (a *App) startHTTP() *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
		Handler:           newHTTPServer(a.State, a.Store),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[HTTP] Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] Server error: %v", err)
		}
	}()

	fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
	fmt.Fprintln(a.out, "  GET /health       - Health check")
	fmt.Fprintln(a.out, "  GET /status       - Run phase, counters and pose")
	fmt.Fprintln(a.out, "  GET /map.png      - Backscatter map")
	fmt.Fprintln(a.out, "  GET /map.svg      - Backscatter map (vector)")
	fmt.Fprintln(a.out, "  GET /map.geojson  - Covered cells and track")
	if a.Store != nil {
		fmt.Fprintln(a.out, "  GET /runs         - Stored runs")
	}
	return srv
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[HTTP] Shutdown error: %v", err)
	}
}

func (a *App) runTopics(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	bag, closeInput, err := a.openInput(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeInput()

	conns := bag.Connections()
	fmt.Fprintf(a.out, "%d connection(s) in %s\n\n", len(conns), cfg.Input)
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tTYPE\tMESSAGES")
	for _, c := range conns {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Topic, c.Type, c.Count)
	}
	return tw.Flush()
}

func (a *App) runExtractFrames(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	bag, closeInput, err := a.openInput(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeInput()

	x := mesh.NewFrameExtractor(a.ExtractFrames, cfg.CartesianWidth)
	if err := x.Run(ctx, mesh.NewBagSource(bag, cfg.Topics)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %d frames to %s (%d undecodable)\n", x.Written(), a.ExtractFrames, x.Failed())
	return nil
}

func (a *App) runExtractVideo(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Topics.Camera == "" {
		return errors.New("no camera topic configured (topics.camera)")
	}
	bag, closeInput, err := a.openInput(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeInput()

	w, err := mesh.NewVideoWriter(ctx, a.ffmpeg, mesh.FFmpegArgs(a.ExtractVideo, a.Framerate)...)
	if err != nil {
		return err
	}
	if err := mesh.ExtractVideo(ctx, mesh.NewBagSource(bag, cfg.Topics), w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %d camera frames to %s\n", w.Frames(), a.ExtractVideo)
	return nil
}

// openConfiguredStore loads the config and opens its database, which must
// be configured.
func (a *App) openConfiguredStore() (*mesh.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store == "" && a.Store == nil {
		return nil, errors.New("no database configured: use --db or set store in config.yaml")
	}
	if err := a.openStore(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *App) runListRuns(ctx context.Context) error {
	if _, err := a.openConfiguredStore(); err != nil {
		return err
	}
	defer a.close()

	runs, err := a.Store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No stored runs")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tINPUT\tFRAMES\tCELLS\tRESOLUTION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%.3f\n",
			r.RunID, r.Started.Format(time.RFC3339), r.Input, r.Counters.Processed,
			r.Stats.Covered, r.Nx*r.Ny, r.Resolution)
	}
	return tw.Flush()
}

func (a *App) runRenderStored(ctx context.Context, runID string) error {
	cfg, err := a.openConfiguredStore()
	if err != nil {
		return err
	}
	defer a.close()

	format, err := a.outputFormat(cfg)
	if err != nil {
		return err
	}
	raster, err := a.Store.LoadRaster(ctx, runID)
	if err != nil {
		return err
	}
	if err := mesh.SaveMap(cfg.Output, format, raster, nil, cfg.Render); err != nil {
		return fmt.Errorf("failed to save map: %w", err)
	}
	fmt.Fprintf(a.out, "Map for run %s saved to %s (%s)\n", runID, cfg.Output, format)
	return nil
}
