package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/codescan/internal/camera"
	"github.com/zombor/codescan/internal/enhance"
	"github.com/zombor/codescan/internal/results"
	"github.com/zombor/codescan/internal/scanner"
	"github.com/zombor/codescan/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	source  string
	device  string
	dir     string
	fps     float64
	width   int
	height  int
	engines string

	timeout         time.Duration
	workers         int
	grace           time.Duration
	stopAfterResult bool
	noEnhance       bool
	binarize        bool

	dbPath        string
	snapshotsPath string
	port          int
	authUser      string
	authPass      string

	geminiKey      string
	geminiModel    string
	ollamaURL      string
	ollamaModel    string
	requestTimeout time.Duration

	logLevel string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	var cfg config
	fs := ff.NewFlagSet("codescan")
	fs.StringVar(&cfg.source, 0, "source", "ffmpeg", "Frame source: 'ffmpeg', 'dir' or 'none' (HTTP uploads only)")
	fs.StringVar(&cfg.device, 0, "device", "", "Capture device for the ffmpeg source (platform default if empty)")
	fs.StringVar(&cfg.dir, 0, "dir", "./frames", "Image directory for the dir source")
	fs.Float64Var(&cfg.fps, 0, "fps", 10, "Frames per second delivered by the source")
	fs.IntVar(&cfg.width, 0, "width", 1280, "Capture width for the ffmpeg source")
	fs.IntVar(&cfg.height, 0, "height", 720, "Capture height for the ffmpeg source")
	fs.StringVar(&cfg.engines, 0, "engines", "qrcode,oned", "The two decode engines to race (qrcode, oned, gemini, ollama)")
	fs.DurationVar(&cfg.timeout, 0, "timeout", scanner.DefaultTimeout, "Time budget for one decode race")
	fs.IntVar(&cfg.workers, 0, "workers", scanner.DefaultWorkers, "Maximum decode calls running at once")
	fs.DurationVar(&cfg.grace, 0, "grace", scanner.DefaultShutdownGrace, "How long shutdown waits for a race in flight")
	fs.BoolVar(&cfg.stopAfterResult, 0, "stop-after-result", "Pause scanning after the first decoded code")
	fs.BoolVar(&cfg.noEnhance, 0, "no-enhance", "Race on the original frame only")
	fs.BoolVar(&cfg.binarize, 0, "binarize", "Threshold the enhanced frame to black and white")
	fs.StringVar(&cfg.dbPath, 0, "db", "codescan.db", "Database file path")
	fs.StringVar(&cfg.snapshotsPath, 0, "snapshots", "./snapshots", "Directory for timed out frame snapshots")
	fs.IntVar(&cfg.port, 0, "port", 8080, "HTTP server port")
	fs.StringVar(&cfg.authUser, 0, "auth-user", "", "Basic auth username (optional)")
	fs.StringVar(&cfg.authPass, 0, "auth-pass", "", "Basic auth password (optional)")
	fs.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	fs.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&cfg.ollamaModel, 0, "ollama-model", "qwen2.5vl", "Ollama vision model name")
	fs.DurationVar(&cfg.requestTimeout, 0, "request-timeout", 0, "Time limit for a single LLM request (engine default if zero)")
	fs.StringVar(&cfg.logLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	showVersion := fs.BoolLong("version", "Show version information")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CODESCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", cfg.logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
	})))

	if err := run(cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := results.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", cfg.snapshotsPath)
	store, err := results.NewLocalStorage(cfg.snapshotsPath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	service := results.NewService(db, store)

	// Initialize engines
	engines, err := buildEngines(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := scanning.CloseAll(engines); err != nil {
			slog.Warn("Error closing engines", "error", err)
		}
	}()

	src, err := buildSource(cfg)
	if err != nil {
		return err
	}

	// Listener callbacks run one at a time on the delivery goroutine. Once it
	// has stopped they run on the caller.
	deliveries := make(chan func(), 16)
	quit := make(chan struct{})
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for {
			select {
			case fn := <-deliveries:
				fn()
			case <-quit:
				for {
					select {
					case fn := <-deliveries:
						fn()
					default:
						return
					}
				}
			}
		}
	}()
	dispatch := func(fn func()) {
		select {
		case deliveries <- fn:
		case <-quit:
			fn()
		}
	}

	scanCfg := scanner.Config{
		Listener:        service,
		TimeoutObserver: service,
		Dispatch:        dispatch,
		OnSessionEnd: func(s scanner.SessionSummary) {
			slog.Debug("Session finished", "session", s.ID, "phase", s.Phase.String(), "elapsed", s.Elapsed)
		},
		Timeout:         cfg.timeout,
		Workers:         cfg.workers,
		ShutdownGrace:   cfg.grace,
		StopAfterResult: cfg.stopAfterResult,
		Logger:          slog.Default().With("component", "scanner"),
	}
	for _, e := range engines {
		scanCfg.Engines = append(scanCfg.Engines, e)
	}
	if !cfg.noEnhance {
		scanCfg.Enhancer = enhance.New(enhance.Options{Binarize: cfg.binarize})
	}

	sc, err := scanner.New(scanCfg)
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}

	// Initialize server
	server := results.NewServer(service, sc, results.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	})
	addr := fmt.Sprintf(":%d", cfg.port)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(addr)
	}()
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	// Start the frame source
	sourceDone := make(chan struct{})
	if src != nil {
		go func() {
			defer close(sourceDone)
			err := src.Run(ctx, func(f scanner.Frame) {
				sc.Submit(f)
			})
			if err != nil {
				slog.Error("Frame source stopped", "source", cfg.source, "error", err)
				return
			}
			slog.Info("Frame source finished", "source", cfg.source)
		}()
	} else {
		close(sourceDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server: %w", err)
		}
	}

	slog.Info("Shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error shutting down server", "error", err)
	}
	<-sourceDone
	if err := sc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error shutting down scanner", "error", err)
	}
	close(quit)
	<-delivered

	stats := sc.Stats()
	slog.Info("Scanner stats",
		"admitted", stats.Admitted,
		"completed", stats.Completed,
		"timed_out", stats.TimedOut,
		"all_failed", stats.AllFailed,
		"dropped_busy", stats.DroppedBusy,
		"late_results", stats.LateResults,
	)
	return runErr
}

func buildEngines(cfg config) ([]scanning.Engine, error) {
	kinds := strings.Split(cfg.engines, ",")
	if len(kinds) != 2 {
		return nil, fmt.Errorf("%w: --engines %q", scanner.ErrEngineCount, cfg.engines)
	}

	// Get Gemini API key from flag or environment
	apiKey := cfg.geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	slog.Info("Initializing engines...", "engines", cfg.engines)
	return scanning.NewAll(kinds, scanning.Options{
		GeminiAPIKey:   apiKey,
		GeminiModel:    cfg.geminiModel,
		OllamaURL:      cfg.ollamaURL,
		OllamaModel:    cfg.ollamaModel,
		RequestTimeout: cfg.requestTimeout,
		Logger:         slog.Default().With("component", "engine"),
	})
}

func buildSource(cfg config) (camera.Source, error) {
	logger := slog.Default().With("component", "source")
	switch cfg.source {
	case "ffmpeg":
		return &camera.FFmpegSource{
			Device: cfg.device,
			Width:  cfg.width,
			Height: cfg.height,
			FPS:    cfg.fps,
			Logger: logger,
		}, nil
	case "dir":
		return &camera.DirSource{
			Dir:    cfg.dir,
			FPS:    cfg.fps,
			Logger: logger,
		}, nil
	case "none":
		return nil, nil
	default:
		return nil, errors.New("invalid source type: use ffmpeg, dir or none")
	}
}
