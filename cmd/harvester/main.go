package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/discovery"
	"github.com/aluiziolira/go-scrape-catalog/extractor"
	"github.com/aluiziolira/go-scrape-catalog/metrics"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

func main() {
	defaultCfg := config.DefaultConfig()
	refsDefault := defaultCfg.RefsFile
	if value, ok := config.EnvString("HARVESTER_REFS"); ok {
		refsDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("HARVESTER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("HARVESTER_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	chunkDefault := defaultCfg.ChunkSize
	if value, ok, err := config.EnvInt("HARVESTER_CHUNK"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_CHUNK: %v\n", err)
		os.Exit(1)
	} else if ok {
		chunkDefault = value
	}
	headlessDefault := defaultCfg.Headless
	if value, ok, err := config.EnvBool("HARVESTER_HEADLESS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_HEADLESS: %v\n", err)
		os.Exit(1)
	} else if ok {
		headlessDefault = value
	}

	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Site root URL to harvest")
	refsFile := flag.String("refs", refsDefault, "Product reference list path (discovery output, extraction input)")
	outputFile := flag.String("output", outputDefault, "Product metadata output path")
	imageDir := flag.String("images", defaultCfg.ImageDir, "Directory for downloaded product images")
	headless := flag.Bool("headless", headlessDefault, "Run the browser headless")
	disableNotifications := flag.Bool("disable-notifications", defaultCfg.DisableNotifications, "Suppress browser notification prompts")
	windowWidth := flag.Int("window-width", defaultCfg.WindowWidth, "Browser viewport width")
	windowHeight := flag.Int("window-height", defaultCfg.WindowHeight, "Browser viewport height")
	chunkSize := flag.Int("chunk", chunkDefault, "References per checkpoint flush")
	maxAttempts := flag.Int("max-attempts", defaultCfg.MaxAttempts, "Extraction attempts per product before quarantine")
	cooldownSec := flag.Int("cooldown", int(defaultCfg.RetryCooldown/time.Second), "Seconds between extraction attempts")
	settleSec := flag.Int("settle", int(defaultCfg.SettleDelay/time.Second), "Seconds to wait after each navigation")
	firstSettleSec := flag.Int("first-settle", int(defaultCfg.FirstSettleDelay/time.Second), "Seconds to wait after a session's first navigation")
	clickSettleMs := flag.Int("click-settle", int(defaultCfg.ClickSettle/time.Millisecond), "Milliseconds to wait after a panel click")
	clickTimeoutSec := flag.Int("click-timeout", int(defaultCfg.ClickTimeout/time.Second), "Seconds to wait for a panel click to complete")
	pageRetries := flag.Int("page-retries", defaultCfg.PageRetries, "Extra attempts for a listing page with a missing product list")
	dedupeMax := flag.Int("dedupe-max", defaultCfg.DedupeMaxSize, "Maximum product identifiers held in the already-scraped set")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "run"
	}

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.RefsFile = *refsFile
	cfg.OutputFile = *outputFile
	cfg.ImageDir = *imageDir
	cfg.Headless = *headless
	cfg.DisableNotifications = *disableNotifications
	cfg.WindowWidth = *windowWidth
	cfg.WindowHeight = *windowHeight
	cfg.ChunkSize = *chunkSize
	cfg.MaxAttempts = *maxAttempts
	cfg.RetryCooldown = time.Duration(*cooldownSec) * time.Second
	cfg.SettleDelay = time.Duration(*settleSec) * time.Second
	cfg.FirstSettleDelay = time.Duration(*firstSettleSec) * time.Second
	cfg.ClickSettle = time.Duration(*clickSettleMs) * time.Millisecond
	cfg.ClickTimeout = time.Duration(*clickTimeoutSec) * time.Second
	cfg.PageRetries = *pageRetries
	cfg.DedupeMaxSize = *dedupeMax
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, draining current item")
	}()

	m := metrics.New()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	var err error
	switch command {
	case "discover":
		err = runDiscovery(ctx, cfg, m)
	case "extract":
		err = runExtraction(ctx, cfg, m)
	case "run":
		if err = runDiscovery(ctx, cfg, m); err == nil {
			err = runExtraction(ctx, cfg, m)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want discover, extract, or run)\n", command)
		os.Exit(2)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", shutdownErr))
		}
		cancel()
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("run canceled")
			return
		}
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func runDiscovery(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	slog.Info("starting discovery",
		slog.String("base_url", cfg.BaseURL),
		slog.String("refs_file", cfg.RefsFile),
	)

	disc, err := discovery.New(cfg, m)
	if err != nil {
		return fmt.Errorf("initialise discovery: %w", err)
	}

	sess, err := browser.Open(sessionOptions(cfg))
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	defer sess.Close()

	refs, result, err := disc.Run(ctx, sess)
	if err != nil {
		return err
	}

	if err := store.Overwrite(cfg.RefsFile, refs); err != nil {
		return fmt.Errorf("persist reference list: %w", err)
	}

	printDiscoverySummary(result, cfg.RefsFile)
	return nil
}

func runExtraction(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	slog.Info("starting extraction",
		slog.String("refs_file", cfg.RefsFile),
		slog.String("output_file", cfg.OutputFile),
	)

	runner, err := pipeline.NewRunner(cfg, extractor.New(cfg, m), m)
	if err != nil {
		return fmt.Errorf("initialise runner: %w", err)
	}
	if err := store.Init(runner.QuarantinePath()); err != nil {
		return fmt.Errorf("initialise quarantine ledger: %w", err)
	}

	sess, err := browser.Open(sessionOptions(cfg))
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	defer sess.Close()

	result, err := runner.Run(ctx, sess)
	if result != nil {
		printRunSummary(result, cfg.OutputFile)
	}
	return err
}

func sessionOptions(cfg *config.Config) browser.Options {
	return browser.Options{
		Headless:             cfg.Headless,
		WindowWidth:          cfg.WindowWidth,
		WindowHeight:         cfg.WindowHeight,
		DisableNotifications: cfg.DisableNotifications,
		UserAgent:            cfg.UserAgent,
		NavTimeout:           cfg.NavTimeout,
		SettleDelay:          cfg.SettleDelay,
		FirstSettleDelay:     cfg.FirstSettleDelay,
		ClickSettle:          cfg.ClickSettle,
		ClickTimeout:         cfg.ClickTimeout,
	}
}

func printDiscoverySummary(result *models.DiscoveryResult, refsFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Discovery complete")
	fmt.Printf("  Categories:    %d\n", result.Categories)
	fmt.Printf("  Discovered:    %d\n", result.Discovered)
	fmt.Printf("  Expected:      %d\n", result.ExpectedTotal)
	fmt.Printf("  Skipped pages: %d\n", result.SkippedPages)
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Second))
	fmt.Printf("  Output file:   %s\n", refsFile)
	fmt.Println(separator)
}

func printRunSummary(result *models.RunResult, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Extraction complete")
	fmt.Printf("  Processed:     %d\n", result.Processed)
	fmt.Printf("  Extracted:     %d\n", result.Extracted)
	fmt.Printf("  Skipped:       %d\n", result.Skipped)
	fmt.Printf("  Quarantined:   %d\n", result.Quarantined)
	fmt.Printf("  Chunks:        %d\n", result.Chunks)
	duration := result.EndTime.Sub(result.StartTime)
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Second))
	if seconds := duration.Seconds(); seconds > 0 {
		fmt.Printf("  Items/sec:     %.2f\n", float64(result.Processed)/seconds)
	}
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
