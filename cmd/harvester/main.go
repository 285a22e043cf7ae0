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
	"strings"
	"syscall"
	"time"

	"github.com/bookmetrics/harvester/analysis"
	"github.com/bookmetrics/harvester/config"
	"github.com/bookmetrics/harvester/dataset"
	"github.com/bookmetrics/harvester/models"
	"github.com/bookmetrics/harvester/pipeline"
	"github.com/bookmetrics/harvester/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	defaultCfg := config.DefaultConfig()
	pagesDefault := defaultCfg.MaxPages
	if value, ok, err := config.EnvInt("HARVESTER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault = value
	}
	parallelDefault := defaultCfg.Parallelism
	if value, ok, err := config.EnvInt("HARVESTER_PARALLEL"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_PARALLEL: %v\n", err)
		os.Exit(1)
	} else if ok {
		parallelDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("HARVESTER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("HARVESTER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	configFile := flag.String("config", "", "Optional YAML configuration file")
	fromCSV := flag.String("from-csv", "", "Analyze a previously harvested CSV instead of crawling")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Base URL to crawl")
	maxPages := flag.Int("pages", pagesDefault, "Maximum listing pages to crawl")
	parallelism := flag.Int("parallel", parallelDefault, "Number of concurrent detail requests")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Delay between listing pages (milliseconds)")
	respectRobots := flag.Bool("respect-robots", defaultCfg.RespectRobotsTxt, "Respect robots.txt directives")
	categories := flag.String("categories", "", "Comma-separated category allow-list (overrides defaults)")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, dual, or sqlite")
	reportFile := flag.String("report", "", "Write a markdown analysis report to this path")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	fromFile := false
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			slog.Error("loading configuration file", slog.String("path", *configFile), slog.Any("error", err))
			os.Exit(1)
		}
		cfg = loaded
		fromFile = true
	}
	// With a config file, flags left at their defaults must not clobber
	// file values; only flags the user actually passed win.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applies := func(name string) bool { return !fromFile || set[name] }

	if applies("base-url") {
		cfg.BaseURL = *baseURL
	}
	if applies("pages") {
		cfg.MaxPages = *maxPages
	}
	if applies("parallel") {
		cfg.Parallelism = *parallelism
	}
	if applies("delay") {
		cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	}
	if applies("respect-robots") {
		cfg.RespectRobotsTxt = *respectRobots
	}
	if *categories != "" {
		cfg.Categories = splitCategories(*categories)
	}
	if applies("output") {
		cfg.OutputFile = *outputFile
	}
	if applies("format") {
		cfg.OutputFormat = strings.ToLower(*outputFormat)
	}
	if *reportFile != "" {
		cfg.ReportFile = *reportFile
	}
	if applies("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	if applies("v") {
		cfg.Verbose = *verbose
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if *fromCSV != "" {
		if err := analyzeOnly(*fromCSV, cfg.ReportFile); err != nil {
			slog.Error("analysis failed", slog.String("path", *fromCSV), slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	slog.Info("starting harvest",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("parallel", cfg.Parallelism),
		slog.Any("categories", cfg.Categories),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.PipelineWorkers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	summary, err := s.Run(ctx, p)
	if err != nil {
		slog.Error("harvest failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	summary.DropCounts = p.DropCounts()

	// A no-data or interrupted crawl legitimately leaves an empty
	// output; the summary still has to reach the operator.
	if summary.Status == models.StatusComplete {
		if err := writer.Validate(); err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		slog.Warn("skipping output validation", slog.String("status", string(summary.Status)))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if cfg.ReportFile != "" {
		a, err := analysis.New(p.Dataset())
		if err != nil {
			slog.Error("initialising analyzer", slog.Any("error", err))
			os.Exit(1)
		}
		if err := a.WriteReportFile(cfg.ReportFile, summary); err != nil {
			slog.Error("writing analysis report", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("analysis report written", slog.String("path", cfg.ReportFile))
	}

	printSummary(summary, p.GetMetrics(), cfg.OutputFile)
}

// analyzeOnly answers the question set over a previously harvested CSV,
// without touching the network. With no report path the report goes to
// stdout.
func analyzeOnly(csvPath, reportPath string) error {
	ds, err := dataset.Load(csvPath)
	if err != nil {
		return err
	}
	slog.Info("dataset reloaded",
		slog.String("path", csvPath),
		slog.Int("records", len(ds.Records)),
	)

	a, err := analysis.New(ds)
	if err != nil {
		return err
	}
	if reportPath != "" {
		if err := a.WriteReportFile(reportPath, nil); err != nil {
			return err
		}
		slog.Info("analysis report written", slog.String("path", reportPath))
		return nil
	}
	return a.WriteReport(os.Stdout, nil)
}

func splitCategories(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	case "sqlite":
		return pipeline.NewSQLiteWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(summary *models.CrawlSummary, metrics map[string]interface{}, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")

	written := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		written = processed
	}
	filtered := int64(0)
	if count, ok := metrics["filtered_out"].(int64); ok {
		filtered = count
	}

	fmt.Printf("  Status:         %s\n", statusText(summary))
	fmt.Printf("  Pages fetched:  %d\n", summary.PagesFetched)
	fmt.Printf("  Stubs seen:     %d\n", summary.StubsSeen)
	fmt.Printf("  Records merged: %d\n", summary.RecordsMerged)
	fmt.Printf("  Detail skips:   %d\n", len(summary.DetailSkips))
	fmt.Printf("  Written:        %d\n", written)
	fmt.Printf("  Filtered out:   %d\n", filtered)
	if len(summary.DropCounts) > 0 {
		fmt.Printf("  Dropped:        %v\n", summary.DropCounts)
	}
	if len(summary.ErrorsByType) > 0 {
		fmt.Printf("  Error types:    %v\n", summary.ErrorsByType)
	}
	duration := summary.Duration()
	fmt.Printf("  Duration:       %v\n", duration)
	if duration.Seconds() > 0 {
		fmt.Printf("  Records/sec:    %.2f\n", float64(written)/duration.Seconds())
	}
	fmt.Printf("  Output file:    %s\n", outputFile)
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

func statusText(summary *models.CrawlSummary) string {
	switch summary.Status {
	case models.StatusFetchFailed:
		return fmt.Sprintf("fetch failed at page %d", summary.FailedPage)
	case models.StatusNoData:
		return "no data"
	default:
		return "complete"
	}
}
