package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/biblecom-crawler/pkg/biblecom"
	"github.com/Sriram-PR/biblecom-crawler/pkg/catalog"
	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/fetch"
	"github.com/Sriram-PR/biblecom-crawler/pkg/metrics"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/biblecom-crawler/pkg/report"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "discover":
		runDiscover(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "aggregate":
		runAggregate(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("biblecom-crawler %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `biblecom-crawler - Bible translation crawler with coverage reporting

Usage:
  biblecom-crawler <command> [options]

Commands:
  crawl       Fetch every pending translation, then write coverage reports
  discover    Rebuild the target store from the live catalog
  report      Rebuild this source's coverage report from the artifacts on disk
  aggregate   Merge all per-source coverage reports into one
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'biblecom-crawler <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file. An empty path yields the defaults.
func loadConfig(path string) (*config.AppConfig, error) {
	var cfg config.AppConfig
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// crawlFlags are the command-line overrides shared by crawl-like commands.
// Zero values leave the config file's setting alone.
type crawlFlags struct {
	output      string
	workers     int
	repeat      int // -1 = from config
	updateMeta  bool
	override    bool
	retryFailed bool
	metricsAddr string
}

func (f crawlFlags) apply(cfg *config.AppConfig) {
	if f.output != "" {
		cfg.OutputDir = f.output
	}
	if f.workers > 0 {
		cfg.NumWorkers = f.workers
	}
	if f.repeat >= 0 {
		repeat := f.repeat
		cfg.Repeat = &repeat
	}
	if f.updateMeta {
		cfg.UpdateMeta = true
	}
	if f.override {
		cfg.Override = true
	}
	if f.retryFailed {
		cfg.RetryPermanentFailures = true
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
}

// newLogger builds the process logger. An invalid level falls back to info with a warning.
func newLogger(levelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// prepareConfig loads, overrides and validates the config, logging warnings
func prepareConfig(path string, flags crawlFlags, log *logrus.Logger) (*config.AppConfig, error) {
	appCfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	flags.apply(appCfg)
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. A second signal,
// or a stuck shutdown, forces exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML config file (defaults only if empty)")
	logLevel := fs.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	var flags crawlFlags
	fs.StringVar(&flags.output, "output", "", "Output directory for artifacts and reports")
	fs.IntVar(&flags.workers, "workers", 0, "Worker pool size")
	fs.IntVar(&flags.repeat, "repeat", -1, "Extra gap-closing passes after the first (-1 = from config)")
	fs.BoolVar(&flags.updateMeta, "update-meta", false, "Rediscover the catalog before crawling")
	fs.BoolVar(&flags.override, "override", false, "Re-fetch every target, ignoring existing artifacts")
	fs.BoolVar(&flags.retryFailed, "retry-failed", false, "Retry targets that failed permanently in earlier runs")
	fs.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: biblecom-crawler crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  biblecom-crawler crawl -output ./output -workers 20 -repeat 3\n")
		fmt.Fprintf(os.Stderr, "  biblecom-crawler crawl -config config.yaml -update-meta\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := newLogger(*logLevel, os.Stderr)
	appCfg, err := prepareConfig(*configFile, flags, log)
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		os.Exit(1)
	}
	logAppConfig(appCfg, log)

	if *pprofAddr != "" {
		go func() {
			log.Infof("Starting pprof HTTP server on: http://%s/debug/pprof/", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Errorf("Pprof server failed to start on %s: %v", *pprofAddr, err)
			}
		}()
	}

	ctx, stop := signalContext(log)
	defer stop()

	_, err = executeCrawl(ctx, appCfg, log)
	os.Exit(crawlExitCode(err, log))
}

// crawlExitCode maps a crawl error to the process exit code. Cancellation is a clean exit.
func crawlExitCode(err error, log *logrus.Logger) int {
	switch {
	case err == nil:
		log.Info("Crawl completed successfully.")
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Crawl cancelled gracefully.")
		return 0
	default:
		log.Errorf("Crawl finished with error: %v", err)
		return 1
	}
}

// executeCrawl wires every component from a validated config and runs one crawl
func executeCrawl(ctx context.Context, appCfg *config.AppConfig, log *logrus.Logger) (*orchestrate.RunResult, error) {
	entry := log.WithField("component", "main")
	log.Info("Initializing components...")

	var recorder *metrics.Recorder
	if appCfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		var err error
		if recorder, err = metrics.NewRecorder(reg); err != nil {
			return nil, err
		}
		go func() {
			if err := metrics.Serve(ctx, appCfg.MetricsAddr, reg, entry); err != nil {
				entry.Errorf("Metrics server stopped: %v", err)
			}
		}()
	}

	ledger, err := storage.NewBadgerStore(appCfg.StateDir, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome ledger: %w", err)
	}
	defer ledger.Close()
	stopGC := ledger.StartGC(ctx, 10*time.Minute)
	defer stopGC()

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, entry)
	getter := fetch.NewPageFetcher(httpClient, appCfg, entry)

	deps := orchestrate.Deps{
		Store:    storage.NewTSVTargetStore(appCfg.MetaFile, entry),
		Ledger:   ledger,
		Worker:   biblecom.NewWorker(getter, appCfg, entry),
		Reporter: report.NewReporter(appCfg, recorder, entry),
		Metrics:  recorder,
	}
	if appCfg.UpdateMeta {
		discoverer, err := catalog.NewDiscoverer(getter, appCfg, entry)
		if err != nil {
			return nil, err
		}
		deps.Discoverer = discoverer
	}

	orch, err := orchestrate.New(orchestrate.OptionsFromConfig(appCfg), deps, entry)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx)
}

// runDiscover handles the discover subcommand
func runDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML config file (defaults only if empty)")
	logLevel := fs.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	metaFile := fs.String("meta", "", "Target store path (overrides meta_file)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: biblecom-crawler discover [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := newLogger(*logLevel, os.Stderr)
	appCfg, err := prepareConfig(*configFile, crawlFlags{repeat: -1}, log)
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		os.Exit(1)
	}
	if *metaFile != "" {
		appCfg.MetaFile = *metaFile
	}

	ctx, stop := signalContext(log)
	defer stop()

	entry := log.WithField("component", "main")
	getter := fetch.NewPageFetcher(fetch.NewClient(appCfg.HTTPClientSettings, entry), appCfg, entry)
	targets, err := doDiscover(ctx, getter, appCfg, entry)
	if err != nil {
		log.Errorf("Discovery failed: %v", err)
		os.Exit(1)
	}
	log.Infof("Discovered %d translations into %s", len(targets), appCfg.MetaFile)
}

// doDiscover refreshes the target store through getter
func doDiscover(ctx context.Context, getter fetch.DocumentGetter, appCfg *config.AppConfig, log *logrus.Entry) ([]models.CrawlTarget, error) {
	discoverer, err := catalog.NewDiscoverer(getter, appCfg, log)
	if err != nil {
		return nil, err
	}
	return discoverer.Refresh(ctx, storage.NewTSVTargetStore(appCfg.MetaFile, log))
}

// runReport handles the report subcommand
func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML config file (defaults only if empty)")
	output := fs.String("output", "", "Output directory holding the artifacts")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: biblecom-crawler report [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doReport(*configFile, *output, os.Stdout, os.Stderr))
}

// doReport rebuilds the coverage report and prints per-source totals.
// Returns exit code (0 = success, 1 = error).
func doReport(configPath, output string, stdout, stderr io.Writer) int {
	log := newLogger("warn", stderr)
	appCfg, err := prepareConfig(configPath, crawlFlags{output: output, repeat: -1}, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	entry := log.WithField("component", "main")
	ctx := context.Background()

	targets, err := storage.NewTSVTargetStore(appCfg.MetaFile, entry).Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	rows, err := report.NewReporter(appCfg, nil, entry).BuildCoverageReport(ctx, targets)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	tagged := make([]models.AggregatedRow, len(rows))
	for i, row := range rows {
		tagged[i] = models.AggregatedRow{CoverageRow: row, Source: appCfg.SourceName}
	}
	fmt.Fprintf(stdout, "Wrote %s\n", report.CoverageReportPath(appCfg.ReportsDir(), appCfg.SourceName))
	printTotals(stdout, report.Totals(tagged))
	return 0
}

// runAggregate handles the aggregate subcommand
func runAggregate(args []string) {
	fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML config file (defaults only if empty)")
	output := fs.String("output", "", "Output directory holding the reports directory")
	summary := fs.Bool("summary", true, "Also write summary.md and summary.html")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: biblecom-crawler aggregate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doAggregate(*configFile, *output, *summary, os.Stdout, os.Stderr))
}

// doAggregate merges every per-source report found in the reports directory.
// Returns exit code (0 = success, 1 = error).
func doAggregate(configPath, output string, summary bool, stdout, stderr io.Writer) int {
	log := newLogger("warn", stderr)
	appCfg, err := prepareConfig(configPath, crawlFlags{output: output, repeat: -1}, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	reporter := report.NewReporter(appCfg, nil, log.WithField("component", "main"))
	ctx := context.Background()

	rows, err := reporter.BuildAggregatedReport(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s (%d rows)\n", report.AggregatedReportPath(appCfg.ReportsDir()), len(rows))
	printTotals(stdout, report.Totals(rows))

	if summary {
		mdPath, htmlPath, err := reporter.WriteSummary(ctx, rows)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Wrote %s and %s\n", mdPath, htmlPath)
	}
	return 0
}

func printTotals(w io.Writer, totals []report.SourceTotals) {
	for _, st := range totals {
		fmt.Fprintf(w, "  %s: %d/%d translations covered, %d languages, %d verses\n",
			st.Source, st.Covered, st.Translations, st.Languages, st.Verses)
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: biblecom-crawler validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: source '%s', catalog %s\n", appCfg.SourceName, appCfg.VersionsURL())
	fmt.Fprintf(stdout, "OK: output %s, target store %s, state %s\n", appCfg.OutputDir, appCfg.MetaFile, appCfg.StateDir)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Source:%s, Workers:%d, Repeat:%d, UpdateMeta:%t, Override:%t, RetryPermanent:%t",
		appCfg.SourceName, appCfg.NumWorkers, config.GetEffectiveRepeat(*appCfg), appCfg.UpdateMeta, appCfg.Override, appCfg.RetryPermanentFailures)
	log.Infof("Config: OutputDir:%s, MetaFile:%s, StateDir:%s",
		appCfg.OutputDir, appCfg.MetaFile, appCfg.StateDir)
	log.Infof("Config Politeness: UserAgent:%q, DelayPerHost:%v, MaxReqPerHost:%d, RespectRobots:%t",
		appCfg.DefaultUserAgent, appCfg.DefaultDelayPerHost, appCfg.MaxRequestsPerHost, config.GetEffectiveRespectRobots(*appCfg))
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, PerTargetTimeout:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, appCfg.PerTargetTimeout)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.IdleConnTimeout)
	log.Infof("Config Catalog: %s, Extractor: verses=%q next=%q maxChapters=%d",
		appCfg.VersionsURL(), appCfg.Extractor.VerseSelector, appCfg.Extractor.NextChapterSelector, appCfg.Extractor.MaxChapters)
}
