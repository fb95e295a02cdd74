package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/mcp"
	"github.com/Sriram-PR/biblecom-crawler/pkg/metrics"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML config file (defaults only if empty)")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")
	output := fs.String("output", "", "Output directory for artifacts and reports")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: biblecom-crawler mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  biblecom-crawler mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  biblecom-crawler mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  list_targets    List crawl targets and whether each has an artifact
  crawl           Start a background crawl run
  get_job_status  Check the progress of a crawl run
  coverage        Rebuild and summarize the coverage report
  search_verses   Search crawled verse text
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	flags := crawlFlags{output: *output, repeat: -1, metricsAddr: *metricsAddr}
	exitCode := doMcpServer(*configFile, flags, *transport, *port, *logLevel, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath string, flags crawlFlags, transport string, port int, logLevel string, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log := logrus.New()
	log.SetOutput(stderr)
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	appCfg, err := prepareConfig(configPath, flags, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var recorder *metrics.Recorder
	if appCfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if recorder, err = metrics.NewRecorder(reg); err != nil {
			fmt.Fprintf(stderr, "Error creating metrics: %v\n", err)
			return 1
		}
		entry := log.WithField("component", "metrics")
		go func() {
			if err := metrics.Serve(ctx, appCfg.MetricsAddr, reg, entry); err != nil {
				entry.Errorf("Metrics server stopped: %v", err)
			}
		}()
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Metrics:    recorder,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal %v, stopping MCP server...", sig)
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Errorf("MCP server shutdown: %v", err)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Infof("Starting MCP server (transport: %s)", transport)
	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}
