package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/fetch"
	"github.com/Sriram-PR/biblecom-crawler/pkg/metrics"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const (
	serverName    = "biblecom-crawler"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig // Validated
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Metrics    *metrics.Recorder // optional

	// Getter overrides the polite HTTP page fetcher used by crawl jobs
	Getter fetch.DocumentGetter
}

// Server exposes the crawler as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	store      storage.TargetStore
	getter     fetch.DocumentGetter

	httpServer *server.SSEServer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("%w: AppConfig is required", utils.ErrConfigValidation)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("component", "mcp")

	getter := cfg.Getter
	if getter == nil {
		client := fetch.NewClient(cfg.AppConfig.HTTPClientSettings, log)
		getter = fetch.NewPageFetcher(client, cfg.AppConfig, log)
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        log,
		jobManager: NewJobManager(),
		store:      storage.NewTSVTargetStore(cfg.AppConfig.MetaFile, log),
		getter:     getter,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	listTargetsTool := mcp.NewTool("list_targets",
		mcp.WithDescription("List crawl targets from the target store, with whether each already has an artifact"),
		mcp.WithString("iso",
			mcp.Description("Only targets with this language ISO code"),
		),
		mcp.WithBoolean("missing_only",
			mcp.Description("Only targets that have no artifact yet"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of targets to return (default: 50, max: 1000)"),
		),
	)
	s.mcpServer.AddTool(listTargetsTool, s.handleListTargets)

	crawlTool := mcp.NewTool("crawl",
		mcp.WithDescription("Start a background crawl run. Returns immediately with a job ID."),
		mcp.WithBoolean("override",
			mcp.Description("Re-fetch every target in the first pass, ignoring existing artifacts"),
		),
		mcp.WithBoolean("update_meta",
			mcp.Description("Rediscover the catalog and rewrite the target store first"),
		),
		mcp.WithNumber("repeat",
			mcp.Description("Extra gap-closing passes (defaults to the configured repeat)"),
		),
	)
	s.mcpServer.AddTool(crawlTool, s.handleCrawl)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running crawl job. Finished targets keep their artifacts."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	listJobsTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List crawl jobs started by this server, oldest first"),
	)
	s.mcpServer.AddTool(listJobsTool, s.handleListJobs)

	coverageTool := mcp.NewTool("coverage",
		mcp.WithDescription("Rebuild the coverage report from the artifacts on disk and summarize it"),
		mcp.WithString("iso",
			mcp.Description("Only report rows with this language ISO code"),
		),
	)
	s.mcpServer.AddTool(coverageTool, s.handleCoverage)

	searchVersesTool := mcp.NewTool("search_verses",
		mcp.WithDescription("Search crawled verse text"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (case-insensitive substring match)"),
		),
		mcp.WithString("iso",
			mcp.Description("Limit search to one language ISO code"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
		),
	)
	s.mcpServer.AddTool(searchVersesTool, s.handleSearchVerses)

	s.log.Infof("Registered %d MCP tools", 7)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		s.httpServer = server.NewSSEServer(s.mcpServer)
		if err := s.httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown transport: %s (supported: stdio, sse)", utils.ErrConfigValidation, s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and stops the SSE listener if one is up
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
