package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/biblecom-crawler/pkg/artifact"
	"github.com/Sriram-PR/biblecom-crawler/pkg/biblecom"
	"github.com/Sriram-PR/biblecom-crawler/pkg/catalog"
	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/biblecom-crawler/pkg/report"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const maxListedMissing = 100

// handleListTargets handles the list_targets tool
func (s *Server) handleListTargets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	iso := request.GetString("iso", "")
	missingOnly := request.GetBool("missing_only", false)
	maxResults := request.GetInt("max_results", 50)
	if maxResults <= 0 {
		maxResults = 50
	}
	if maxResults > 1000 {
		maxResults = 1000
	}

	targets, err := s.store.Load(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load target store: %v", err)), nil
	}

	outputDir := s.cfg.AppConfig.OutputDir
	listed := make([]map[string]interface{}, 0, min(maxResults, len(targets)))
	matching, withArtifact := 0, 0
	for _, t := range targets {
		if iso != "" && t.LanguageISO != iso {
			continue
		}
		has := artifact.Exists(outputDir, artifact.KeyFor(t))
		if has {
			withArtifact++
		}
		if missingOnly && has {
			continue
		}
		matching++
		if len(listed) >= maxResults {
			continue
		}
		entry := map[string]interface{}{
			"url":           t.URL,
			"language_iso":  t.LanguageISO,
			"language_name": t.LanguageName,
			"trans_id":      t.TranslationID,
			"description":   t.Description,
			"has_artifact":  has,
		}
		if t.Year > 0 {
			entry["year"] = t.Year
		}
		listed = append(listed, entry)
	}

	result := map[string]interface{}{
		"targets":        listed,
		"total_targets":  len(targets),
		"total_matching": matching,
		"with_artifact":  withArtifact,
		"store":          s.store.Path(),
	}
	if active := s.jobManager.ActiveJob(s.cfg.AppConfig.SourceName); active != nil {
		result["running_job_id"] = active.ID
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCrawl handles the crawl tool
func (s *Server) handleCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := JobOptions{
		Override:   request.GetBool("override", false),
		UpdateMeta: request.GetBool("update_meta", false),
		Repeat:     request.GetInt("repeat", config.GetEffectiveRepeat(*s.cfg.AppConfig)),
	}
	if opts.Repeat < 0 {
		return mcp.NewToolResultError("repeat cannot be negative"), nil
	}

	source := s.cfg.AppConfig.SourceName
	job, created := s.jobManager.CreateJob(source, opts)
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A crawl is already in progress for this source",
			"job_id":  job.ID,
			"source":  source,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runCrawlJob(job)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Crawl started successfully",
		"job_id":  job.ID,
		"source":  source,
		"options": opts,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"source":     job.Source,
		"status":     job.Status,
		"options":    job.Options,
		"started_at": job.StartedAt.Format(time.RFC3339),
		"pass":       job.Pass,
		"done":       job.Done,
		"total":      job.Total,
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Result != nil {
		result["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if !s.jobManager.CancelJob(jobID) {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' is already %s", jobID, job.Status)), nil
	}
	s.log.WithField("job_id", jobID).Info("Crawl job cancelled")

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id": jobID,
		"status": JobStatusCancelled,
	})), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs := s.jobManager.ListJobs()
	entries := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		entry := map[string]interface{}{
			"job_id":     job.ID,
			"source":     job.Source,
			"status":     job.Status,
			"started_at": job.StartedAt.Format(time.RFC3339),
		}
		if job.Result != nil {
			entry["succeeded"] = job.Result.Succeeded
			entry["pending"] = job.Result.Pending
		}
		entries = append(entries, entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"total": len(entries),
		"jobs":  entries,
	})), nil
}

// handleCoverage handles the coverage tool
func (s *Server) handleCoverage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	iso := request.GetString("iso", "")

	targets, err := s.store.Load(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load target store: %v", err)), nil
	}
	reporter := report.NewReporter(s.cfg.AppConfig, s.cfg.Metrics, s.log)
	rows, err := reporter.BuildCoverageReport(ctx, targets)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build coverage report: %v", err)), nil
	}

	source := s.cfg.AppConfig.SourceName
	tagged := make([]models.AggregatedRow, 0, len(rows))
	missing := make([]string, 0)
	missingTotal := 0
	for _, row := range rows {
		if iso != "" && row.LanguageISO != iso {
			continue
		}
		tagged = append(tagged, models.AggregatedRow{CoverageRow: row, Source: source})
		if row.Verses == 0 {
			missingTotal++
			if len(missing) < maxListedMissing {
				missing = append(missing, row.Key().String())
			}
		}
	}

	result := map[string]interface{}{
		"source":        source,
		"report":        report.CoverageReportPath(s.cfg.AppConfig.ReportsDir(), source),
		"translations":  len(tagged),
		"covered":       len(tagged) - missingTotal,
		"verses":        0,
		"languages":     0,
		"missing":       missing,
		"missing_total": missingTotal,
	}
	if totals := report.Totals(tagged); len(totals) == 1 {
		result["verses"] = totals[0].Verses
		result["languages"] = totals[0].Languages
	}
	if iso != "" {
		result["iso"] = iso
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearchVerses handles the search_verses tool
func (s *Server) handleSearchVerses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	iso := request.GetString("iso", "")
	maxResults := request.GetInt("max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	results, err := s.searchArtifacts(ctx, query, iso, maxResults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	}
	if iso != "" {
		response["iso"] = iso
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// runCrawlJob runs one orchestrated crawl in the background
func (s *Server) runCrawlJob(job *Job) {
	s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")

	res, err := s.crawl(s.jobManager.Context(job.ID), job)
	if res != nil {
		s.jobManager.SetResult(job.ID, JobResult{
			RunID:      res.RunID,
			Targets:    res.Targets,
			Passes:     len(res.Passes),
			Dispatched: res.Dispatched(),
			Succeeded:  res.Outcomes[models.FetchStatusSuccess],
			Pending:    len(res.Pending),
		})
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.jobManager.UpdateStatus(job.ID, JobStatusCancelled, "")
		} else {
			s.jobManager.UpdateStatus(job.ID, JobStatusFailed, err.Error())
		}
		return
	}
	s.jobManager.UpdateStatus(job.ID, JobStatusCompleted, "")
}

// crawl wires an orchestrator for job. The ledger is closed before it returns.
func (s *Server) crawl(ctx context.Context, job *Job) (*orchestrate.RunResult, error) {
	jobLog := s.log.WithField("job_id", job.ID)
	appCfg := s.cfg.AppConfig

	ledger, err := storage.NewBadgerStore(appCfg.StateDir, jobLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome ledger: %w", err)
	}
	defer ledger.Close()
	stopGC := ledger.StartGC(ctx, 10*time.Minute)
	defer stopGC()

	deps := orchestrate.Deps{
		Store:    s.store,
		Ledger:   ledger,
		Worker:   biblecom.NewWorker(s.getter, appCfg, jobLog),
		Reporter: report.NewReporter(appCfg, s.cfg.Metrics, jobLog),
		Metrics:  s.cfg.Metrics,
	}
	if job.Options.UpdateMeta {
		discoverer, errDisc := catalog.NewDiscoverer(s.getter, appCfg, jobLog)
		if errDisc != nil {
			return nil, errDisc
		}
		deps.Discoverer = discoverer
	}

	opts := orchestrate.OptionsFromConfig(appCfg)
	opts.Override = job.Options.Override
	opts.UpdateMeta = job.Options.UpdateMeta
	opts.RepeatBudget = job.Options.Repeat
	opts.OnProgress = func(pass, done, total int) {
		s.jobManager.UpdateProgress(job.ID, pass, done, total)
	}

	orch, err := orchestrate.New(opts, deps, jobLog)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx)
}

// searchArtifacts scans artifacts under the output directory for verse text containing query
func (s *Server) searchArtifacts(ctx context.Context, query, iso string, maxResults int) ([]map[string]interface{}, error) {
	results := make([]map[string]interface{}, 0)
	queryLower := strings.ToLower(query)
	root := s.cfg.AppConfig.OutputDir

	errStop := errors.New("enough results")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), artifact.Suffix) {
			return nil
		}
		key, errKey := artifact.Parse(d.Name())
		if errKey != nil || (iso != "" && key.LanguageISO != iso) {
			return nil
		}

		file, errOpen := os.Open(path)
		if errOpen != nil {
			s.log.Debugf("Skipping unreadable artifact %s: %v", path, errOpen)
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			ref, text, ok := strings.Cut(scanner.Text(), "\t")
			if !ok || !strings.Contains(strings.ToLower(text), queryLower) {
				continue
			}
			results = append(results, map[string]interface{}{
				"ref":          ref,
				"snippet":      extractSnippet(text, query, 150),
				"language_iso": key.LanguageISO,
				"trans_id":     key.TranslationID,
				"file":         d.Name(),
			})
			if len(results) >= maxResults {
				return errStop
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return results, utils.WrapErrorf(utils.ErrFilesystem, "searching artifacts under '%s': %v", root, err)
	}
	return results, nil
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
		if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
			idx = i
			break
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := max(idx-maxLen/2, 0)
	end := min(idx+len(queryRunes)+maxLen/2, len(runes))

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
