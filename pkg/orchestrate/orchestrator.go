// Package orchestrate drives crawl runs: pending-set computation, worker passes,
// the bounded retry loop and the final reports.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/artifact"
	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/metrics"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/parallel"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// maxPendingLogged caps the per-target lines in the run summary
const maxPendingLogged = 20

// Worker fetches one target into artifactPath
type Worker interface {
	FetchTarget(ctx context.Context, target models.CrawlTarget, artifactPath string) models.FetchOutcome
}

// Refresher rebuilds the target store from the live catalog
type Refresher interface {
	Refresh(ctx context.Context, store storage.TargetStore) ([]models.CrawlTarget, error)
}

// Reporter produces the coverage reports once passes are over
type Reporter interface {
	BuildCoverageReport(ctx context.Context, targets []models.CrawlTarget) ([]models.CoverageRow, error)
	BuildAggregatedReport(ctx context.Context) ([]models.AggregatedRow, error)
	WriteSummary(ctx context.Context, rows []models.AggregatedRow) (mdPath, htmlPath string, err error)
}

// Options controls one crawl run
type Options struct {
	OutputDir        string
	Parallelism      int
	RepeatBudget     int  // extra gap-closing passes after the first
	Override         bool // first pass ignores existing artifacts and prior permanent failures
	UpdateMeta       bool
	RetryPermanent   bool
	PerTargetTimeout time.Duration // 0 = none
	WriteSummary     bool
	OutcomeLogPath   string // empty = no outcome log

	// OnProgress, if set, is called after every finished target of a pass
	OnProgress func(pass, done, total int)
}

// OptionsFromConfig maps a validated AppConfig onto run options
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		OutputDir:        cfg.OutputDir,
		Parallelism:      cfg.NumWorkers,
		RepeatBudget:     config.GetEffectiveRepeat(*cfg),
		Override:         cfg.Override,
		UpdateMeta:       cfg.UpdateMeta,
		RetryPermanent:   cfg.RetryPermanentFailures,
		PerTargetTimeout: cfg.PerTargetTimeout,
		WriteSummary:     config.GetEffectiveWriteSummary(*cfg),
		OutcomeLogPath:   OutcomeLogPath(cfg),
	}
}

// OutcomeLogPath is where a run dumps the ledger as TSV
func OutcomeLogPath(cfg *config.AppConfig) string {
	return filepath.Join(cfg.ReportsDir(), "outcomes_"+cfg.SourceName+".tsv")
}

// Deps are the collaborators of a run. Store and Worker are required.
type Deps struct {
	Store      storage.TargetStore
	Ledger     storage.OutcomeLedger // optional
	Worker     Worker
	Discoverer Refresher         // required when Options.UpdateMeta is set
	Reporter   Reporter          // optional; nil skips reporting
	Metrics    *metrics.Recorder // optional
}

// PassResult describes one dispatch pass
type PassResult struct {
	Pass       int
	Dispatched int
	Outcomes   map[models.FetchStatus]int
	Duration   time.Duration
}

// RunResult is the outcome of Run
type RunResult struct {
	RunID      string
	Targets    int
	Passes     []PassResult
	Outcomes   map[models.FetchStatus]int // across all passes
	Pending    []models.CrawlTarget       // targets still without an artifact
	Coverage   []models.CoverageRow
	Aggregated []models.AggregatedRow
	Duration   time.Duration
}

// Dispatched returns the number of targets handed to workers across all passes
func (r *RunResult) Dispatched() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Dispatched
	}
	return n
}

// Orchestrator runs crawl passes over the target store
type Orchestrator struct {
	opts Options
	deps Deps
	log  *logrus.Entry
}

// New checks deps against opts and returns an orchestrator
func New(opts Options, deps Deps, log *logrus.Entry) (*Orchestrator, error) {
	if deps.Store == nil || deps.Worker == nil {
		return nil, fmt.Errorf("%w: orchestrator needs a target store and a worker", utils.ErrConfigValidation)
	}
	if opts.UpdateMeta && deps.Discoverer == nil {
		return nil, fmt.Errorf("%w: update_meta requires a catalog discoverer", utils.ErrConfigValidation)
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.RepeatBudget < 0 {
		opts.RepeatBudget = 0
	}
	return &Orchestrator{opts: opts, deps: deps, log: log.WithField("component", "orchestrator")}, nil
}

// Run executes one crawl: optional catalog refresh, a first pass over the pending set,
// up to RepeatBudget gap-closing passes, then the reports.
// Targets left pending when the budget runs out are not an error.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: uuid.NewString(), Outcomes: make(map[models.FetchStatus]int)}
	runLog := o.log.WithField("run_id", result.RunID)

	if cleaner, ok := o.deps.Worker.(interface{ CleanStaging() error }); ok {
		if err := cleaner.CleanStaging(); err != nil {
			runLog.Warnf("Could not clean staging directory: %v", err)
		}
	}

	if o.opts.UpdateMeta {
		runLog.Info("Refreshing target store from the catalog")
		if _, err := o.deps.Discoverer.Refresh(ctx, o.deps.Store); err != nil {
			return nil, fmt.Errorf("refreshing target store: %w", err)
		}
	}

	targets, err := o.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading target store %s: %w", o.deps.Store.Path(), err)
	}
	result.Targets = len(targets)
	for key, urls := range sharedKeys(targets) {
		runLog.WithFields(logrus.Fields{"artifact": key.String(), "urls": urls}).
			Warn("Targets share one artifact, only the first is fetched")
	}

	excluded := make(map[string]struct{})
	if !o.opts.Override && !o.opts.RetryPermanent && o.deps.Ledger != nil {
		prior, errPerm := o.deps.Ledger.PermanentFailures(ctx)
		if errPerm != nil {
			runLog.Warnf("Could not read permanent failures from ledger, none excluded: %v", errPerm)
		}
		for url := range prior {
			excluded[url] = struct{}{}
		}
	}

	pending := PendingTargets(o.opts.OutputDir, targets, o.opts.Override, excluded)
	runLog.WithFields(logrus.Fields{
		"targets":  len(targets),
		"pending":  len(pending),
		"excluded": len(excluded),
		"override": o.opts.Override,
	}).Info("Starting crawl run")

	retries := 0
	for pass := 1; len(pending) > 0; pass++ {
		pr, errPass := o.dispatch(ctx, result.RunID, pass, pending, excluded)
		result.Passes = append(result.Passes, pr)
		for status, n := range pr.Outcomes {
			result.Outcomes[status] += n
		}
		if errPass != nil {
			result.Pending = PendingTargets(o.opts.OutputDir, targets, false, excluded)
			result.Duration = time.Since(start)
			return result, errPass
		}

		// Later passes only close gaps; override applied to the first pass alone
		pending = PendingTargets(o.opts.OutputDir, targets, false, excluded)
		o.deps.Metrics.SetPending(len(pending))
		if len(pending) == 0 {
			break
		}
		if retries >= o.opts.RepeatBudget {
			runLog.WithField("pending", len(pending)).Info("Retry budget exhausted, leaving targets pending")
			break
		}
		retries++
		runLog.Infof("Double-checking %d missing translations (retry %d/%d)", len(pending), retries, o.opts.RepeatBudget)
	}
	result.Pending = pending
	o.deps.Metrics.SetPending(len(pending))

	if err := o.report(ctx, runLog, targets, result); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	result.Duration = time.Since(start)
	o.logSummary(ctx, runLog, result)
	return result, nil
}

// PendingTargets returns the targets that still need a fetch: those without an artifact
// (all of them when override is set) and not listed in excluded (ignored under override).
// Only the first target per artifact key is returned, so no two workers of a pass share a file.
func PendingTargets(outputDir string, targets []models.CrawlTarget, override bool, excluded map[string]struct{}) []models.CrawlTarget {
	var pending []models.CrawlTarget
	claimed := make(map[models.ArtifactKey]struct{})
	for _, t := range targets {
		key := artifact.KeyFor(t)
		if _, dup := claimed[key]; dup {
			continue
		}
		if !override {
			if _, skip := excluded[t.URL]; skip {
				continue
			}
			if artifact.Exists(outputDir, key) {
				continue
			}
		}
		claimed[key] = struct{}{}
		pending = append(pending, t)
	}
	return pending
}

// sharedKeys returns the artifact keys claimed by more than one target, with their URLs
func sharedKeys(targets []models.CrawlTarget) map[models.ArtifactKey][]string {
	byKey := make(map[models.ArtifactKey][]string, len(targets))
	for _, t := range targets {
		key := artifact.KeyFor(t)
		byKey[key] = append(byKey[key], t.URL)
	}
	for key, urls := range byKey {
		if len(urls) < 2 {
			delete(byKey, key)
		}
	}
	return byKey
}

// dispatch runs one pass. Permanent failures are added to excluded.
func (o *Orchestrator) dispatch(ctx context.Context, runID string, pass int, pending []models.CrawlTarget, excluded map[string]struct{}) (PassResult, error) {
	start := time.Now()
	pr := PassResult{Pass: pass, Dispatched: len(pending), Outcomes: make(map[models.FetchStatus]int)}
	passLog := o.log.WithFields(logrus.Fields{"run_id": runID, "pass": pass})
	limit := min(o.opts.Parallelism, len(pending))
	passLog.Infof("Dispatching %d targets to %d workers", len(pending), limit)
	o.deps.Metrics.ObservePass(len(pending))

	lastLogged := 0
	results, errMap := parallel.Map(ctx, limit, pending,
		func(t models.CrawlTarget) string { return t.URL },
		func(ctx context.Context, t models.CrawlTarget) (models.FetchOutcome, error) {
			return o.fetchOne(ctx, t), nil
		},
		parallel.WithProgress(func(done, total int) {
			if o.opts.OnProgress != nil {
				o.opts.OnProgress(pass, done, total)
			}
			if done == total || done-lastLogged >= 50 {
				lastLogged = done
				passLog.Infof("Progress: %d/%d targets", done, total)
			}
		}),
	)

	for _, t := range pending {
		res, ok := results[t.URL]
		if !ok {
			continue // never dispatched: context ended
		}
		outcome := res.Value
		if res.Err != nil {
			// The worker panicked
			outcome = models.FetchOutcome{URL: t.URL, Key: artifact.KeyFor(t), Err: res.Err}
		}
		if !outcome.Status.IsValid() {
			outcome.Status = utils.ClassifyFetchError(outcome.Err)
		}
		o.record(passLog, runID, t, outcome)
		pr.Outcomes[outcome.Status]++
		if outcome.Status == models.FetchStatusPermanentFailure {
			excluded[t.URL] = struct{}{}
		}
	}
	pr.Duration = time.Since(start)

	passLog.WithFields(logrus.Fields{
		"success":   pr.Outcomes[models.FetchStatusSuccess],
		"transient": pr.Outcomes[models.FetchStatusTransientFailure],
		"permanent": pr.Outcomes[models.FetchStatusPermanentFailure],
	}).Infof("Pass finished in %s", pr.Duration.Round(time.Millisecond))

	if errMap != nil {
		return pr, fmt.Errorf("pass %d interrupted: %w", pass, errMap)
	}
	return pr, nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, t models.CrawlTarget) models.FetchOutcome {
	if o.opts.PerTargetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PerTargetTimeout)
		defer cancel()
	}
	return o.deps.Worker.FetchTarget(ctx, t, artifact.Path(o.opts.OutputDir, artifact.KeyFor(t)))
}

// record stores outcome in the ledger and metrics; ledger failures are logged only
func (o *Orchestrator) record(passLog *logrus.Entry, runID string, t models.CrawlTarget, outcome models.FetchOutcome) {
	o.deps.Metrics.ObserveOutcome(outcome)
	if o.deps.Ledger == nil {
		return
	}
	key := artifact.KeyFor(t)
	entry := models.OutcomeEntry{
		Status:        outcome.Status,
		LanguageISO:   key.LanguageISO,
		TranslationID: key.TranslationID,
		Verses:        outcome.Verses,
		RunID:         runID,
	}
	if outcome.Err != nil {
		entry.ErrorType = utils.CategorizeError(outcome.Err)
		entry.ErrorMessage = outcome.Err.Error()
	}
	if outcome.Status == models.FetchStatusSuccess {
		if sum, err := utils.CalculateFileSHA256(artifact.Path(o.opts.OutputDir, key)); err == nil {
			entry.ArtifactSHA256 = sum
		}
	}
	if _, err := o.deps.Ledger.RecordOutcome(t.URL, entry); err != nil {
		passLog.WithField("url", t.URL).Errorf("Failed to record outcome: %v", err)
	}
}

func (o *Orchestrator) report(ctx context.Context, runLog *logrus.Entry, targets []models.CrawlTarget, result *RunResult) error {
	if o.deps.Ledger != nil && o.opts.OutcomeLogPath != "" {
		if err := o.deps.Ledger.WriteOutcomeLog(ctx, o.opts.OutcomeLogPath); err != nil {
			runLog.Warnf("Could not write outcome log: %v", err)
		}
	}
	if o.deps.Reporter == nil {
		return nil
	}
	coverage, err := o.deps.Reporter.BuildCoverageReport(ctx, targets)
	if err != nil {
		return fmt.Errorf("building coverage report: %w", err)
	}
	result.Coverage = coverage

	aggregated, err := o.deps.Reporter.BuildAggregatedReport(ctx)
	if err != nil {
		return fmt.Errorf("building aggregated report: %w", err)
	}
	result.Aggregated = aggregated

	if o.opts.WriteSummary {
		if _, _, err := o.deps.Reporter.WriteSummary(ctx, aggregated); err != nil && !errors.Is(err, context.Canceled) {
			runLog.Warnf("Could not write summary: %v", err)
		}
	}
	return nil
}

func (o *Orchestrator) logSummary(ctx context.Context, runLog *logrus.Entry, r *RunResult) {
	runLog.Info("============================================")
	runLog.Infof("Crawl run completed in %v", r.Duration.Round(time.Millisecond))
	for _, p := range r.Passes {
		runLog.Infof("  Pass %d: %d dispatched, %d ok, %d transient, %d permanent (%v)",
			p.Pass, p.Dispatched,
			p.Outcomes[models.FetchStatusSuccess],
			p.Outcomes[models.FetchStatusTransientFailure],
			p.Outcomes[models.FetchStatusPermanentFailure],
			p.Duration.Round(time.Millisecond))
	}
	runLog.Info("--------------------------------------------")
	runLog.Infof("Total: %d targets, %d passes, %d dispatched, %d still pending",
		r.Targets, len(r.Passes), r.Dispatched(), len(r.Pending))
	if o.deps.Ledger != nil {
		if counts, err := o.deps.Ledger.CountByStatus(ctx); err == nil {
			runLog.Infof("Ledger: %d success, %d transient, %d permanent (all runs)",
				counts[models.FetchStatusSuccess],
				counts[models.FetchStatusTransientFailure],
				counts[models.FetchStatusPermanentFailure])
		}
		for i, t := range r.Pending {
			if i == maxPendingLogged {
				runLog.Debugf("  ... and %d more pending", len(r.Pending)-i)
				break
			}
			entry, found, err := o.deps.Ledger.GetOutcome(t.URL)
			if err != nil || !found {
				continue
			}
			runLog.WithFields(logrus.Fields{"url": t.URL, "attempts": entry.Attempts, "error_type": entry.ErrorType}).
				Debugf("  Pending: %s", entry.ErrorMessage)
		}
	}
	runLog.Info("============================================")
}
