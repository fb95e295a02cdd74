// Package report turns artifacts on disk into coverage and aggregated reports.
package report

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/artifact"
	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/metrics"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const (
	reportPrefix       = "crawl_report_"
	reportExt          = ".tsv"
	aggregatedFileName = "final_rep.tsv"
)

// CoverageColumns is the header of a per-source coverage report
var CoverageColumns = []string{"language_iso", "trans_ID", "language_name", "verses"}

// AggregatedColumns is the header of final_rep.tsv
var AggregatedColumns = []string{"language_iso", "trans_ID", "language_name", "verses", "source"}

// Reporter writes reports for one output directory
type Reporter struct {
	outputDir  string
	reportsDir string
	source     string
	metrics    *metrics.Recorder
	log        *logrus.Entry
}

// NewReporter reports on cfg.OutputDir under the name cfg.SourceName. rec may be nil.
func NewReporter(cfg *config.AppConfig, rec *metrics.Recorder, log *logrus.Entry) *Reporter {
	return &Reporter{
		outputDir:  cfg.OutputDir,
		reportsDir: cfg.ReportsDir(),
		source:     cfg.SourceName,
		metrics:    rec,
		log:        log.WithField("component", "reporter"),
	}
}

// CoverageReportPath is where the report for source is written
func CoverageReportPath(reportsDir, source string) string {
	return filepath.Join(reportsDir, reportPrefix+source+reportExt)
}

// AggregatedReportPath is where the aggregated report is written
func AggregatedReportPath(reportsDir string) string {
	return filepath.Join(reportsDir, aggregatedFileName)
}

// BuildCoverageReport produces one row per target with the verse count of its artifact (0 if none),
// and writes it as the report for this reporter's source. Artifacts are matched with artifact.KeyFor,
// the same key the worker writes them under.
func (r *Reporter) BuildCoverageReport(ctx context.Context, targets []models.CrawlTarget) ([]models.CoverageRow, error) {
	rows := make([]models.CoverageRow, len(targets))
	byKey := make(map[models.ArtifactKey][]int, len(targets))
	for i, t := range targets {
		rows[i] = models.CoverageRow{
			LanguageISO:   t.LanguageISO,
			TranslationID: t.TranslationID,
			LanguageName:  t.LanguageName,
		}
		// Join on the key the worker names the artifact with; trans_ID stays as stored
		key := artifact.KeyFor(t)
		if key != rows[i].Key() {
			r.log.WithFields(logrus.Fields{"url": t.URL, "artifact": key.String(), "row": rows[i].Key().String()}).
				Warn("Content URL translation id differs from trans_ID, joining on the URL id")
		}
		byKey[key] = append(byKey[key], i)
	}

	var malformed, orphans, matched int
	err := filepath.WalkDir(r.outputDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == r.outputDir && errors.Is(walkErr, fs.ErrNotExist) {
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
		if errKey != nil {
			malformed++
			r.log.WithField("file", path).Tracef("Skipping artifact: %v", errKey)
			return nil
		}
		indexes, ok := byKey[key]
		if !ok {
			orphans++
			r.log.WithFields(logrus.Fields{"file": path, "key": key.String()}).Info("Artifact matches no target row")
			return nil
		}
		lines, errCount := artifact.CountLines(path)
		if errCount != nil {
			r.log.WithField("file", path).Warnf("Could not count lines: %v", errCount)
			return nil
		}
		for _, i := range indexes {
			rows[i].Verses = lines
		}
		matched++
		return nil
	})
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrFilesystem, "scanning artifacts under '%s': %v", r.outputDir, err)
	}
	if malformed > 0 {
		r.log.Debugf("Skipped %d artifacts with malformed names", malformed)
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, []string{row.LanguageISO, strconv.Itoa(row.TranslationID), row.LanguageName, strconv.Itoa(row.Verses)})
	}
	path := CoverageReportPath(r.reportsDir, r.source)
	if err := storage.WriteTable(path, CoverageColumns, out); err != nil {
		return nil, err
	}
	r.metrics.SetCoverage(r.source, rows)

	r.log.WithFields(logrus.Fields{
		"rows":      len(rows),
		"artifacts": matched,
		"orphans":   orphans,
		"malformed": malformed,
	}).Infof("Coverage report written to %s", path)
	return rows, nil
}
