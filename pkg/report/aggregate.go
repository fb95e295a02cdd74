package report

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// SourceFromReportName extracts the source tag from "crawl_report_{source}.tsv"
func SourceFromReportName(name string) (string, bool) {
	base := filepath.Base(name)
	rest, ok := strings.CutPrefix(base, reportPrefix)
	if !ok {
		return "", false
	}
	source, ok := strings.CutSuffix(rest, reportExt)
	if !ok || source == "" {
		return "", false
	}
	return source, true
}

// LoadCoverageReport reads a per-source report back into rows.
// Rows with a non-numeric trans_ID or verses value are skipped.
func LoadCoverageReport(path string) ([]models.CoverageRow, error) {
	table, err := storage.ReadTable(path)
	if err != nil {
		return nil, err
	}
	for _, col := range CoverageColumns {
		if table.Col(col) < 0 {
			return nil, utils.WrapErrorf(utils.ErrParsing, "TSV report '%s' is missing column '%s'", path, col)
		}
	}
	rows := make([]models.CoverageRow, 0, len(table.Rows))
	for _, raw := range table.Rows {
		id, errID := strconv.Atoi(table.Get(raw, "trans_ID"))
		verses, errV := strconv.Atoi(table.Get(raw, "verses"))
		if errID != nil || errV != nil {
			continue
		}
		rows = append(rows, models.CoverageRow{
			LanguageISO:   table.Get(raw, "language_iso"),
			TranslationID: id,
			LanguageName:  table.Get(raw, "language_name"),
			Verses:        verses,
		})
	}
	return rows, nil
}

// BuildAggregatedReport concatenates every per-source report under the reports directory,
// tagging each row with its source, and writes final_rep.tsv. Rows are not deduplicated.
func (r *Reporter) BuildAggregatedReport(ctx context.Context) ([]models.AggregatedRow, error) {
	paths, err := filepath.Glob(filepath.Join(r.reportsDir, reportPrefix+"*"+reportExt))
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrFilesystem, "listing reports in '%s': %v", r.reportsDir, err)
	}
	sort.Strings(paths)

	var all []models.AggregatedRow
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		source, ok := SourceFromReportName(path)
		if !ok {
			continue
		}
		rows, errLoad := LoadCoverageReport(path)
		if errLoad != nil {
			r.log.WithField("file", path).Warnf("Skipping unreadable report: %v", errLoad)
			continue
		}
		for _, row := range rows {
			all = append(all, models.AggregatedRow{CoverageRow: row, Source: source})
		}
		r.log.WithFields(logrus.Fields{"source": source, "rows": len(rows)}).Debug("Loaded coverage report")
	}

	out := make([][]string, 0, len(all))
	for _, row := range all {
		out = append(out, []string{
			row.LanguageISO, strconv.Itoa(row.TranslationID), row.LanguageName, strconv.Itoa(row.Verses), row.Source,
		})
	}
	path := AggregatedReportPath(r.reportsDir)
	if err := storage.WriteTable(path, AggregatedColumns, out); err != nil {
		return nil, err
	}
	r.log.Infof("Aggregated %d rows from %d reports into %s", len(all), len(paths), path)
	return all, nil
}
