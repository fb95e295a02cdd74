package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/parse"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// Target table columns, in file order
const (
	ColURL           = "url"
	ColLanguageISO   = "language_iso"
	ColDescription   = "Description"
	ColYear          = "Year"
	ColLanguageName  = "language_name"
	ColTranslationID = "trans_ID"
)

// TargetColumns is the header written to the target table
var TargetColumns = []string{ColURL, ColLanguageISO, ColDescription, ColYear, ColLanguageName, ColTranslationID}

// TSVTargetStore keeps the catalog in a single tab-separated file
type TSVTargetStore struct {
	path string
	log  *logrus.Entry
}

// NewTSVTargetStore returns a store backed by path; the file is created on first Replace
func NewTSVTargetStore(path string, log *logrus.Entry) *TSVTargetStore {
	return &TSVTargetStore{path: path, log: log.WithField("component", "target_store")}
}

// Path implements TargetStore
func (s *TSVTargetStore) Path() string { return s.path }

// Load implements TargetStore. Rows without a URL or a numeric trans_ID are skipped with a warning;
// a URL that normalizes to one already seen keeps its first row.
func (s *TSVTargetStore) Load(ctx context.Context) ([]models.CrawlTarget, error) {
	table, err := ReadTable(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", utils.ErrTargetStoreNotExists, s.path)
		}
		return nil, err
	}
	for _, col := range []string{ColURL, ColLanguageISO, ColTranslationID} {
		if table.Col(col) < 0 {
			return nil, utils.WrapErrorf(utils.ErrParsing, "TSV '%s' is missing column '%s'", s.path, col)
		}
	}

	targets := make([]models.CrawlTarget, 0, len(table.Rows))
	seen := make(map[string]struct{}, len(table.Rows))
	skipped := 0
	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rawURL := table.Get(row, ColURL)
		transID, errID := strconv.Atoi(table.Get(row, ColTranslationID))
		if rawURL == "" || errID != nil {
			s.log.WithField("line", i+2).Warn("Skipping target row with missing url or non-numeric trans_ID")
			skipped++
			continue
		}
		normalized, _, errURL := parse.ParseAndNormalize(rawURL)
		if errURL != nil {
			s.log.WithFields(logrus.Fields{"line": i + 2, "url": rawURL}).Warnf("Skipping target row with unparseable url: %v", errURL)
			skipped++
			continue
		}
		if _, dup := seen[normalized]; dup {
			s.log.WithField("url", rawURL).Warn("Duplicate target URL, keeping first row")
			skipped++
			continue
		}
		seen[normalized] = struct{}{}

		year, _ := strconv.Atoi(table.Get(row, ColYear))
		targets = append(targets, models.CrawlTarget{
			URL:           rawURL,
			LanguageISO:   table.Get(row, ColLanguageISO),
			Description:   table.Get(row, ColDescription),
			Year:          year,
			LanguageName:  table.Get(row, ColLanguageName),
			TranslationID: transID,
		})
	}

	s.log.WithFields(logrus.Fields{"path": s.path, "targets": len(targets), "skipped": skipped}).Debug("Loaded target store")
	return targets, nil
}

// Replace implements TargetStore
func (s *TSVTargetStore) Replace(ctx context.Context, targets []models.CrawlTarget) error {
	rows := make([][]string, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		year := ""
		if t.Year > 0 {
			year = strconv.Itoa(t.Year)
		}
		rows = append(rows, []string{
			t.URL, t.LanguageISO, t.Description, year, t.LanguageName, strconv.Itoa(t.TranslationID),
		})
	}
	if err := WriteTable(s.path, TargetColumns, rows); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"path": s.path, "targets": len(targets)}).Info("Target store written")
	return nil
}
