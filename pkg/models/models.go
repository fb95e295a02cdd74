package models

import (
	"fmt"
	"time"
)

// CrawlTarget is one catalog entry: a translation's first content page.
// The URL is the identity; the record is never mutated after discovery.
type CrawlTarget struct {
	URL           string `json:"url"`
	LanguageISO   string `json:"language_iso"`
	Description   string `json:"description"`
	Year          int    `json:"year,omitempty"` // 0 = unknown
	LanguageName  string `json:"language_name"`
	TranslationID int    `json:"trans_id"`
}

// ArtifactKey is the join key between targets, artifact files and report rows
type ArtifactKey struct {
	LanguageISO   string
	TranslationID int
}

// String renders the key the same way it appears in artifact filenames
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s_%d", k.LanguageISO, k.TranslationID)
}

// FetchOutcome is what a worker returns for each dispatched target
type FetchOutcome struct {
	URL      string
	Key      ArtifactKey
	Status   FetchStatus
	Verses   int           // Lines written on success
	Err      error         // Set on failure
	Duration time.Duration // Wall time spent on the target
}

// OutcomeEntry is the ledger record persisted per target URL
type OutcomeEntry struct {
	Status         FetchStatus `json:"status"`
	ErrorType      string      `json:"error_type,omitempty"`    // Error category (on failure)
	ErrorMessage   string      `json:"error_message,omitempty"` // Last error text (on failure)
	LanguageISO    string      `json:"language_iso"`
	TranslationID  int         `json:"trans_id"`
	Verses         int         `json:"verses,omitempty"`          // On success
	ArtifactSHA256 string      `json:"artifact_sha256,omitempty"` // On success
	LastAttempt    time.Time   `json:"last_attempt"`
	Attempts       int         `json:"attempts"`
	RunID          string      `json:"run_id,omitempty"`
}

// CoverageRow is one line of a per-source coverage report
type CoverageRow struct {
	LanguageISO   string `json:"language_iso"`
	TranslationID int    `json:"trans_id"`
	LanguageName  string `json:"language_name"`
	Verses        int    `json:"verses"`
}

// Key returns the artifact key this row joins on
func (r CoverageRow) Key() ArtifactKey {
	return ArtifactKey{LanguageISO: r.LanguageISO, TranslationID: r.TranslationID}
}

// AggregatedRow is a coverage row tagged with the source it was loaded from
type AggregatedRow struct {
	CoverageRow
	Source string `json:"source"`
}
