package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
)

// TargetStore is the persisted catalog of crawl targets
type TargetStore interface {
	// Load returns every stored target in file order.
	// Returns ErrTargetStoreNotExists if the store was never written.
	Load(ctx context.Context) ([]models.CrawlTarget, error)

	// Replace overwrites the whole catalog; rows are never merged
	Replace(ctx context.Context, targets []models.CrawlTarget) error

	// Path identifies the backing location for logs
	Path() string
}

// OutcomeLedger keeps the latest fetch outcome per target URL across runs
type OutcomeLedger interface {
	// RecordOutcome stores entry for url, incrementing the attempt counter
	RecordOutcome(url string, entry models.OutcomeEntry) (*models.OutcomeEntry, error)

	// GetOutcome returns the entry for url; found is false if the URL was never recorded
	GetOutcome(url string) (entry *models.OutcomeEntry, found bool, err error)

	// ListOutcomes returns every recorded entry keyed by URL
	ListOutcomes(ctx context.Context) (map[string]models.OutcomeEntry, error)

	// PermanentFailures returns the URLs whose latest outcome is permanent_failure
	PermanentFailures(ctx context.Context) (map[string]struct{}, error)

	// CountByStatus tallies latest outcomes per status
	CountByStatus(ctx context.Context) (map[models.FetchStatus]int, error)

	// WriteOutcomeLog writes url/status/error rows as TSV to filePath
	WriteOutcomeLog(ctx context.Context, filePath string) error

	// RunGC runs periodic value-log garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database
	Close() error
}
