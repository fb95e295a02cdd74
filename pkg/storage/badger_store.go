package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/log"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const (
	outcomeKeyPrefix = "outcome:"    // Prefix for target URL keys in DB
	outcomesDBDir    = "outcomes_db" // Subdirectory name within stateDir for Badger DB files
)

// OutcomeLogColumns is the header of the TSV written by WriteOutcomeLog
var OutcomeLogColumns = []string{"url", "status", "error_type", "attempts", "last_attempt", "verses", "run_id"}

// BadgerStore implements OutcomeLedger using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the outcome ledger under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, outcomesDBDir)
	storeLog := logger.WithField("component", "outcome_ledger")

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	storeLog.Debugf("Outcome ledger opened at %s", dbPath)
	return &BadgerStore{db: db, log: storeLog}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for transaction conflicts.
// Workers record outcomes concurrently; conflicts on distinct keys resolve on the next try.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func outcomeKey(url string) []byte {
	return []byte(outcomeKeyPrefix + url)
}

// RecordOutcome implements OutcomeLedger
func (s *BadgerStore) RecordOutcome(url string, entry models.OutcomeEntry) (*models.OutcomeEntry, error) {
	if !entry.Status.IsValid() {
		return nil, fmt.Errorf("%w: refusing to record invalid status %q for '%s'", utils.ErrDatabase, entry.Status, url)
	}
	if entry.LastAttempt.IsZero() {
		entry.LastAttempt = time.Now()
	}
	key := outcomeKey(url)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		prevAttempts := 0
		item, errGet := txn.Get(key)
		switch {
		case errGet == nil:
			_ = item.Value(func(val []byte) error {
				var prev models.OutcomeEntry
				if json.Unmarshal(val, &prev) == nil {
					prevAttempts = prev.Attempts
				}
				return nil
			})
		case !errors.Is(errGet, badger.ErrKeyNotFound):
			return errGet
		}
		entry.Attempts = prevAttempts + 1

		data, errJSON := json.Marshal(entry)
		if errJSON != nil {
			return fmt.Errorf("%w: marshal outcome: %w", utils.ErrParsing, errJSON)
		}
		return txn.SetEntry(badger.NewEntry(key, data))
	})
	if err != nil {
		s.log.WithField("url", url).Errorf("DB Update error in RecordOutcome: %v", err)
		return nil, fmt.Errorf("%w: recording outcome for '%s': %w", utils.ErrDatabase, url, err)
	}

	s.log.WithFields(logrus.Fields{"url": url, "status": entry.Status, "attempts": entry.Attempts}).Trace("Outcome recorded")
	return &entry, nil
}

// GetOutcome implements OutcomeLedger
func (s *BadgerStore) GetOutcome(url string) (*models.OutcomeEntry, bool, error) {
	var entry *models.OutcomeEntry
	key := outcomeKey(url)

	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			var decoded models.OutcomeEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal outcome for key '%s': %v. Treating as not found.", string(key), errJSON)
				return nil
			}
			entry = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading outcome for '%s': %w", utils.ErrDatabase, url, err)
	}
	return entry, entry != nil, nil
}

// scan iterates every outcome entry, stopping early if ctx ends or fn errors
func (s *BadgerStore) scan(ctx context.Context, fn func(url string, entry models.OutcomeEntry) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(outcomeKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			url := string(item.Key()[len(outcomeKeyPrefix):])
			var entry models.OutcomeEntry
			errValue := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if errValue != nil {
				s.log.Warnf("Skipping unreadable outcome for '%s': %v", url, errValue)
				continue
			}
			if err := fn(url, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: scanning outcomes: %w", utils.ErrDatabase, err)
	}
	return err
}

// ListOutcomes implements OutcomeLedger
func (s *BadgerStore) ListOutcomes(ctx context.Context) (map[string]models.OutcomeEntry, error) {
	out := make(map[string]models.OutcomeEntry)
	err := s.scan(ctx, func(url string, entry models.OutcomeEntry) error {
		out[url] = entry
		return nil
	})
	return out, err
}

// PermanentFailures implements OutcomeLedger
func (s *BadgerStore) PermanentFailures(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := s.scan(ctx, func(url string, entry models.OutcomeEntry) error {
		if entry.Status == models.FetchStatusPermanentFailure {
			out[url] = struct{}{}
		}
		return nil
	})
	return out, err
}

// CountByStatus implements OutcomeLedger
func (s *BadgerStore) CountByStatus(ctx context.Context) (map[models.FetchStatus]int, error) {
	out := make(map[models.FetchStatus]int)
	err := s.scan(ctx, func(_ string, entry models.OutcomeEntry) error {
		out[entry.Status]++
		return nil
	})
	return out, err
}

// WriteOutcomeLog implements OutcomeLedger. Rows are sorted by URL.
func (s *BadgerStore) WriteOutcomeLog(ctx context.Context, filePath string) error {
	outcomes, err := s.ListOutcomes(ctx)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(outcomes))
	for url := range outcomes {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	rows := make([][]string, 0, len(urls))
	for _, url := range urls {
		e := outcomes[url]
		rows = append(rows, []string{
			url,
			e.Status.String(),
			e.ErrorType,
			strconv.Itoa(e.Attempts),
			e.LastAttempt.UTC().Format(time.RFC3339),
			strconv.Itoa(e.Verses),
			e.RunID,
		})
	}
	if err := WriteTable(filePath, OutcomeLogColumns, rows); err != nil {
		return err
	}
	s.log.Infof("Wrote %d outcomes to %s", len(rows), filePath)
	return nil
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// StartGC runs RunGC in the background until the returned stop func is
// called. stop waits for the loop to exit, so Close after stop never races a GC pass.
func (s *BadgerStore) StartGC(ctx context.Context, interval time.Duration) (stop func()) {
	gcCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunGC(gcCtx, interval)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Close implements OutcomeLedger
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing outcome ledger: %v", err)
		return fmt.Errorf("%w: closing ledger: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Outcome ledger closed")
	return nil
}
