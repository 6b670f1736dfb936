// Package ingest implements the per-record ingestion pipeline: normalize,
// resolve by UPC, detect tracked-field changes, and atomically apply the
// entry update together with its history snapshot.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Outcome classifies what one record did to the catalog.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeInvalid   Outcome = "invalid"
)

// BookStore is the slice of the book repository the processor writes
// through. Calls made with the transactional context participate in the
// open transaction.
type BookStore interface {
	// GetForUpdate locks and returns the entry for upc, or nil when absent.
	GetForUpdate(ctx context.Context, upc string) (*models.Book, error)
	// Create inserts a new entry. It returns nil when another writer won
	// the race for the same UPC.
	Create(ctx context.Context, record models.Record, now time.Time) (*models.Book, error)
	// UpdateTracked applies the record's tracked fields and bumps last_updated.
	UpdateTracked(ctx context.Context, id int64, record models.Record, now time.Time) error
	// UpdateDescriptive overwrites title, category, description and cover.
	UpdateDescriptive(ctx context.Context, id int64, record models.Record) error
}

// SnapshotStore appends history rows.
type SnapshotStore interface {
	Append(ctx context.Context, snapshot *models.Snapshot) error
}

// Processor runs the ingestion pipeline for single records.
type Processor struct {
	db              database.DB
	books           BookStore
	snapshots       SnapshotStore
	normalizer      *normalizers.Normalizer
	logger          ectologger.Logger
	conflictRetries int
	now             func() time.Time
}

func NewProcessor(
	db database.DB,
	books BookStore,
	snapshots SnapshotStore,
	normalizer *normalizers.Normalizer,
	logger ectologger.Logger,
	conflictRetries int,
) *Processor {
	if conflictRetries < 1 {
		conflictRetries = 1
	}
	return &Processor{
		db:              db,
		books:           books,
		snapshots:       snapshots,
		normalizer:      normalizer,
		logger:          logger,
		conflictRetries: conflictRetries,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ProcessRecord ingests one raw record. Validation failures are terminal for
// the record and reported as OutcomeInvalid; write-write conflicts are
// retried a bounded number of times before giving up.
func (p *Processor) ProcessRecord(ctx context.Context, raw models.RawRecord) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Processor.ProcessRecord")
	defer span.End()

	record, err := p.normalizer.Normalize(ctx, raw)
	if err != nil {
		metrics.RecordsIngested.WithLabelValues(string(OutcomeInvalid)).Inc()
		p.logger.WithContext(ctx).WithError(err).WithField("upc", record.UPC).Warn("Dropping invalid record")
		return OutcomeInvalid, err
	}

	var outcome Outcome
	for attempt := 1; ; attempt++ {
		outcome, err = p.ingestOne(ctx, record)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt >= p.conflictRetries {
			return outcome, err
		}
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"upc":     record.UPC,
			"attempt": attempt,
		}).Warn("Ingestion conflict, retrying record")
		metrics.IngestConflicts.Inc()
	}

	metrics.RecordsIngested.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// ingestOne applies one canonical record as a single transaction: the entry
// update and its snapshot commit together or not at all.
func (p *Processor) ingestOne(ctx context.Context, record models.Record) (Outcome, error) {
	txCtx, tx, err := p.db.GetTx(ctx, nil)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusServiceUnavailable, "catalog store unavailable")
	}
	defer tx.Rollback(ctx)

	now := p.now()

	book, err := p.books.GetForUpdate(txCtx, record.UPC)
	if err != nil {
		return "", err
	}

	if book == nil {
		return p.createEntry(ctx, txCtx, tx, record, now)
	}

	changes := DetectChanges(book, record)

	if DescriptiveChanged(book, record) {
		if err := p.books.UpdateDescriptive(txCtx, book.ID, record); err != nil {
			return "", err
		}
	}

	if changes.IsEmpty() {
		// Re-ingesting an unchanged record is a true no-op: last_updated
		// stays where it was.
		if err := tx.Commit(txCtx); err != nil {
			return "", err
		}
		return OutcomeUnchanged, nil
	}

	if err := p.books.UpdateTracked(txCtx, book.ID, record, now); err != nil {
		return "", err
	}
	if err := p.snapshots.Append(txCtx, snapshotFrom(book.ID, record, now)); err != nil {
		return "", err
	}

	if err := tx.Commit(txCtx); err != nil {
		return "", err
	}

	metrics.SnapshotsWritten.Inc()
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"upc":     record.UPC,
		"book_id": book.ID,
		"changed": changes.Fields(),
	}).Info("Catalog entry updated with history")
	return OutcomeUpdated, nil
}

func (p *Processor) createEntry(ctx, txCtx context.Context, tx database.Tx, record models.Record, now time.Time) (Outcome, error) {
	book, err := p.books.Create(txCtx, record, now)
	if err != nil {
		return "", err
	}
	if book == nil {
		// A concurrent first sighting of the same UPC won the insert race.
		// Surface it as a conflict so the caller re-runs detection against
		// the winner's committed state.
		return "", conflictErr(record.UPC)
	}

	if err := p.snapshots.Append(txCtx, snapshotFrom(book.ID, record, now)); err != nil {
		return "", err
	}

	if err := tx.Commit(txCtx); err != nil {
		return "", err
	}

	metrics.SnapshotsWritten.Inc()
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"upc":     record.UPC,
		"book_id": book.ID,
	}).Info("Catalog entry created with baseline snapshot")
	return OutcomeCreated, nil
}

func snapshotFrom(bookID int64, record models.Record, now time.Time) *models.Snapshot {
	return &models.Snapshot{
		BookID:      bookID,
		UPC:         record.UPC,
		Price:       record.Price,
		Stock:       record.Stock,
		Rating:      record.Rating,
		ReviewCount: record.ReviewCount,
		RecordedAt:  now,
	}
}

func conflictErr(upc string) error {
	return &insertRace{upc: upc}
}

// insertRace marks a lost first-sighting race; IsConflict treats it as
// retryable alongside the postgres conflict codes.
type insertRace struct {
	upc string
}

func (e *insertRace) Error() string {
	return fmt.Sprintf("concurrent first sighting of %q", e.upc)
}

func isRetryable(err error) bool {
	var race *insertRace
	return database.IsConflict(err) || errors.As(err, &race)
}
