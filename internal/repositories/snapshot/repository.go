package snapshot

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const snapshotTable = "book_snapshots"

var snapshotStruct = database.NewStruct(new(models.Snapshot))

// Repository handles the append-only snapshot history
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append writes one history row inside the caller's transaction and fills in
// the generated ID. Rows are never updated or deleted afterwards.
func (r *Repository) Append(ctx context.Context, snapshot *models.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Append")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return database.StoreError(err, "failed to open transaction")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(snapshotTable)
	ib.Cols("book_id", "upc", "price", "stock", "rating", "review_count", "recorded_at")
	ib.Values(snapshot.BookID, snapshot.UPC, snapshot.Price, snapshot.Stock,
		snapshot.Rating, snapshot.ReviewCount, snapshot.RecordedAt)

	query, args := ib.Returning("id").Build()
	if err := tx.GetContext(ctx, &snapshot.ID, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"book_id": snapshot.BookID, "upc": snapshot.UPC}).Error("Failed to append snapshot")
		return database.StoreError(err, "failed to append snapshot")
	}
	return nil
}

// ListForBook returns a book's history ascending by recorded_at. A zero since
// means the full history; a positive limit keeps only the most recent rows,
// still returned ascending.
func (r *Repository) ListForBook(ctx context.Context, bookID int64, since time.Time, limit int) ([]models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.ListForBook")
	defer span.End()

	sb := snapshotStruct.SelectFrom(snapshotTable)
	where := []string{sb.Equal("book_id", bookID)}
	if !since.IsZero() {
		where = append(where, sb.GreaterEqualThan("recorded_at", since))
	}
	sb.Where(where...)
	sb.OrderBy("recorded_at DESC", "id DESC")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var snapshots []models.Snapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("book_id", bookID).Error("Failed to list snapshots")
		return nil, database.StoreError(err, "failed to list snapshots")
	}

	// Fetched newest-first so the limit keeps the most recent rows; callers
	// read history oldest-first.
	reverse(snapshots)
	return snapshots, nil
}

// PriceSeries returns a book's price over time, oldest first.
func (r *Repository) PriceSeries(ctx context.Context, bookID int64, since time.Time) ([]models.PricePoint, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.PriceSeries")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("recorded_at", "price")
	sb.From(snapshotTable)
	where := []string{sb.Equal("book_id", bookID)}
	if !since.IsZero() {
		where = append(where, sb.GreaterEqualThan("recorded_at", since))
	}
	sb.Where(where...)
	sb.OrderBy("recorded_at ASC", "id ASC")

	query, args := sb.Build()
	var points []models.PricePoint
	if err := r.db.SelectContext(ctx, &points, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("book_id", bookID).Error("Failed to load price series")
		return nil, database.StoreError(err, "failed to load price series")
	}
	return points, nil
}

// RecentPriceChanges returns, per book, the latest price movement recorded at
// or after since. Books whose last two snapshots carry the same price are
// skipped, as is the baseline row of a first sighting.
func (r *Repository) RecentPriceChanges(ctx context.Context, since time.Time, limit int) ([]models.PriceChange, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.RecentPriceChanges")
	defer span.End()

	query := `
		WITH ranked AS (
			SELECT s.book_id, s.price, s.recorded_at,
			       ROW_NUMBER() OVER (PARTITION BY s.book_id ORDER BY s.recorded_at DESC, s.id DESC) AS rn
			FROM book_snapshots s
		)
		SELECT b.id AS book_id, b.upc, b.title,
		       old.price AS old_price, new.price AS new_price,
		       ((new.price - old.price) / old.price * 100)::float8 AS change_percent,
		       new.recorded_at AS changed_at
		FROM ranked new
		JOIN ranked old ON old.book_id = new.book_id AND old.rn = 2
		JOIN books b ON b.id = new.book_id
		WHERE new.rn = 1
		  AND new.recorded_at >= $1
		  AND new.price <> old.price
		  AND old.price <> 0
		ORDER BY new.recorded_at DESC
		LIMIT $2
	`

	var changes []models.PriceChange
	if err := r.db.SelectContext(ctx, &changes, query, since, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("since", since).Error("Failed to load recent price changes")
		return nil, database.StoreError(err, "failed to load price changes")
	}
	return changes, nil
}

func reverse(snapshots []models.Snapshot) {
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
}
