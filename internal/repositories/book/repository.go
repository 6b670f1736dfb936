package book

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// sortColumns is the allowlist of sortable columns; anything else falls back
// to id.
var sortColumns = map[string]string{
	"id":     "id",
	"title":  "title",
	"price":  "price",
	"rating": "rating",
	"stock":  "stock",
}

// Repository handles current-state book persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new book repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetForUpdate locks the row for upc within the caller's transaction and
// returns it, or nil when no entry exists yet.
func (r *Repository) GetForUpdate(ctx context.Context, upc string) (*models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.GetForUpdate")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, database.StoreError(err, "failed to open transaction")
	}

	sb := bookStruct.SelectFrom(bookTable)
	sb.Where(sb.Equal("upc", upc))
	sb.SQL("FOR UPDATE")

	query, args := sb.Build()
	var row BookRow
	if err := tx.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("upc", upc).Error("Failed to lock book row")
		return nil, database.StoreError(err, "failed to get book")
	}

	book := ToBook(&row)
	return &book, nil
}

// Create inserts a first sighting. It returns nil when a concurrent writer
// already inserted the same UPC; the caller re-runs detection against the
// committed row.
func (r *Repository) Create(ctx context.Context, record models.Record, now time.Time) (*models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.Create")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, database.StoreError(err, "failed to open transaction")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(bookTable)
	ib.Cols("upc", "title", "price", "rating", "stock", "category", "description", "review_count", "cover_url", "first_seen", "last_updated")
	ib.Values(record.UPC, record.Title, record.Price, record.Rating, record.Stock,
		nullString(record.Category), nullString(record.Description), record.ReviewCount,
		nullString(record.CoverURL), now, now)
	ib.OnConflictDoNothing("upc")

	query, args := ib.Returning("id").Build()
	var id int64
	if err := tx.GetContext(ctx, &id, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("upc", record.UPC).Error("Failed to insert book")
		return nil, database.StoreError(err, "failed to create book")
	}

	return &models.Book{
		ID:          id,
		UPC:         record.UPC,
		Title:       record.Title,
		Price:       record.Price,
		Rating:      record.Rating,
		Stock:       record.Stock,
		Category:    record.Category,
		Description: record.Description,
		ReviewCount: record.ReviewCount,
		CoverURL:    record.CoverURL,
		FirstSeen:   now,
		LastUpdated: now,
	}, nil
}

// UpdateTracked applies the record's tracked fields and bumps last_updated.
// Descriptive fields are left alone.
func (r *Repository) UpdateTracked(ctx context.Context, id int64, record models.Record, now time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.UpdateTracked")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return database.StoreError(err, "failed to open transaction")
	}

	ub := database.NewUpdateBuilder()
	ub.Update(bookTable)
	ub.Set(
		ub.Assign("price", record.Price),
		ub.Assign("stock", record.Stock),
		ub.Assign("rating", record.Rating),
		ub.Assign("review_count", record.ReviewCount),
		ub.Assign("last_updated", now),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "upc": record.UPC}).Error("Failed to update tracked fields")
		return database.StoreError(err, "failed to update book")
	}
	return nil
}

// UpdateDescriptive overwrites title, category, description and cover without
// touching last_updated; only tracked-field changes move that clock.
func (r *Repository) UpdateDescriptive(ctx context.Context, id int64, record models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.UpdateDescriptive")
	defer span.End()

	_, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return database.StoreError(err, "failed to open transaction")
	}

	ub := database.NewUpdateBuilder()
	ub.Update(bookTable)
	ub.Set(
		ub.Assign("title", record.Title),
		ub.Assign("category", nullString(record.Category)),
		ub.Assign("description", nullString(record.Description)),
		ub.Assign("cover_url", nullString(record.CoverURL)),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "upc": record.UPC}).Error("Failed to update descriptive fields")
		return database.StoreError(err, "failed to update book")
	}
	return nil
}

// GetByID retrieves a book by ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.GetByID")
	defer span.End()

	sb := bookStruct.SelectFrom(bookTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row BookRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "book %d not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get book")
		return nil, database.StoreError(err, "failed to get book")
	}

	book := ToBook(&row)
	return &book, nil
}

// GetByUPC retrieves a book by UPC
func (r *Repository) GetByUPC(ctx context.Context, upc string) (*models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.GetByUPC")
	defer span.End()

	sb := bookStruct.SelectFrom(bookTable)
	sb.Where(sb.Equal("upc", upc))

	query, args := sb.Build()
	var row BookRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "book with upc %s not found", upc)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("upc", upc).Error("Failed to get book by upc")
		return nil, database.StoreError(err, "failed to get book")
	}

	book := ToBook(&row)
	return &book, nil
}

// List retrieves a page of the catalog with optional category filter
func (r *Repository) List(ctx context.Context, params models.ListParams) ([]models.Book, int, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.List")
	defer span.End()

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(bookTable)
	if params.Category != "" {
		countSb.Where(countSb.Equal("category", params.Category))
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("category", params.Category).Error("Failed to count books")
		return nil, 0, database.StoreError(err, "failed to count books")
	}

	sb := bookStruct.SelectFrom(bookTable)
	if params.Category != "" {
		sb.Where(sb.Equal("category", params.Category))
	}
	sb.OrderBy(orderClause(params.SortBy, params.Order))
	sb.Limit(params.PageSize).Offset((params.Page - 1) * params.PageSize)

	query, args := sb.Build()
	var rows []BookRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"category": params.Category, "page": params.Page, "page_size": params.PageSize}).Error("Failed to list books")
		return nil, 0, database.StoreError(err, "failed to list books")
	}

	return ToBooks(rows), totalCount, nil
}

// Search applies every supplied filter conjunctively and returns a page plus
// the total match count.
func (r *Repository) Search(ctx context.Context, params models.SearchParams) ([]models.Book, int, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.Search")
	defer span.End()

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(bookTable)
	if where := searchConditions(&countSb.Cond, params); len(where) > 0 {
		countSb.Where(where...)
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("query", params.Query).Error("Failed to count search results")
		return nil, 0, database.StoreError(err, "failed to search books")
	}

	sb := bookStruct.SelectFrom(bookTable)
	if where := searchConditions(&sb.Cond, params); len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy(orderClause(params.SortBy, params.Order))
	sb.Limit(params.PageSize).Offset((params.Page - 1) * params.PageSize)

	query, args := sb.Build()
	var rows []BookRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("query", params.Query).Error("Failed to search books")
		return nil, 0, database.StoreError(err, "failed to search books")
	}

	return ToBooks(rows), totalCount, nil
}

// Categories returns every distinct non-empty category, sorted.
func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.Categories")
	defer span.End()

	query := `
		SELECT DISTINCT category
		FROM books
		WHERE category IS NOT NULL AND category <> ''
		ORDER BY category
	`

	var categories []string
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list categories")
		return nil, database.StoreError(err, "failed to list categories")
	}
	return categories, nil
}

// Random returns up to n books sampled uniformly.
func (r *Repository) Random(ctx context.Context, n int) ([]models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.Random")
	defer span.End()

	sb := bookStruct.SelectFrom(bookTable)
	sb.OrderBy("random()")
	sb.Limit(n)

	query, args := sb.Build()
	var rows []BookRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", n).Error("Failed to sample books")
		return nil, database.StoreError(err, "failed to sample books")
	}
	return ToBooks(rows), nil
}

// Count returns the number of catalog entries.
func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.Count")
	defer span.End()

	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM books"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count books")
		return 0, database.StoreError(err, "failed to count books")
	}
	return count, nil
}

// GeneralStats returns the whole-catalog rollup. An empty catalog yields all
// zeroes rather than SQL nulls.
func (r *Repository) GeneralStats(ctx context.Context) (*models.GeneralStats, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.GeneralStats")
	defer span.End()

	query := `
		SELECT COUNT(*) AS total_books,
		       COALESCE(AVG(price), 0)::float8 AS avg_price,
		       COALESCE(MIN(price), 0)::float8 AS min_price,
		       COALESCE(MAX(price), 0)::float8 AS max_price
		FROM books
	`

	var row generalStatsRow
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to compute general stats")
		return nil, database.StoreError(err, "failed to compute stats")
	}

	return &models.GeneralStats{
		TotalBooks: row.TotalBooks,
		AvgPrice:   row.AvgPrice,
		MinPrice:   row.MinPrice,
		MaxPrice:   row.MaxPrice,
	}, nil
}

// TopCategories returns the limit largest categories by book count.
func (r *Repository) TopCategories(ctx context.Context, limit int) ([]models.CategoryCount, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.TopCategories")
	defer span.End()

	query := `
		SELECT category, COUNT(*) AS count
		FROM books
		WHERE category IS NOT NULL AND category <> ''
		GROUP BY category
		ORDER BY count DESC, category ASC
		LIMIT $1
	`

	var counts []models.CategoryCount
	if err := r.db.SelectContext(ctx, &counts, query, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("limit", limit).Error("Failed to compute top categories")
		return nil, database.StoreError(err, "failed to compute stats")
	}
	return counts, nil
}

// PriceByCategory returns the mean price of every category, most expensive
// first.
func (r *Repository) PriceByCategory(ctx context.Context) ([]models.CategoryPrice, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.PriceByCategory")
	defer span.End()

	query := `
		SELECT category, AVG(price)::float8 AS avg_price
		FROM books
		WHERE category IS NOT NULL AND category <> ''
		GROUP BY category
		ORDER BY avg_price DESC
	`

	var prices []models.CategoryPrice
	if err := r.db.SelectContext(ctx, &prices, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to compute price by category")
		return nil, database.StoreError(err, "failed to compute stats")
	}
	return prices, nil
}

// RatingDistribution returns the count per rating value actually present;
// rating 0 counts unrated books. Callers fill in missing buckets.
func (r *Repository) RatingDistribution(ctx context.Context) ([]models.RatingBucket, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.RatingDistribution")
	defer span.End()

	query := `
		SELECT rating, COUNT(*) AS count
		FROM books
		GROUP BY rating
		ORDER BY rating
	`

	var buckets []models.RatingBucket
	if err := r.db.SelectContext(ctx, &buckets, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to compute rating distribution")
		return nil, database.StoreError(err, "failed to compute stats")
	}
	return buckets, nil
}

// PriceRanges histograms current prices over the given ascending boundaries.
// Bucket 0 is everything below the first boundary; the last bucket is open.
// Empty buckets are present with a zero count.
func (r *Repository) PriceRanges(ctx context.Context, boundaries []float64) ([]models.PriceRangeBucket, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.PriceRanges")
	defer span.End()

	query := `
		SELECT width_bucket(price, $1::float8[]) AS bucket, COUNT(*) AS count
		FROM books
		GROUP BY bucket
		ORDER BY bucket
	`

	var rows []priceBucketRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(boundaries)); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to compute price ranges")
		return nil, database.StoreError(err, "failed to compute stats")
	}

	counts := make(map[int]int, len(rows))
	for _, row := range rows {
		counts[row.Bucket] = row.Count
	}

	buckets := make([]models.PriceRangeBucket, 0, len(boundaries)+1)
	for i := 0; i <= len(boundaries); i++ {
		buckets = append(buckets, models.PriceRangeBucket{
			Range: bucketLabel(boundaries, i),
			Count: counts[i],
		})
	}
	return buckets, nil
}

// LowStock returns every book at or below threshold, scarcest first, with the
// time the book was last observed.
func (r *Repository) LowStock(ctx context.Context, threshold int) ([]models.StockAlert, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.LowStock")
	defer span.End()

	query := `
		SELECT b.id AS book_id, b.upc, b.title, b.stock AS current_stock,
		       (SELECT MAX(s.recorded_at) FROM book_snapshots s WHERE s.book_id = b.id) AS last_checked
		FROM books b
		WHERE b.stock <= $1
		ORDER BY b.stock ASC, b.title ASC
	`

	var alerts []models.StockAlert
	if err := r.db.SelectContext(ctx, &alerts, query, threshold); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("threshold", threshold).Error("Failed to find low stock books")
		return nil, database.StoreError(err, "failed to find low stock books")
	}
	return alerts, nil
}

// RecentlyChanged returns books whose latest snapshot was recorded at or
// after since, most recently changed first.
func (r *Repository) RecentlyChanged(ctx context.Context, since time.Time, limit int) ([]models.ChangedBook, error) {
	ctx, span := tracing.StartSpan(ctx, "book.Repository.RecentlyChanged")
	defer span.End()

	query := `
		SELECT b.*, s.changed_at
		FROM books b
		JOIN (
			SELECT book_id, MAX(recorded_at) AS changed_at
			FROM book_snapshots
			GROUP BY book_id
		) s ON s.book_id = b.id
		WHERE s.changed_at >= $1
		ORDER BY s.changed_at DESC, b.id DESC
		LIMIT $2
	`

	var rows []changedBookRow
	if err := r.db.SelectContext(ctx, &rows, query, since, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("since", since).Error("Failed to find recently changed books")
		return nil, database.StoreError(err, "failed to find recently changed books")
	}
	return toChangedBooks(rows), nil
}

// orderClause maps a sort key to a SQL ORDER BY clause. Non-id sorts carry an
// id tiebreaker so pagination stays stable when the sort column has ties.
func orderClause(sortBy, order string) string {
	column, ok := sortColumns[sortBy]
	if !ok {
		column = "id"
	}
	direction := " ASC"
	if order == "desc" {
		direction = " DESC"
	}
	if column == "id" {
		return column + direction
	}
	return column + direction + ", id" + direction
}

func searchConditions(cond *database.Cond, params models.SearchParams) []string {
	var where []string
	if params.Query != "" {
		pattern := "%" + params.Query + "%"
		where = append(where, cond.Or(
			cond.ILike("title", pattern),
			cond.ILike("description", pattern),
		))
	}
	if params.Category != "" {
		where = append(where, cond.Equal("category", params.Category))
	}
	if params.MinPrice != nil {
		where = append(where, cond.GreaterEqualThan("price", *params.MinPrice))
	}
	if params.MaxPrice != nil {
		where = append(where, cond.LessEqualThan("price", *params.MaxPrice))
	}
	if params.MinRating != nil {
		where = append(where, cond.GreaterEqualThan("rating", *params.MinRating))
	}
	if params.MaxRating != nil {
		where = append(where, cond.LessEqualThan("rating", *params.MaxRating))
	}
	return where
}

func bucketLabel(boundaries []float64, bucket int) string {
	if bucket == 0 {
		return fmt.Sprintf("0-%s", trimFloat(boundaries[0]))
	}
	if bucket == len(boundaries) {
		return trimFloat(boundaries[bucket-1]) + "+"
	}
	return fmt.Sprintf("%s-%s", trimFloat(boundaries[bucket-1]), trimFloat(boundaries[bucket]))
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
