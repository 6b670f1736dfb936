// Package catalog answers the read side: listings, search, aggregates and
// history queries over the current-state table and the snapshot log.
package catalog

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var validate = validator.New()

const (
	defaultPageSize       = 20
	defaultTopCategories  = 10
	defaultChangeLimit    = 50
	defaultStockThreshold = 5
)

// BookReader is the slice of the book repository the read side needs.
type BookReader interface {
	GetByID(ctx context.Context, id int64) (*models.Book, error)
	GetByUPC(ctx context.Context, upc string) (*models.Book, error)
	List(ctx context.Context, params models.ListParams) ([]models.Book, int, error)
	Search(ctx context.Context, params models.SearchParams) ([]models.Book, int, error)
	Categories(ctx context.Context) ([]string, error)
	Random(ctx context.Context, n int) ([]models.Book, error)
	Count(ctx context.Context) (int, error)
	GeneralStats(ctx context.Context) (*models.GeneralStats, error)
	TopCategories(ctx context.Context, limit int) ([]models.CategoryCount, error)
	PriceByCategory(ctx context.Context) ([]models.CategoryPrice, error)
	RatingDistribution(ctx context.Context) ([]models.RatingBucket, error)
	PriceRanges(ctx context.Context, boundaries []float64) ([]models.PriceRangeBucket, error)
	LowStock(ctx context.Context, threshold int) ([]models.StockAlert, error)
	RecentlyChanged(ctx context.Context, since time.Time, limit int) ([]models.ChangedBook, error)
}

// SnapshotReader is the slice of the snapshot repository the read side needs.
type SnapshotReader interface {
	ListForBook(ctx context.Context, bookID int64, since time.Time, limit int) ([]models.Snapshot, error)
	PriceSeries(ctx context.Context, bookID int64, since time.Time) ([]models.PricePoint, error)
	RecentPriceChanges(ctx context.Context, since time.Time, limit int) ([]models.PriceChange, error)
}

// Config carries the service's tunables.
type Config struct {
	MaxPageSize     int
	MaxRandomSample int
	PriceBuckets    []float64
}

// Service is the catalog query engine.
type Service struct {
	books     BookReader
	snapshots SnapshotReader
	cache     *redis.Cache
	logger    ectologger.Logger
	cfg       Config
}

// NewService creates a new catalog service. cache may be nil.
func NewService(books BookReader, snapshots SnapshotReader, cache *redis.Cache, cfg Config, logger ectologger.Logger) *Service {
	if cfg.MaxPageSize < 1 {
		cfg.MaxPageSize = 100
	}
	if cfg.MaxRandomSample < 1 {
		cfg.MaxRandomSample = 50
	}
	if len(cfg.PriceBuckets) == 0 {
		cfg.PriceBuckets = []float64{10, 20, 30, 40, 50}
	}
	return &Service{
		books:     books,
		snapshots: snapshots,
		cache:     cache,
		logger:    logger,
		cfg:       cfg,
	}
}

// GetBook returns the current state of one book.
func (s *Service) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.GetBook")
	defer span.End()
	defer observe("get_book")()

	return s.books.GetByID(ctx, id)
}

// GetBookByUPC returns the current state of one book by its UPC.
func (s *Service) GetBookByUPC(ctx context.Context, upc string) (*models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.GetBookByUPC")
	defer span.End()
	defer observe("get_book_by_upc")()

	return s.books.GetByUPC(ctx, upc)
}

// ListBooks returns a page of the catalog.
func (s *Service) ListBooks(ctx context.Context, params models.ListParams) (*models.BookListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.ListBooks")
	defer span.End()
	defer observe("list_books")()

	s.applyPaging(&params.Page, &params.PageSize)
	if err := validate.Struct(params); err != nil {
		return nil, invalidParams(err)
	}

	items, totalCount, err := s.books.List(ctx, params)
	if err != nil {
		return nil, err
	}

	return &models.BookListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       params.Page,
		PageSize:   params.PageSize,
	}, nil
}

// SearchBooks returns the page of books matching every supplied filter.
func (s *Service) SearchBooks(ctx context.Context, params models.SearchParams) (*models.BookListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.SearchBooks")
	defer span.End()
	defer observe("search_books")()

	s.applyPaging(&params.Page, &params.PageSize)
	if err := validate.Struct(params); err != nil {
		return nil, invalidParams(err)
	}
	if params.MinPrice != nil && params.MaxPrice != nil && *params.MinPrice > *params.MaxPrice {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "min_price must not exceed max_price")
	}
	if params.MinRating != nil && params.MaxRating != nil && *params.MinRating > *params.MaxRating {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "min_rating must not exceed max_rating")
	}

	items, totalCount, err := s.books.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	return &models.BookListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       params.Page,
		PageSize:   params.PageSize,
	}, nil
}

// Categories returns every distinct category in the catalog.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.Categories")
	defer span.End()
	defer observe("categories")()

	return s.books.Categories(ctx)
}

// RandomBooks returns up to n uniformly sampled books, capped by
// MaxRandomSample.
func (s *Service) RandomBooks(ctx context.Context, n int) ([]models.Book, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.RandomBooks")
	defer span.End()
	defer observe("random_books")()

	if n < 1 {
		n = 1
	}
	if n > s.cfg.MaxRandomSample {
		n = s.cfg.MaxRandomSample
	}
	return s.books.Random(ctx, n)
}

// CountBooks returns the total number of catalog entries.
func (s *Service) CountBooks(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.CountBooks")
	defer span.End()
	defer observe("count_books")()

	return s.books.Count(ctx)
}

// GeneralStats returns the whole-catalog rollup, cached.
func (s *Service) GeneralStats(ctx context.Context) (*models.GeneralStats, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.GeneralStats")
	defer span.End()
	defer observe("general_stats")()

	var cached models.GeneralStats
	if s.cache.GetJSON(ctx, "stats:general", &cached) {
		return &cached, nil
	}

	stats, err := s.books.GeneralStats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, "stats:general", stats)
	return stats, nil
}

// TopCategories returns the limit largest categories, cached for the default
// limit.
func (s *Service) TopCategories(ctx context.Context, limit int) ([]models.CategoryCount, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.TopCategories")
	defer span.End()
	defer observe("top_categories")()

	if limit < 1 {
		limit = defaultTopCategories
	}

	if limit == defaultTopCategories {
		var cached []models.CategoryCount
		if s.cache.GetJSON(ctx, "stats:top_categories", &cached) {
			return cached, nil
		}
		counts, err := s.books.TopCategories(ctx, limit)
		if err != nil {
			return nil, err
		}
		s.cache.SetJSON(ctx, "stats:top_categories", counts)
		return counts, nil
	}

	return s.books.TopCategories(ctx, limit)
}

// PriceByCategory returns the mean price per category, cached.
func (s *Service) PriceByCategory(ctx context.Context) ([]models.CategoryPrice, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.PriceByCategory")
	defer span.End()
	defer observe("price_by_category")()

	var cached []models.CategoryPrice
	if s.cache.GetJSON(ctx, "stats:price_by_category", &cached) {
		return cached, nil
	}

	prices, err := s.books.PriceByCategory(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, "stats:price_by_category", prices)
	return prices, nil
}

// RatingDistribution returns one bucket per rating 0 through 5, zero-filled,
// cached.
func (s *Service) RatingDistribution(ctx context.Context) ([]models.RatingBucket, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.RatingDistribution")
	defer span.End()
	defer observe("rating_distribution")()

	var cached []models.RatingBucket
	if s.cache.GetJSON(ctx, "stats:rating_distribution", &cached) {
		return cached, nil
	}

	present, err := s.books.RatingDistribution(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int, len(present))
	for _, bucket := range present {
		counts[bucket.Rating] = bucket.Count
	}
	buckets := make([]models.RatingBucket, 0, 6)
	for rating := 0; rating <= 5; rating++ {
		buckets = append(buckets, models.RatingBucket{Rating: rating, Count: counts[rating]})
	}

	s.cache.SetJSON(ctx, "stats:rating_distribution", buckets)
	return buckets, nil
}

// PriceRanges returns the configured price histogram, cached.
func (s *Service) PriceRanges(ctx context.Context) ([]models.PriceRangeBucket, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.PriceRanges")
	defer span.End()
	defer observe("price_ranges")()

	var cached []models.PriceRangeBucket
	if s.cache.GetJSON(ctx, "stats:price_ranges", &cached) {
		return cached, nil
	}

	buckets, err := s.books.PriceRanges(ctx, s.cfg.PriceBuckets)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, "stats:price_ranges", buckets)
	return buckets, nil
}

// BookHistory returns a book's snapshot history, ascending. A positive limit
// keeps the most recent rows. The book must exist.
func (s *Service) BookHistory(ctx context.Context, bookID int64, since time.Time, limit int) ([]models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.BookHistory")
	defer span.End()
	defer observe("book_history")()

	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	return s.snapshots.ListForBook(ctx, bookID, since, limit)
}

// PriceHistory returns a book's price time series, ascending. The book must
// exist.
func (s *Service) PriceHistory(ctx context.Context, bookID int64, since time.Time) ([]models.PricePoint, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.PriceHistory")
	defer span.End()
	defer observe("price_history")()

	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return nil, err
	}
	return s.snapshots.PriceSeries(ctx, bookID, since)
}

// RecentPriceChanges returns the latest price movement per book within the
// last days days.
func (s *Service) RecentPriceChanges(ctx context.Context, days, limit int) ([]models.PriceChange, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.RecentPriceChanges")
	defer span.End()
	defer observe("recent_price_changes")()

	if days < 1 {
		days = 7
	}
	if limit < 1 || limit > defaultChangeLimit {
		limit = defaultChangeLimit
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.snapshots.RecentPriceChanges(ctx, since, limit)
}

// RecentlyChanged returns books with any tracked-field change in the last
// days days, most recently changed first.
func (s *Service) RecentlyChanged(ctx context.Context, days, limit int) ([]models.ChangedBook, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.RecentlyChanged")
	defer span.End()
	defer observe("recently_changed")()

	if days < 1 {
		days = 7
	}
	if limit < 1 || limit > defaultChangeLimit {
		limit = defaultChangeLimit
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.books.RecentlyChanged(ctx, since, limit)
}

// StockAlerts returns every book at or below threshold, scarcest first, with
// out-of-stock entries flagged separately from low-stock ones.
func (s *Service) StockAlerts(ctx context.Context, threshold int) ([]models.StockAlert, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Service.StockAlerts")
	defer span.End()
	defer observe("stock_alerts")()

	if threshold < 0 {
		threshold = defaultStockThreshold
	}

	alerts, err := s.books.LowStock(ctx, threshold)
	if err != nil {
		return nil, err
	}
	for i := range alerts {
		if alerts[i].CurrentStock == 0 {
			alerts[i].Status = models.StockStatusOut
		} else {
			alerts[i].Status = models.StockStatusLow
		}
	}
	return alerts, nil
}

// applyPaging fills in defaults for absent paging values. Explicit negatives
// are left alone so validation rejects them.
func (s *Service) applyPaging(page, pageSize *int) {
	if *page == 0 {
		*page = 1
	}
	if *pageSize == 0 {
		*pageSize = defaultPageSize
	}
	if *pageSize > s.cfg.MaxPageSize {
		*pageSize = s.cfg.MaxPageSize
	}
}

func invalidParams(err error) error {
	httpErr := httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	if verrs, ok := err.(validator.ValidationErrors); ok {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		httpErr = httpErr.AddMetaValue("fields", fields)
	}
	return httpErr
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
