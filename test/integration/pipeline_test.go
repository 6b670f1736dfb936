package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestIngestPipeline_FirstRun(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()

	report := h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0),
		scrapedBook("90fa61229261140a", "Tipping the Velvet", "£53.74", "One", "Historical Fiction", 20, 0),
	})

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Snapshots)
	assert.Equal(t, 0, report.Invalid)

	book, err := h.Catalog.GetBookByUPC(ctx, "a897fe39b1053632")
	require.NoError(t, err)
	assert.Equal(t, "A Light in the Attic", book.Title)
	assert.Equal(t, 51.77, book.Price)
	assert.Equal(t, 3, book.Rating)
	assert.Equal(t, 22, book.Stock)
	assert.Equal(t, "Poetry", book.Category)
	assert.Equal(t, "http://books.toscrape.com/media/cache/a897fe39b1053632.jpg", book.CoverURL)
	assert.False(t, book.FirstSeen.IsZero())

	// every new book gets a baseline history row
	history, err := h.Catalog.BookHistory(ctx, book.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 51.77, history[0].Price)
	assert.Equal(t, 22, history[0].Stock)
}

func TestIngestPipeline_ReingestIsIdempotent(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()

	records := []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0),
	}
	h.Ingest(t, records)

	report := h.Ingest(t, records)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Snapshots)

	book, err := h.Catalog.GetBookByUPC(ctx, "a897fe39b1053632")
	require.NoError(t, err)
	history, err := h.Catalog.BookHistory(ctx, book.ID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIngestPipeline_TrackedChangeAppendsSnapshot(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()

	h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0),
	})

	report := h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£45.00", "Three", "Poetry", 10, 0),
	})
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Snapshots)

	book, err := h.Catalog.GetBookByUPC(ctx, "a897fe39b1053632")
	require.NoError(t, err)
	assert.Equal(t, 45.00, book.Price)
	assert.Equal(t, 10, book.Stock)

	history, err := h.Catalog.BookHistory(ctx, book.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// ascending order, baseline first
	assert.Equal(t, 51.77, history[0].Price)
	assert.Equal(t, 45.00, history[1].Price)

	changes, err := h.Catalog.RecentPriceChanges(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, book.ID, changes[0].BookID)
	assert.Equal(t, 51.77, changes[0].OldPrice)
	assert.Equal(t, 45.00, changes[0].NewPrice)
	assert.InDelta(t, -13.07, changes[0].ChangePercent, 0.01)

	changed, err := h.Catalog.RecentlyChanged(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, book.ID, changed[0].ID)
	assert.False(t, changed[0].ChangedAt.IsZero())
}

func TestIngestPipeline_DescriptiveDriftLeavesHistoryAlone(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()

	h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0),
	})

	changed := scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0)
	changed["description"] = "Rewritten blurb."
	report := h.Ingest(t, []models.RawRecord{changed})

	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Snapshots)

	book, err := h.Catalog.GetBookByUPC(ctx, "a897fe39b1053632")
	require.NoError(t, err)
	assert.Equal(t, "Rewritten blurb.", book.Description)

	history, err := h.Catalog.BookHistory(ctx, book.ID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIngestPipeline_InvalidRecordsAreCounted(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()

	report := h.Ingest(t, []models.RawRecord{
		{"title": "No identifier", "price": "£10.00"},
		{"upc": "deadbeef00000001", "title": "Bad price", "price": "one pound"},
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0),
	})

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Invalid)
	assert.Equal(t, 1, report.Created)

	count, err := h.Catalog.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueryEngine_ListingAndSearch(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()
	seedCatalog(t, h)

	page, err := h.Catalog.ListBooks(ctx, models.ListParams{SortBy: "price", Order: "asc", PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 10, page.TotalCount)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "The Coming Woman", page.Items[0].Title)

	poetry, err := h.Catalog.ListBooks(ctx, models.ListParams{Category: "Poetry"})
	require.NoError(t, err)
	assert.Equal(t, 2, poetry.TotalCount)

	minPrice, maxPrice := 20.0, 50.0
	minRating := 4
	found, err := h.Catalog.SearchBooks(ctx, models.SearchParams{
		MinPrice:  &minPrice,
		MaxPrice:  &maxPrice,
		MinRating: &minRating,
		SortBy:    "price",
		Order:     "desc",
	})
	require.NoError(t, err)
	require.Len(t, found.Items, 3)
	assert.Equal(t, "Sharp Objects", found.Items[0].Title)

	byTitle, err := h.Catalog.SearchBooks(ctx, models.SearchParams{Query: "sharp"})
	require.NoError(t, err)
	require.Len(t, byTitle.Items, 1)
	assert.Equal(t, "e00eb4fd7b871a48", byTitle.Items[0].UPC)

	categories, err := h.Catalog.Categories(ctx)
	require.NoError(t, err)
	assert.Contains(t, categories, "Poetry")
	assert.Contains(t, categories, "Business")

	random, err := h.Catalog.RandomBooks(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, random, 4)
}

func TestQueryEngine_Stats(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()
	seedCatalog(t, h)

	stats, err := h.Catalog.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalBooks)
	assert.Equal(t, 17.93, stats.MinPrice)
	assert.Equal(t, 54.23, stats.MaxPrice)
	assert.InDelta(t, 40.633, stats.AvgPrice, 0.01)

	top, err := h.Catalog.TopCategories(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 2, top[0].Count)

	ratings, err := h.Catalog.RatingDistribution(ctx)
	require.NoError(t, err)
	require.Len(t, ratings, 6)
	assert.Equal(t, 0, ratings[0].Count) // no unrated books seeded
	assert.Equal(t, 4, ratings[1].Count)
	assert.Equal(t, 3, ratings[4].Count)

	ranges, err := h.Catalog.PriceRanges(ctx)
	require.NoError(t, err)
	require.Len(t, ranges, 6)
	assert.Equal(t, "10-20", ranges[1].Range)
	assert.Equal(t, 1, ranges[1].Count)
	assert.Equal(t, "50+", ranges[5].Range)
	assert.Equal(t, 5, ranges[5].Count)
}

func TestQueryEngine_StockAlerts(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()
	seedCatalog(t, h)

	alerts, err := h.Catalog.StockAlerts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	// ordered by stock ascending: sold-out first
	assert.Equal(t, "1dfe412b8ac00530", alerts[0].UPC)
	assert.Equal(t, models.StockStatusOut, alerts[0].Status)
	assert.Equal(t, "e10e1e165dc8be4a", alerts[1].UPC)
	assert.Equal(t, models.StockStatusLow, alerts[1].Status)
	require.NotNil(t, alerts[0].LastChecked)
}

func TestQueryEngine_PriceHistoryWindow(t *testing.T) {
	h := NewTestHarness(t)
	ctx := context.Background()

	h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0),
	})
	h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£48.00", "Three", "Poetry", 21, 0),
	})
	h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£45.00", "Three", "Poetry", 20, 0),
	})

	book, err := h.Catalog.GetBookByUPC(ctx, "a897fe39b1053632")
	require.NoError(t, err)

	series, err := h.Catalog.PriceHistory(ctx, book.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, 51.77, series[0].Price)
	assert.Equal(t, 45.00, series[2].Price)

	// limit keeps the most recent rows, still ascending
	last, err := h.Catalog.BookHistory(ctx, book.ID, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 48.00, last[0].Price)
	assert.Equal(t, 45.00, last[1].Price)

	_, err = h.Catalog.BookHistory(ctx, 999999, time.Time{}, 0)
	assert.Error(t, err)
}
