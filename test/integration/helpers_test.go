package integration

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	bookrepo "github.com/Ramsey-B/fern/internal/repositories/book"
	snapshotrepo "github.com/Ramsey-B/fern/internal/repositories/snapshot"
	"github.com/Ramsey-B/fern/internal/services/catalog"
	"github.com/Ramsey-B/fern/internal/services/ingestion"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// TestHarness wires the real ingest pipeline and query services against the
// database named by TEST_DATABASE_URL. Tests are skipped when the variable is
// unset or -short is given.
type TestHarness struct {
	DB        database.DB
	Books     *bookrepo.Repository
	Snapshots *snapshotrepo.Repository
	Ingestion *ingestion.Service
	Catalog   *catalog.Service
}

func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	applyMigrations(t, dsn)

	sqlxDB, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	_, err = sqlxDB.Exec(`TRUNCATE book_snapshots, books RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {})

	db := database.NewDatabaseInstance(sqlxDB, logger)
	books := bookrepo.NewRepository(db, logger)
	snapshots := snapshotrepo.NewRepository(db, logger)

	normalizer := normalizers.New("http://books.toscrape.com", logger)
	processor := ingest.NewProcessor(db, books, snapshots, normalizer, logger, 3)

	return &TestHarness{
		DB:        db,
		Books:     books,
		Snapshots: snapshots,
		Ingestion: ingestion.NewService(processor, 2, logger),
		Catalog: catalog.NewService(books, snapshots, nil, catalog.Config{
			MaxPageSize:     100,
			MaxRandomSample: 50,
			PriceBuckets:    []float64{10, 20, 30, 40, 50},
		}, logger),
	}
}

func applyMigrations(t *testing.T, dsn string) {
	t.Helper()

	m, err := migrate.New("file://../../db/pg", dsn)
	require.NoError(t, err)
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("failed to apply migrations: %v", err)
	}
}

// Ingest runs one batch and fails the test on any pipeline error.
func (h *TestHarness) Ingest(t *testing.T, records []models.RawRecord) *models.IngestReport {
	t.Helper()

	report, err := h.Ingestion.IngestBatch(context.Background(), records)
	require.NoError(t, err)
	return report
}

func scrapedBook(upc, title, price, rating, category string, stock, reviews int) models.RawRecord {
	return models.RawRecord{
		"upc":               upc,
		"title":             title,
		"price":             price,
		"rating":            rating,
		"availability":      fmt.Sprintf("In stock (%d available)", stock),
		"number_of_reviews": reviews,
		"category":          category,
		"description":       "A " + category + " title.",
		"cover":             "../../media/cache/" + upc + ".jpg",
	}
}

func seedCatalog(t *testing.T, h *TestHarness) {
	t.Helper()

	h.Ingest(t, []models.RawRecord{
		scrapedBook("a897fe39b1053632", "A Light in the Attic", "£51.77", "Three", "Poetry", 22, 0),
		scrapedBook("90fa61229261140a", "Tipping the Velvet", "£53.74", "One", "Historical Fiction", 20, 0),
		scrapedBook("6957f44c3847a760", "Soumission", "£50.10", "One", "Fiction", 20, 0),
		scrapedBook("e00eb4fd7b871a48", "Sharp Objects", "£47.82", "Four", "Mystery", 20, 0),
		scrapedBook("4165285e1663650f", "Sapiens", "£54.23", "Five", "History", 20, 0),
		scrapedBook("f77dbf2323deb740", "The Requiem Red", "£22.65", "One", "Young Adult", 19, 0),
		scrapedBook("2597b5a345f45e1b", "The Dirty Little Secrets", "£33.34", "Four", "Business", 19, 0),
		scrapedBook("e72a5dfc7e9267b2", "The Coming Woman", "£17.93", "Three", "Default", 19, 0),
		scrapedBook("e10e1e165dc8be4a", "The Boys in the Boat", "£22.60", "Four", "Default", 3, 0),
		scrapedBook("1dfe412b8ac00530", "The Black Maria", "£52.15", "One", "Poetry", 0, 0),
	})
}
