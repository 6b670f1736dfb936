package ingest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

type fakeTx struct {
	database.Tx
	committed  bool
	rolledBack bool
	closed     bool
}

func (t *fakeTx) IsOpen() bool { return !t.closed }

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.committed = true
	t.closed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.rolledBack = true
	t.closed = true
	return nil
}

type fakeDB struct {
	database.DB
	txs []*fakeTx
}

func (db *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	tx := &fakeTx{}
	db.txs = append(db.txs, tx)
	return ctx, tx, nil
}

func (db *fakeDB) lastTx() *fakeTx {
	return db.txs[len(db.txs)-1]
}

type fakeBookStore struct {
	byUPC  map[string]*models.Book
	nextID int64
	// loseRaces makes the next n Creates report a lost insert race. When
	// winner is set, losing also installs it as the committed row.
	loseRaces int
	winner    *models.Book

	trackedUpdates     int
	descriptiveUpdates int
}

func newFakeBookStore() *fakeBookStore {
	return &fakeBookStore{byUPC: map[string]*models.Book{}}
}

func (s *fakeBookStore) GetForUpdate(ctx context.Context, upc string) (*models.Book, error) {
	book, ok := s.byUPC[upc]
	if !ok {
		return nil, nil
	}
	copied := *book
	return &copied, nil
}

func (s *fakeBookStore) Create(ctx context.Context, record models.Record, now time.Time) (*models.Book, error) {
	if s.loseRaces > 0 {
		s.loseRaces--
		if s.winner != nil {
			s.byUPC[s.winner.UPC] = s.winner
		}
		return nil, nil
	}
	s.nextID++
	book := &models.Book{
		ID:          s.nextID,
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
	}
	s.byUPC[record.UPC] = book
	copied := *book
	return &copied, nil
}

func (s *fakeBookStore) UpdateTracked(ctx context.Context, id int64, record models.Record, now time.Time) error {
	s.trackedUpdates++
	for _, book := range s.byUPC {
		if book.ID == id {
			book.Price = record.Price
			book.Stock = record.Stock
			book.Rating = record.Rating
			book.ReviewCount = record.ReviewCount
			book.LastUpdated = now
		}
	}
	return nil
}

func (s *fakeBookStore) UpdateDescriptive(ctx context.Context, id int64, record models.Record) error {
	s.descriptiveUpdates++
	for _, book := range s.byUPC {
		if book.ID == id {
			book.Title = record.Title
			book.Category = record.Category
			book.Description = record.Description
			book.CoverURL = record.CoverURL
		}
	}
	return nil
}

type fakeSnapshotStore struct {
	snapshots []models.Snapshot
}

func (s *fakeSnapshotStore) Append(ctx context.Context, snapshot *models.Snapshot) error {
	snapshot.ID = int64(len(s.snapshots) + 1)
	s.snapshots = append(s.snapshots, *snapshot)
	return nil
}

var frozen = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestProcessor(books *fakeBookStore, snapshots *fakeSnapshotStore, retries int) (*Processor, *fakeDB) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db := &fakeDB{}
	p := NewProcessor(db, books, snapshots, normalizers.New("http://books.toscrape.com", logger), logger, retries)
	p.now = func() time.Time { return frozen }
	return p, db
}

func rawBook(overrides models.RawRecord) models.RawRecord {
	raw := models.RawRecord{
		"upc":               "a897fe39b1053632",
		"title":             "A Light in the Attic",
		"price":             "£51.77",
		"rating":            "Three",
		"stock":             22,
		"number_of_reviews": 5,
		"category":          "Poetry",
		"description":       "A classic.",
		"cover":             "../../media/cache/img.jpg",
	}
	for key, value := range overrides {
		raw[key] = value
	}
	return raw
}

func seededBook() *models.Book {
	return &models.Book{
		ID:          1,
		UPC:         "a897fe39b1053632",
		Title:       "A Light in the Attic",
		Price:       51.77,
		Rating:      3,
		Stock:       22,
		Category:    "Poetry",
		Description: "A classic.",
		ReviewCount: 5,
		CoverURL:    "http://books.toscrape.com/media/cache/img.jpg",
		FirstSeen:   frozen.Add(-24 * time.Hour),
		LastUpdated: frozen.Add(-24 * time.Hour),
	}
}

func TestProcessRecord_NewBookCreatesBaselineSnapshot(t *testing.T) {
	books := newFakeBookStore()
	snapshots := &fakeSnapshotStore{}
	p, db := newTestProcessor(books, snapshots, 3)

	outcome, err := p.ProcessRecord(context.Background(), rawBook(nil))

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.True(t, db.lastTx().committed)

	book := books.byUPC["a897fe39b1053632"]
	require.NotNil(t, book)
	assert.Equal(t, frozen, book.FirstSeen)

	require.Len(t, snapshots.snapshots, 1)
	baseline := snapshots.snapshots[0]
	assert.Equal(t, book.ID, baseline.BookID)
	assert.Equal(t, 51.77, baseline.Price)
	assert.Equal(t, 22, baseline.Stock)
	assert.Equal(t, 3, baseline.Rating)
	assert.Equal(t, 5, baseline.ReviewCount)
	assert.Equal(t, frozen, baseline.RecordedAt)
}

func TestProcessRecord_UnchangedRecordIsNoop(t *testing.T) {
	books := newFakeBookStore()
	books.byUPC["a897fe39b1053632"] = seededBook()
	snapshots := &fakeSnapshotStore{}
	p, db := newTestProcessor(books, snapshots, 3)

	outcome, err := p.ProcessRecord(context.Background(), rawBook(nil))

	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.True(t, db.lastTx().committed)
	assert.Empty(t, snapshots.snapshots)
	assert.Equal(t, 0, books.trackedUpdates)
	assert.Equal(t, frozen.Add(-24*time.Hour), books.byUPC["a897fe39b1053632"].LastUpdated)
}

func TestProcessRecord_PriceChangeWritesSnapshot(t *testing.T) {
	books := newFakeBookStore()
	books.byUPC["a897fe39b1053632"] = seededBook()
	snapshots := &fakeSnapshotStore{}
	p, _ := newTestProcessor(books, snapshots, 3)

	outcome, err := p.ProcessRecord(context.Background(), rawBook(models.RawRecord{"price": "£45.00"}))

	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, 1, books.trackedUpdates)

	require.Len(t, snapshots.snapshots, 1)
	assert.Equal(t, 45.00, snapshots.snapshots[0].Price)
	assert.Equal(t, 22, snapshots.snapshots[0].Stock)
	assert.Equal(t, frozen, books.byUPC["a897fe39b1053632"].LastUpdated)
}

func TestProcessRecord_DescriptiveDriftUpdatesInPlace(t *testing.T) {
	books := newFakeBookStore()
	books.byUPC["a897fe39b1053632"] = seededBook()
	snapshots := &fakeSnapshotStore{}
	p, _ := newTestProcessor(books, snapshots, 3)

	outcome, err := p.ProcessRecord(context.Background(), rawBook(models.RawRecord{"title": "A Light in the Attic (Reissue)"}))

	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, 1, books.descriptiveUpdates)
	assert.Empty(t, snapshots.snapshots)
	assert.Equal(t, "A Light in the Attic (Reissue)", books.byUPC["a897fe39b1053632"].Title)
	assert.Equal(t, frozen.Add(-24*time.Hour), books.byUPC["a897fe39b1053632"].LastUpdated)
}

func TestProcessRecord_InvalidRecordIsTerminal(t *testing.T) {
	books := newFakeBookStore()
	snapshots := &fakeSnapshotStore{}
	p, db := newTestProcessor(books, snapshots, 3)

	outcome, err := p.ProcessRecord(context.Background(), models.RawRecord{"title": "No Identifier"})

	require.Error(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.True(t, normalizers.IsValidationError(err))
	assert.Empty(t, db.txs)
}

func TestProcessRecord_LostInsertRaceRetriesAgainstWinner(t *testing.T) {
	books := newFakeBookStore()
	books.loseRaces = 1
	books.winner = seededBook()
	snapshots := &fakeSnapshotStore{}
	p, db := newTestProcessor(books, snapshots, 3)

	outcome, err := p.ProcessRecord(context.Background(), rawBook(nil))

	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Empty(t, snapshots.snapshots)
	// first attempt rolled back, the retry committed
	require.Len(t, db.txs, 2)
	assert.True(t, db.txs[0].rolledBack)
	assert.True(t, db.txs[1].committed)
}

func TestProcessRecord_RetriesExhausted(t *testing.T) {
	books := newFakeBookStore()
	books.loseRaces = 10
	snapshots := &fakeSnapshotStore{}
	p, _ := newTestProcessor(books, snapshots, 2)

	_, err := p.ProcessRecord(context.Background(), rawBook(nil))

	require.Error(t, err)
	assert.True(t, isRetryable(err))
	assert.Empty(t, snapshots.snapshots)
}
