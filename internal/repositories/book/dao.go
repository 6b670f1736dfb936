package book

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const bookTable = "books"

// BookRow mirrors the books table. Descriptive columns are nullable; the
// tracked columns are not.
type BookRow struct {
	ID          int64          `db:"id"`
	UPC         string         `db:"upc"`
	Title       string         `db:"title"`
	Price       float64        `db:"price"`
	Rating      int            `db:"rating"`
	Stock       int            `db:"stock"`
	Category    sql.NullString `db:"category"`
	Description sql.NullString `db:"description"`
	ReviewCount int            `db:"review_count"`
	CoverURL    sql.NullString `db:"cover_url"`
	FirstSeen   time.Time      `db:"first_seen"`
	LastUpdated time.Time      `db:"last_updated"`
}

var bookStruct = database.NewStruct(new(BookRow))

// generalStatsRow carries the aggregate query result; averages come back as
// float8 so sqlx can scan them directly.
type generalStatsRow struct {
	TotalBooks int     `db:"total_books"`
	AvgPrice   float64 `db:"avg_price"`
	MinPrice   float64 `db:"min_price"`
	MaxPrice   float64 `db:"max_price"`
}

type priceBucketRow struct {
	Bucket int `db:"bucket"`
	Count  int `db:"count"`
}

func ToBook(row *BookRow) models.Book {
	return models.Book{
		ID:          row.ID,
		UPC:         row.UPC,
		Title:       row.Title,
		Price:       row.Price,
		Rating:      row.Rating,
		Stock:       row.Stock,
		Category:    row.Category.String,
		Description: row.Description.String,
		ReviewCount: row.ReviewCount,
		CoverURL:    row.CoverURL.String,
		FirstSeen:   row.FirstSeen,
		LastUpdated: row.LastUpdated,
	}
}

type changedBookRow struct {
	BookRow
	ChangedAt time.Time `db:"changed_at"`
}

func toChangedBooks(rows []changedBookRow) []models.ChangedBook {
	changed := make([]models.ChangedBook, 0, len(rows))
	for i := range rows {
		changed = append(changed, models.ChangedBook{
			Book:      ToBook(&rows[i].BookRow),
			ChangedAt: rows[i].ChangedAt,
		})
	}
	return changed
}

func ToBooks(rows []BookRow) []models.Book {
	books := make([]models.Book, 0, len(rows))
	for i := range rows {
		books = append(books, ToBook(&rows[i]))
	}
	return books
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
