package models

import (
	"time"
)

// Book is the current state of one catalog entry. Exactly one row exists per
// UPC; tracked fields (price, stock, rating, review count) are versioned in
// book_snapshots, descriptive fields are overwritten in place.
type Book struct {
	ID          int64     `json:"id" db:"id"`
	UPC         string    `json:"upc" db:"upc"`
	Title       string    `json:"title" db:"title"`
	Price       float64   `json:"price" db:"price"`
	Rating      int       `json:"rating" db:"rating"` // 1-5, 0 = unrated
	Stock       int       `json:"stock" db:"stock"`
	Category    string    `json:"category" db:"category"`
	Description string    `json:"description" db:"description"`
	ReviewCount int       `json:"review_count" db:"review_count"`
	CoverURL    string    `json:"cover_url" db:"cover_url"`
	FirstSeen   time.Time `json:"first_seen" db:"first_seen"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Snapshot is one immutable history row: the full tracked-field state of a
// book as of RecordedAt. Rows are append-only and ordered by recorded_at.
type Snapshot struct {
	ID          int64     `json:"id" db:"id"`
	BookID      int64     `json:"book_id" db:"book_id"`
	UPC         string    `json:"upc" db:"upc"`
	Price       float64   `json:"price" db:"price"`
	Stock       int       `json:"stock" db:"stock"`
	Rating      int       `json:"rating" db:"rating"`
	ReviewCount int       `json:"review_count" db:"review_count"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
}

// RawRecord is one scraped item exactly as the fetcher delivered it: field
// names mapped to untyped values. Nothing about it is trusted until the
// normalizer has seen it.
type RawRecord map[string]any

// Record is a validated, type-coerced representation of one scraped item.
type Record struct {
	UPC         string
	Title       string
	Price       float64
	Rating      int
	Stock       int
	ReviewCount int
	Category    string
	Description string
	CoverURL    string
}

// ListParams selects a page of the catalog.
type ListParams struct {
	Page     int    `query:"page" validate:"gte=1"`
	PageSize int    `query:"page_size" validate:"gte=1"`
	Category string `query:"category"`
	SortBy   string `query:"sort_by" validate:"omitempty,oneof=id title price rating stock"`
	Order    string `query:"order" validate:"omitempty,oneof=asc desc"`
}

// SearchParams combines every filter conjunctively. Nil bounds are open.
type SearchParams struct {
	Query     string   `query:"q"`
	Category  string   `query:"category"`
	MinPrice  *float64 `query:"min_price" validate:"omitempty,gte=0"`
	MaxPrice  *float64 `query:"max_price" validate:"omitempty,gte=0"`
	MinRating *int     `query:"min_rating" validate:"omitempty,gte=0,lte=5"`
	MaxRating *int     `query:"max_rating" validate:"omitempty,gte=0,lte=5"`
	SortBy    string   `query:"sort_by" validate:"omitempty,oneof=id title price rating stock"`
	Order     string   `query:"order" validate:"omitempty,oneof=asc desc"`
	Page      int      `query:"page" validate:"gte=1"`
	PageSize  int      `query:"page_size" validate:"gte=1"`
}

// BookListResponse is the paginated envelope returned by listing and search.
type BookListResponse struct {
	Items      []Book `json:"items"`
	TotalCount int    `json:"total_count"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

// GeneralStats summarizes the current catalog.
type GeneralStats struct {
	TotalBooks int     `json:"total_books"`
	AvgPrice   float64 `json:"avg_price"`
	MinPrice   float64 `json:"min_price"`
	MaxPrice   float64 `json:"max_price"`
}

// CategoryCount is one entry of the top-categories rollup.
type CategoryCount struct {
	Category string `json:"category" db:"category"`
	Count    int    `json:"count" db:"count"`
}

// CategoryPrice is the mean price of one category.
type CategoryPrice struct {
	Category string  `json:"category" db:"category"`
	AvgPrice float64 `json:"avg_price" db:"avg_price"`
}

// RatingBucket is one bar of the rating histogram. Rating 0 counts unrated
// books.
type RatingBucket struct {
	Rating int `json:"rating" db:"rating"`
	Count  int `json:"count" db:"count"`
}

// PriceRangeBucket is one bar of the price histogram.
type PriceRangeBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// PricePoint is one step of a book's price time series.
type PricePoint struct {
	Date  time.Time `json:"date" db:"recorded_at"`
	Price float64   `json:"price" db:"price"`
}

// PriceChange describes the latest price movement of one book within the
// queried window.
type PriceChange struct {
	BookID        int64     `json:"book_id" db:"book_id"`
	UPC           string    `json:"upc" db:"upc"`
	Title         string    `json:"title" db:"title"`
	OldPrice      float64   `json:"old_price" db:"old_price"`
	NewPrice      float64   `json:"new_price" db:"new_price"`
	ChangePercent float64   `json:"change_percent" db:"change_percent"`
	ChangedAt     time.Time `json:"changed_at" db:"changed_at"`
}

// ChangedBook is a catalog entry whose history grew within the queried
// window; ChangedAt is its most recent snapshot time.
type ChangedBook struct {
	Book
	ChangedAt time.Time `json:"changed_at"`
}

const (
	StockStatusOut = "out_of_stock"
	StockStatusLow = "low_stock"
)

// StockAlert flags a book at or below the requested stock threshold.
type StockAlert struct {
	BookID       int64      `json:"book_id" db:"book_id"`
	UPC          string     `json:"upc" db:"upc"`
	Title        string     `json:"title" db:"title"`
	CurrentStock int        `json:"current_stock" db:"current_stock"`
	LastChecked  *time.Time `json:"last_checked,omitempty" db:"last_checked"`
	Status       string     `json:"status" db:"-"`
}

// IngestReport is the per-run summary of one ingestion batch.
type IngestReport struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Invalid   int `json:"invalid"`
	Failed    int `json:"failed"`
	Snapshots int `json:"snapshots"`
}
