package ingest

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

// Tracked field names as they appear in change-sets and logs.
const (
	FieldPrice   = "price"
	FieldStock   = "stock"
	FieldRating  = "rating"
	FieldReviews = "review_count"
)

// FieldChange is one tracked field whose value differs between the stored
// state and the incoming record.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// ChangeSet is the set of tracked fields that changed. An empty set means
// "no-op, do not write history".
type ChangeSet []FieldChange

func (cs ChangeSet) IsEmpty() bool {
	return len(cs) == 0
}

// Fields returns the changed field names, in detection order.
func (cs ChangeSet) Fields() []string {
	fields := make([]string, 0, len(cs))
	for _, change := range cs {
		fields = append(fields, change.Field)
	}
	return fields
}

// DetectChanges compares the record's tracked fields against the stored
// entry. A nil entry is a first sighting: every tracked field is part of the
// change-set so a baseline snapshot is always recorded.
func DetectChanges(book *models.Book, record models.Record) ChangeSet {
	if book == nil {
		return ChangeSet{
			{Field: FieldPrice, Old: nil, New: record.Price},
			{Field: FieldStock, Old: nil, New: record.Stock},
			{Field: FieldRating, Old: nil, New: record.Rating},
			{Field: FieldReviews, Old: nil, New: record.ReviewCount},
		}
	}

	var changes ChangeSet
	if book.Price != record.Price {
		changes = append(changes, FieldChange{Field: FieldPrice, Old: book.Price, New: record.Price})
	}
	if book.Stock != record.Stock {
		changes = append(changes, FieldChange{Field: FieldStock, Old: book.Stock, New: record.Stock})
	}
	if book.Rating != record.Rating {
		changes = append(changes, FieldChange{Field: FieldRating, Old: book.Rating, New: record.Rating})
	}
	if book.ReviewCount != record.ReviewCount {
		changes = append(changes, FieldChange{Field: FieldReviews, Old: book.ReviewCount, New: record.ReviewCount})
	}
	return changes
}

// DescriptiveChanged reports whether any in-place field (title, category,
// description, cover) differs. Descriptive drift never produces a snapshot.
func DescriptiveChanged(book *models.Book, record models.Record) bool {
	if book == nil {
		return false
	}
	return book.Title != record.Title ||
		book.Category != record.Category ||
		book.Description != record.Description ||
		book.CoverURL != record.CoverURL
}
