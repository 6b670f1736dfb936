// Package normalizers turns raw scraped field values into canonical typed
// records. Whatever the fetcher hands over is treated as untrusted input.
package normalizers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Raw field names delivered by the fetcher.
const (
	FieldUPC          = "upc"
	FieldTitle        = "title"
	FieldPrice        = "price"
	FieldRating       = "rating"
	FieldStock        = "stock"
	FieldAvailability = "availability"
	FieldReviews      = "number_of_reviews"
	FieldCategory     = "category"
	FieldDescription  = "description"
	FieldCover        = "cover"
)

var availabilityRe = regexp.MustCompile(`\((\d+) available\)`)

// Normalizer validates and coerces raw records.
type Normalizer struct {
	baseURL string
	logger  ectologger.Logger
}

func New(baseURL string, logger ectologger.Logger) *Normalizer {
	return &Normalizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Normalize coerces one raw record into a canonical Record. A missing UPC or
// title, or a non-numeric or negative price, rejects the record with a
// ValidationError. Out-of-vocabulary ratings fall back to unrated and
// negative counts clamp to zero; both are data-quality warnings, not
// failures.
func (n *Normalizer) Normalize(ctx context.Context, raw models.RawRecord) (models.Record, error) {
	var record models.Record

	upc := strings.TrimSpace(asString(raw[FieldUPC]))
	if upc == "" {
		return record, NewValidationError(FieldUPC, "external identifier is required")
	}
	record.UPC = upc

	title := strings.TrimSpace(asString(raw[FieldTitle]))
	if title == "" {
		return record, NewValidationError(FieldTitle, "title is required")
	}
	record.Title = title

	price, err := parsePrice(raw[FieldPrice])
	if err != nil {
		return record, NewValidationError(FieldPrice, err.Error())
	}
	record.Price = price

	record.Rating = n.parseRating(ctx, upc, raw[FieldRating])
	record.Stock = n.nonNegativeCount(ctx, upc, FieldStock, n.parseStock(ctx, upc, raw))
	record.ReviewCount = n.nonNegativeCount(ctx, upc, FieldReviews, n.countValue(ctx, upc, FieldReviews, raw[FieldReviews]))

	record.Category = strings.TrimSpace(asString(raw[FieldCategory]))
	record.Description = strings.TrimSpace(asString(raw[FieldDescription]))
	record.CoverURL = n.resolveCover(asString(raw[FieldCover]))

	return record, nil
}

// parsePrice accepts numbers or currency strings like "£51.77".
func parsePrice(v any) (float64, error) {
	var price float64
	switch value := v.(type) {
	case nil:
		return 0, fmt.Errorf("price is required")
	case float64:
		price = value
	case int:
		price = float64(value)
	case string:
		cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "£"))
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("price %q is not numeric", value)
		}
		price = parsed
	default:
		return 0, fmt.Errorf("price has unsupported type %T", v)
	}

	if price < 0 {
		return 0, fmt.Errorf("price %v is negative", price)
	}
	return price, nil
}

// parseRating handles both the bare word ("Three") and the source's CSS
// class form ("star-rating Three").
func (n *Normalizer) parseRating(ctx context.Context, upc string, v any) int {
	text := strings.TrimSpace(asString(v))
	if text == "" {
		return models.RatingUnrated
	}

	parts := strings.Fields(text)
	word := parts[len(parts)-1]

	rating, ok := models.RatingFromWord(word)
	if !ok {
		n.logger.WithContext(ctx).WithFields(map[string]any{
			"upc":   upc,
			"value": text,
		}).Warn("Unknown rating vocabulary, defaulting to unrated")
	}
	return rating
}

// parseStock prefers an explicit stock field and falls back to the
// availability text ("In stock (22 available)").
func (n *Normalizer) parseStock(ctx context.Context, upc string, raw models.RawRecord) int {
	if _, ok := raw[FieldStock]; ok {
		return n.countValue(ctx, upc, FieldStock, raw[FieldStock])
	}

	avail := asString(raw[FieldAvailability])
	match := availabilityRe.FindStringSubmatch(avail)
	if match == nil {
		return 0
	}
	stock, _ := strconv.Atoi(match[1])
	return stock
}

// countValue coerces a raw count to an int. Values that cannot be parsed get
// the same data-quality warning as negative counts and default to zero.
func (n *Normalizer) countValue(ctx context.Context, upc, field string, v any) int {
	value, ok := asInt(v)
	if !ok {
		n.logger.WithContext(ctx).WithFields(map[string]any{
			"upc":   upc,
			"field": field,
			"value": v,
		}).Warn("Unparseable count, defaulting to zero")
	}
	return value
}

func (n *Normalizer) nonNegativeCount(ctx context.Context, upc, field string, value int) int {
	if value < 0 {
		n.logger.WithContext(ctx).WithFields(map[string]any{
			"upc":   upc,
			"field": field,
			"value": value,
		}).Warn("Negative count clamped to zero")
		return 0
	}
	return value
}

// resolveCover rewrites the source's relative image paths against the base
// URL ("../../media/cache/..." -> "http://.../media/cache/...").
func (n *Normalizer) resolveCover(cover string) string {
	cover = strings.TrimSpace(cover)
	if cover == "" {
		return ""
	}
	if strings.HasPrefix(cover, "http://") || strings.HasPrefix(cover, "https://") {
		return cover
	}
	cleaned := strings.TrimLeft(strings.ReplaceAll(cover, "../", ""), "/")
	return n.baseURL + "/" + cleaned
}

func asString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}

// asInt reports ok=false when the value is present but not a number; absent
// values count as zero.
func asInt(v any) (int, bool) {
	switch value := v.(type) {
	case nil:
		return 0, true
	case int:
		return value, true
	case int64:
		return int(value), true
	case float64:
		return int(value), true
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, true
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
