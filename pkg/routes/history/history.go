// Package history serves the append-only snapshot log: per-book history,
// price series, recent price movements and stock alerts.
package history

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/catalog"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Handler serves the /history route group
type Handler struct {
	catalog *catalog.Service
}

// NewHandler creates a new history handler
func NewHandler(svc *catalog.Service) *Handler {
	return &Handler{catalog: svc}
}

// Register registers history routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/books/:id", h.BookHistory)
	g.GET("/books/:id/price", h.PriceHistory)
	g.GET("/recent", h.Recent)
	g.GET("/price-changes", h.PriceChanges)
	g.GET("/stock-alerts", h.StockAlerts)
}

// BookHistory returns a book's snapshots ascending. ?since narrows the window
// and ?limit keeps the most recent rows.
func (h *Handler) BookHistory(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "history_handler.BookHistory")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "id must be an integer")
	}

	since, err := parseWindow(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	snapshots, err := h.catalog.BookHistory(ctx, id, since, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshots)
}

// PriceHistory returns a book's price over time, oldest first
func (h *Handler) PriceHistory(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "history_handler.PriceHistory")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "id must be an integer")
	}

	since, err := parseWindow(c)
	if err != nil {
		return err
	}

	points, err := h.catalog.PriceHistory(ctx, id, since)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, points)
}

// Recent returns books with any tracked-field change within ?days days,
// most recently changed first
func (h *Handler) Recent(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "history_handler.Recent")
	defer span.End()

	days, _ := strconv.Atoi(c.QueryParam("days"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	changed, err := h.catalog.RecentlyChanged(ctx, days, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, changed)
}

// PriceChanges returns the latest price movement per book within ?days days
func (h *Handler) PriceChanges(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "history_handler.PriceChanges")
	defer span.End()

	days, _ := strconv.Atoi(c.QueryParam("days"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	changes, err := h.catalog.RecentPriceChanges(ctx, days, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, changes)
}

// StockAlerts returns books at or below ?threshold units of stock
func (h *Handler) StockAlerts(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "history_handler.StockAlerts")
	defer span.End()

	threshold := -1
	if raw := c.QueryParam("threshold"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "threshold must be an integer")
		}
		threshold = parsed
	}

	alerts, err := h.catalog.StockAlerts(ctx, threshold)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, alerts)
}

// parseWindow resolves the history window: an explicit ?since bound wins,
// ?days counts back from now, and neither means the full history.
func parseWindow(c echo.Context) (time.Time, error) {
	if raw := c.QueryParam("since"); raw != "" {
		return parseSince(raw)
	}
	if days, _ := strconv.Atoi(c.QueryParam("days")); days > 0 {
		return time.Now().UTC().AddDate(0, 0, -days), nil
	}
	return time.Time{}, nil
}

// parseSince accepts RFC 3339 timestamps or plain dates.
func parseSince(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts, nil
	}
	return time.Time{}, httperror.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp or YYYY-MM-DD date")
}
