// Package stats serves the aggregate rollups over the current catalog.
package stats

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/catalog"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Handler serves the /stats route group
type Handler struct {
	catalog *catalog.Service
}

// NewHandler creates a new stats handler
func NewHandler(svc *catalog.Service) *Handler {
	return &Handler{catalog: svc}
}

// Register registers stats routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/general", h.General)
	g.GET("/top-categories", h.TopCategories)
	g.GET("/price-by-category", h.PriceByCategory)
	g.GET("/rating-distribution", h.RatingDistribution)
	g.GET("/price-ranges", h.PriceRanges)
}

// General returns the whole-catalog rollup
func (h *Handler) General(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "stats_handler.General")
	defer span.End()

	stats, err := h.catalog.GeneralStats(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// TopCategories returns the ?limit largest categories by book count
func (h *Handler) TopCategories(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "stats_handler.TopCategories")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	counts, err := h.catalog.TopCategories(ctx, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

// PriceByCategory returns the mean price per category
func (h *Handler) PriceByCategory(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "stats_handler.PriceByCategory")
	defer span.End()

	prices, err := h.catalog.PriceByCategory(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prices)
}

// RatingDistribution returns one bucket per rating value 0-5
func (h *Handler) RatingDistribution(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "stats_handler.RatingDistribution")
	defer span.End()

	buckets, err := h.catalog.RatingDistribution(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, buckets)
}

// PriceRanges returns the configured price histogram
func (h *Handler) PriceRanges(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "stats_handler.PriceRanges")
	defer span.End()

	buckets, err := h.catalog.PriceRanges(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, buckets)
}
