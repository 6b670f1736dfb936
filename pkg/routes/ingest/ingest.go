// Package ingest accepts scraped record batches over HTTP, for fetchers that
// post runs directly instead of publishing to the feed.
package ingest

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/ingestion"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Request is one posted scrape run.
type Request struct {
	RunID   string             `json:"run_id"`
	Records []models.RawRecord `json:"records"`
}

// Handler serves the /ingest route group
type Handler struct {
	ingestion *ingestion.Service
}

// NewHandler creates a new ingest handler
func NewHandler(svc *ingestion.Service) *Handler {
	return &Handler{ingestion: svc}
}

// Register registers ingest routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/records", h.Records)
}

// Records ingests one batch of scraped records and returns the run report
func (h *Handler) Records(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ingest_handler.Records")
	defer span.End()

	var req Request
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "body must be a JSON run envelope")
	}
	if len(req.Records) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "records is required")
	}
	if req.RunID != "" {
		ctx = appctx.SetCrawlRunID(ctx, req.RunID)
	}

	report, err := h.ingestion.IngestBatch(ctx, req.Records)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
