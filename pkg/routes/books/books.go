// Package books serves the current-state catalog: listings, search,
// categories, sampling and single-book lookups.
package books

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/catalog"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Handler serves the /books route group
type Handler struct {
	catalog *catalog.Service
}

// NewHandler creates a new books handler
func NewHandler(svc *catalog.Service) *Handler {
	return &Handler{catalog: svc}
}

// Register registers book routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/search", h.Search)
	g.GET("/categories", h.Categories)
	g.GET("/random", h.Random)
	g.GET("/count", h.Count)
	g.GET("/upc/:upc", h.GetByUPC)
	g.GET("/:id", h.Get)
}

// List returns a page of the catalog
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "books_handler.List")
	defer span.End()

	var params models.ListParams
	if err := c.Bind(&params); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	resp, err := h.catalog.ListBooks(ctx, params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Search returns the page of books matching every supplied filter
func (h *Handler) Search(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "books_handler.Search")
	defer span.End()

	var params models.SearchParams
	if err := c.Bind(&params); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	resp, err := h.catalog.SearchBooks(ctx, params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Categories returns every distinct category
func (h *Handler) Categories(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "books_handler.Categories")
	defer span.End()

	categories, err := h.catalog.Categories(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"categories": categories})
}

// Random returns up to ?count uniformly sampled books
func (h *Handler) Random(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "books_handler.Random")
	defer span.End()

	count, _ := strconv.Atoi(c.QueryParam("count"))
	if count < 1 {
		count = 1
	}

	books, err := h.catalog.RandomBooks(ctx, count)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, books)
}

// Count returns the total number of catalog entries
func (h *Handler) Count(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "books_handler.Count")
	defer span.End()

	count, err := h.catalog.CountBooks(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

// Get returns one book by ID
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "books_handler.Get")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "id must be an integer")
	}

	book, err := h.catalog.GetBook(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, book)
}

// GetByUPC returns one book by UPC
func (h *Handler) GetByUPC(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "books_handler.GetByUPC")
	defer span.End()

	upc := c.Param("upc")
	if upc == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "upc is required")
	}

	book, err := h.catalog.GetBookByUPC(ctx, upc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, book)
}
