package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"agrodata/internal/core"
	"agrodata/internal/errhandler"
	"agrodata/internal/lookups"
	"agrodata/internal/session"
)

// Lookups runs the named data operations. *lookups.Service satisfies it.
type Lookups interface {
	PostalCode(ctx context.Context, code string) core.Envelope[lookups.Address]
	States(ctx context.Context) core.Envelope[[]lookups.State]
	Cities(ctx context.Context, uf string) core.Envelope[[]lookups.City]
	Weather(ctx context.Context, city string) core.Envelope[lookups.Weather]
	Company(ctx context.Context, cnpj string) core.Envelope[lookups.Company]
	Quotes(ctx context.Context, region string) core.Envelope[[]lookups.Quote]
}

// CacheControl invalidates cached results. *dataaccess.Fetcher satisfies it.
type CacheControl interface {
	Invalidate(ctx context.Context, key string)
	ClearCache(ctx context.Context)
}

// Deps holds what the handlers serve.
type Deps struct {
	Lookups Lookups
	Cache   CacheControl
	// Notifications lists the notices raised by the error handler
	Notifications interface{ Active() []errhandler.Notification }
	// Redirects hands out navigation scheduled after a session ended
	Redirects interface{ Take() (session.Redirect, bool) }
	Logger    *slog.Logger
}

// Handler holds the HTTP handlers
type Handler struct {
	lookups       Lookups
	cache         CacheControl
	notifications interface{ Active() []errhandler.Notification }
	redirects     interface{ Take() (session.Redirect, bool) }
	logger        *slog.Logger
}

// NewHandler creates a new handler with the given dependencies
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		lookups:       deps.Lookups,
		cache:         deps.Cache,
		notifications: deps.Notifications,
		redirects:     deps.Redirects,
		logger:        deps.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// PostalCode handles GET /v1/postal-codes/:code
func (h *Handler) PostalCode(c echo.Context) error {
	return respond(c, h.lookups.PostalCode(c.Request().Context(), c.Param("code")))
}

// States handles GET /v1/regions/states
func (h *Handler) States(c echo.Context) error {
	return respond(c, h.lookups.States(c.Request().Context()))
}

// Cities handles GET /v1/regions/states/:uf/cities
func (h *Handler) Cities(c echo.Context) error {
	return respond(c, h.lookups.Cities(c.Request().Context(), c.Param("uf")))
}

// Weather handles GET /v1/weather?city=
func (h *Handler) Weather(c echo.Context) error {
	return respond(c, h.lookups.Weather(c.Request().Context(), c.QueryParam("city")))
}

// Company handles GET /v1/companies/:cnpj
func (h *Handler) Company(c echo.Context) error {
	return respond(c, h.lookups.Company(c.Request().Context(), c.Param("cnpj")))
}

// Quotes handles GET /v1/quotes?region=
func (h *Handler) Quotes(c echo.Context) error {
	return respond(c, h.lookups.Quotes(c.Request().Context(), c.QueryParam("region")))
}

// Notifications handles GET /v1/notifications
func (h *Handler) Notifications(c echo.Context) error {
	items := []errhandler.Notification{}
	if h.notifications != nil {
		items = append(items, h.notifications.Active()...)
	}
	return c.JSON(http.StatusOK, map[string]any{"notifications": items})
}

// Redirect handles GET /v1/session/redirect. A pending redirect is handed
// out once; without one the response is 204.
func (h *Handler) Redirect(c echo.Context) error {
	if h.redirects == nil {
		return c.NoContent(http.StatusNoContent)
	}
	redirect, ok := h.redirects.Take()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, redirect)
}

// ClearCache handles DELETE /v1/cache. With ?key= only that entry is
// removed.
func (h *Handler) ClearCache(c echo.Context) error {
	if h.cache == nil {
		return handleError(c, core.NewError(core.KindUnknown, "cache is not configured", nil))
	}
	ctx := c.Request().Context()
	if key := c.QueryParam("key"); key != "" {
		h.cache.Invalidate(ctx, key)
		h.logger.InfoContext(ctx, "cache entry invalidated", "key", key)
	} else {
		h.cache.ClearCache(ctx)
		h.logger.InfoContext(ctx, "cache cleared")
	}
	return c.NoContent(http.StatusNoContent)
}

// respond writes an envelope. Fallback values are successes; failures use
// the status of their error kind.
func respond[T any](c echo.Context, env core.Envelope[T]) error {
	c.Response().Header().Set("X-Data-Source", string(env.Source))
	status := http.StatusOK
	if !env.Success {
		status = env.ErrorKind.HTTPStatus()
	}
	return c.JSON(status, env)
}

// handleError converts errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	parsed := core.Classify(err)
	return c.JSON(parsed.Kind.HTTPStatus(), map[string]any{
		"error": map[string]any{
			"kind":    parsed.Kind,
			"message": parsed.Message,
		},
	})
}
