package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	apimetrics "PriceSheet/internal/service/metrics"
	"PriceSheet/internal/usecase"
	xhttp "PriceSheet/pkg/http"
	xlogger "PriceSheet/pkg/logger"
)

// Controller is the part of usecase.Runner the API reads and pokes.
type Controller interface {
	Status(now time.Time) models.MarketStatus
	LastReport() *models.CycleReport
	LastSuccess() *models.CycleReport
	RequestRefresh() error
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Market    models.MarketStatus `json:"market"`
	LastCycle *models.CycleReport `json:"last_cycle,omitempty"`
}

// PriceRow is one entry of GET /api/prices.
type PriceRow struct {
	Ticker models.Ticker `json:"ticker"`
	Price  float64       `json:"price"`
}

// PricesResponse is the body of GET /api/prices.
type PricesResponse struct {
	UpdatedAt    time.Time  `json:"updated_at"`
	Prices       []PriceRow `json:"prices"`
	ExchangeRate *float64   `json:"exchange_rate,omitempty"`
}

// HistoryRequest binds GET /api/history query parameters.
type HistoryRequest struct {
	Ticker string `query:"ticker" validate:"required,max=32"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

// StatusEchoHandler serves the status and control API.
type StatusEchoHandler struct {
	logger  *xlogger.Logger
	ctl     Controller
	history drepo.PriceStorage
	now     func() time.Time
}

// NewStatusEchoHandler creates the handler. history may be nil.
func NewStatusEchoHandler(logger *xlogger.Logger, ctl Controller, history drepo.PriceStorage) *StatusEchoHandler {
	apimetrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &StatusEchoHandler{logger: logger, ctl: ctl, history: history, now: time.Now}
}

func (h *StatusEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.POST("/refresh", h.Refresh)
	g.GET("/prices", h.Prices)
	g.GET("/history", h.History)
}

func (h *StatusEchoHandler) Health(c echo.Context) error {
	if h.history != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.history.Health(ctx); err != nil {
			h.logger.Warn("history health check failed", xlogger.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "history": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StatusEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, StatusResponse{
		Market:    h.ctl.Status(h.now()),
		LastCycle: h.ctl.LastReport(),
	})
}

func (h *StatusEchoHandler) Refresh(c echo.Context) error {
	if err := h.ctl.RequestRefresh(); err != nil {
		if errors.Is(err, usecase.ErrRefreshPending) {
			apimetrics.RefreshRequests.WithLabelValues("pending").Inc()
			return xhttp.AppErrorResponse(c, xhttp.ConflictError("a refresh is already pending"))
		}
		h.logger.Error("refresh request failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	apimetrics.RefreshRequests.WithLabelValues("queued").Inc()
	return xhttp.AcceptedResponse(c, map[string]bool{"queued": true})
}

func (h *StatusEchoHandler) Prices(c echo.Context) error {
	report := h.ctl.LastSuccess()
	if report == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no successful update cycle yet"))
	}
	rows := make([]PriceRow, 0, len(report.Prices))
	for t, p := range report.Prices {
		rows = append(rows, PriceRow{Ticker: t, Price: p})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Ticker < rows[j].Ticker })

	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, PricesResponse{
		UpdatedAt:    report.StartedAt,
		Prices:       rows,
		ExchangeRate: report.ExchangeRate,
	})
}

func (h *StatusEchoHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("price history is disabled"))
	}
	req := &HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := h.now()
	to := xhttp.ParseTimeDefault(req.To, now)
	from := xhttp.ParseTimeDefault(req.From, to.Add(-24*time.Hour))
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RANGE", "from", "from must not be after to", http.StatusBadRequest))
	}

	rows, err := h.history.Query(c.Request().Context(), models.NormalizeTicker(req.Ticker), from, to, req.Limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.String("ticker", req.Ticker), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history query failed").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
