package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"PriceSheet/internal/domain/models"
	apimetrics "PriceSheet/internal/service/metrics"
	xlogger "PriceSheet/pkg/logger"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongTimeout  = 60 * time.Second
	feedPingInterval = 30 * time.Second
	feedMaxClients   = 100
)

// ReportSource streams finished cycle reports.
type ReportSource interface {
	Subscribe(buffer int) (<-chan *models.CycleReport, func())
	LastReport() *models.CycleReport
}

// FeedMessage is the envelope sent to websocket clients.
type FeedMessage struct {
	Type string              `json:"type"`
	Data *models.CycleReport `json:"data"`
	Time time.Time           `json:"time"`
}

// FeedHandler pushes every cycle report to websocket clients.
type FeedHandler struct {
	logger   *xlogger.Logger
	source   ReportSource
	upgrader websocket.Upgrader
	clients  atomic.Int32
}

func NewFeedHandler(logger *xlogger.Logger, source ReportSource) *FeedHandler {
	apimetrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &FeedHandler{
		logger: logger,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *FeedHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/prices", h.Serve)
}

// Serve upgrades the request and streams reports until the client leaves.
// The latest report, if any, is sent first.
func (h *FeedHandler) Serve(c echo.Context) error {
	if h.clients.Load() >= feedMaxClients {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "feed at capacity"})
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}

	h.clients.Add(1)
	apimetrics.FeedClients.Inc()
	defer func() {
		h.clients.Add(-1)
		apimetrics.FeedClients.Dec()
		_ = conn.Close()
	}()

	reports, unsubscribe := h.source.Subscribe(8)
	defer unsubscribe()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	if last := h.source.LastReport(); last != nil {
		if err := h.write(conn, "snapshot", last); err != nil {
			return nil
		}
	}

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return nil
		case rep, ok := <-reports:
			if !ok {
				return nil
			}
			if err := h.write(conn, "cycle", rep); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (h *FeedHandler) write(conn *websocket.Conn, kind string, rep *models.CycleReport) error {
	data, err := json.Marshal(FeedMessage{Type: kind, Data: rep, Time: time.Now().UTC()})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump discards client messages and signals closed when the peer goes.
func (h *FeedHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", xlogger.Error(err))
			}
			return
		}
	}
}
