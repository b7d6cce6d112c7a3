package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"PriceSheet/pkg/kafka"
	"PriceSheet/pkg/logger"
)

// Refresher queues a forced cycle.
type Refresher interface {
	RequestRefresh() error
}

// RefreshCommand is the payload on the commands topic, e.g. {"action":"refresh"}.
type RefreshCommand struct {
	Action string `json:"action"`
	Source string `json:"source,omitempty"`
}

// RefreshCommandHandler turns Kafka commands into forced refreshes.
type RefreshCommandHandler struct {
	topic     string
	refresher Refresher
	log       *logger.Logger
}

func NewRefreshCommandHandler(topic string, refresher Refresher, log *logger.Logger) *RefreshCommandHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RefreshCommandHandler{topic: topic, refresher: refresher, log: log}
}

func (h *RefreshCommandHandler) Topic() string { return h.topic }

// Handle fails only on undecodable payloads. Unknown actions and refreshes
// that are already pending are acknowledged.
func (h *RefreshCommandHandler) Handle(_ context.Context, b []byte) error {
	var cmd RefreshCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
	case "refresh":
		err := h.refresher.RequestRefresh()
		if errors.Is(err, ErrRefreshPending) {
			h.log.Debug("refresh command ignored, one is already pending", logger.String("source", cmd.Source))
			return nil
		}
		if err != nil {
			return err
		}
		h.log.Info("refresh command accepted", logger.String("source", cmd.Source))
		return nil
	default:
		h.log.Warn("unknown command", logger.String("action", cmd.Action))
		return nil
	}
}

var _ kafka.MessageHandler = (*RefreshCommandHandler)(nil)
