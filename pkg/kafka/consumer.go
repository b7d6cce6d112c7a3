package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"

	"PriceSheet/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group and hands each message to a
// single handler. Offsets are committed after the handler returns, success
// or not, so a poison message cannot stall the topic.
type Consumer struct {
	cfg     *ConsumerConfig
	reader  messageReader
	handler MessageHandler
	log     *logger.Logger
}

// NewConsumer creates a consumer for handler.Topic().
func NewConsumer(handler MessageHandler, log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "pricesheet",
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   1,
		MaxBytes:   1e6,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       handler.Topic(),
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(reader, handler, log, cfg), nil
}

func newConsumer(r messageReader, h MessageHandler, log *logger.Logger, cfg *ConsumerConfig) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{cfg: cfg, reader: r, handler: h, log: log.With(logger.String("topic", h.Topic()))}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("kafka consumer started", logger.String("group", c.cfg.GroupID))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Warn("kafka fetch failed", logger.Error(err))
			if sleepErr := sleepCtx(ctx, c.cfg.BackoffMax); sleepErr != nil {
				return nil
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("kafka commit failed", logger.Int64("offset", msg.Offset), logger.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var err error
	for attempt := 1; attempt <= c.cfg.RetryMax+1; attempt++ {
		if err = c.safeHandle(ctx, msg.Value); err == nil {
			return
		}
		if attempt > c.cfg.RetryMax {
			break
		}
		if sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) != nil {
			return
		}
	}
	c.log.Error("kafka message dropped",
		logger.Int64("offset", msg.Offset),
		logger.Int("attempts", c.cfg.RetryMax+1),
		logger.Error(err),
	)
}

func (c *Consumer) safeHandle(ctx context.Context, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, data)
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	if half := int64(exp) / 2; half > 0 {
		exp -= time.Duration(rand.Int63n(half))
	}
	return exp
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
