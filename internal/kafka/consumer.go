package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message may be committed.
type Handler func(ctx context.Context, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultHandleAttempts = 5
	defaultRetryBackoff   = 200 * time.Millisecond
)

// ErrUnresolved is returned by Run when a message kept failing and no dead
// letter topic is configured. Its offset is left uncommitted.
var ErrUnresolved = errors.New("kafka message could not be handled")

// Consumer reads a topic in a consumer group and commits after each handled
// message. Offsets are committed in order, so a failing message blocks the
// partition until it succeeds or is moved to the dead letter topic.
type Consumer struct {
	r           messageReader
	deadLetter  messageWriter
	log         *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer returns a consumer with manual commits.
func NewConsumer(brokers []string, group, topic string, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return &Consumer{r: r, log: log, maxAttempts: defaultHandleAttempts, backoff: defaultRetryBackoff}
}

// WithDeadLetter makes Run park messages that exhaust their attempts on topic
// and carry on, instead of stopping.
func (c *Consumer) WithDeadLetter(brokers []string, topic string) *Consumer {
	c.deadLetter = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return c
}

// Run consumes until ctx is cancelled. A failing message is retried with
// exponential backoff. When attempts run out it is written to the dead letter
// topic and committed, or, without one, Run returns ErrUnresolved and the
// offset stays uncommitted so the message is redelivered on restart.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	defer c.close()
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, h, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.deadLetter == nil {
				return fmt.Errorf("%w: partition %d offset %d: %w", ErrUnresolved, m.Partition, m.Offset, err)
			}
			if err := c.park(ctx, m, err); err != nil {
				return fmt.Errorf("dead letter offset %d: %w", m.Offset, err)
			}
		}

		if err := c.r.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit offset %d: %w", m.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	wait := c.backoff
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = h(ctx, m.Value); err == nil {
			return nil
		}
		c.log.Error("message handler failed",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset,
			"attempt", attempt, "error", err)
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

func (c *Consumer) park(ctx context.Context, m kafka.Message, cause error) error {
	dl := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: append(append([]kafka.Header(nil), m.Headers...),
			kafka.Header{Key: "dlq_source_topic", Value: []byte(m.Topic)},
			kafka.Header{Key: "dlq_source_partition", Value: []byte(strconv.Itoa(m.Partition))},
			kafka.Header{Key: "dlq_source_offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
			kafka.Header{Key: "dlq_error", Value: []byte(cause.Error())},
		),
	}
	if err := c.deadLetter.WriteMessages(ctx, dl); err != nil {
		return err
	}
	c.log.Warn("message dead-lettered", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)
	return nil
}

func (c *Consumer) close() {
	if err := c.r.Close(); err != nil {
		c.log.Warn("close kafka reader", "error", err)
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil {
			c.log.Warn("close dead letter writer", "error", err)
		}
	}
}
