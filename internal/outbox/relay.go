package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Metric names emitted by the relay and dispatcher.
const (
	MetricPublished     = "OutboxPublished"
	MetricPublishFailed = "OutboxPublishFailed"
	MetricDeadLettered  = "OutboxDeadLettered"
)

// Repository is the persistence the relay needs. Both the DynamoDB and the
// Postgres stores implement it.
type Repository interface {
	ListPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, eventID string, at time.Time) error
	MarkFailed(ctx context.Context, eventID string, retries int, lastErr string, deadAt *time.Time) error
}

// Counter records metrics. *aws.MetricsRecorder satisfies it.
type Counter interface {
	Count(ctx context.Context, name string, n int) error
}

// RelayConfig tunes the relay.
type RelayConfig struct {
	Producer   string
	BatchSize  int
	MaxRetries int
	Interval   time.Duration
}

// Stats summarises one relay pass.
type Stats struct {
	Published    int
	Failed       int
	DeadLettered int
}

// Relay drains pending outbox events into a sink.
type Relay struct {
	repo    Repository
	sink    Sink
	metrics Counter
	log     *slog.Logger
	cfg     RelayConfig
	nowFunc func() time.Time
}

// NewRelay returns a relay. metrics may be nil.
func NewRelay(repo Repository, sink Sink, metrics Counter, log *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Relay{
		repo:    repo,
		sink:    sink,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// RunOnce publishes one batch. Sink failures are recorded on the event and
// do not abort the pass; only repository errors are returned.
func (r *Relay) RunOnce(ctx context.Context) (Stats, error) {
	var st Stats
	events, err := r.repo.ListPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return st, fmt.Errorf("list pending events: %w", err)
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		pubErr := r.sink.Publish(ctx, NewEnvelope(ev, r.cfg.Producer))
		now := r.nowFunc().UTC()
		if pubErr == nil {
			if err := r.repo.MarkPublished(ctx, ev.EventID, now); err != nil {
				return st, fmt.Errorf("mark event %s published: %w", ev.EventID, err)
			}
			st.Published++
			continue
		}

		retries := ev.Retries + 1
		var deadAt *time.Time
		if retries >= r.cfg.MaxRetries {
			deadAt = &now
		}
		if err := r.repo.MarkFailed(ctx, ev.EventID, retries, pubErr.Error(), deadAt); err != nil {
			return st, fmt.Errorf("mark event %s failed: %w", ev.EventID, err)
		}
		st.Failed++
		if deadAt != nil {
			st.DeadLettered++
			r.log.Error("outbox event dead-lettered",
				"event_id", ev.EventID, "event_type", ev.EventType, "order_id", ev.AggregateID,
				"retries", retries, "error", pubErr)
		} else {
			r.log.Warn("outbox publish failed",
				"event_id", ev.EventID, "event_type", ev.EventType, "retries", retries, "error", pubErr)
		}
	}

	r.record(ctx, st)
	return st, nil
}

// Run polls until ctx is cancelled. A fully published batch is followed
// immediately by another pass so a backlog drains without waiting for the ticker.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		st, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error("outbox relay pass failed", "error", err)
		}
		if err == nil && st.Failed == 0 && st.Published >= r.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) record(ctx context.Context, st Stats) {
	if r.metrics == nil {
		return
	}
	for name, n := range map[string]int{
		MetricPublished:     st.Published,
		MetricPublishFailed: st.Failed,
		MetricDeadLettered:  st.DeadLettered,
	} {
		if n == 0 {
			continue
		}
		if err := r.metrics.Count(ctx, name, n); err != nil {
			r.log.Warn("metric emit failed", "metric", name, "error", err)
		}
	}
}
