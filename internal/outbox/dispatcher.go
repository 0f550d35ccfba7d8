package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher publishes a freshly committed event right away. It is a latency
// optimisation only: failures are logged and the event stays pending for the
// relay.
type Dispatcher struct {
	repo     Repository
	sink     Sink
	producer string
	timeout  time.Duration
	log      *slog.Logger
	nowFunc  func() time.Time
}

// NewDispatcher returns a dispatcher. A zero timeout defaults to two seconds.
func NewDispatcher(repo Repository, sink Sink, producer string, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{
		repo:     repo,
		sink:     sink,
		producer: producer,
		timeout:  timeout,
		log:      log,
		nowFunc:  time.Now,
	}
}

// Dispatch tries to deliver ev once. It never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.sink.Publish(ctx, NewEnvelope(ev, d.producer)); err != nil {
		d.log.Warn("immediate publish failed, leaving event to relay",
			"event_id", ev.EventID, "event_type", ev.EventType, "order_id", ev.AggregateID, "error", err)
		return
	}
	if err := d.repo.MarkPublished(ctx, ev.EventID, d.nowFunc()); err != nil {
		d.log.Warn("mark published failed, relay may publish again",
			"event_id", ev.EventID, "error", err)
	}
}
