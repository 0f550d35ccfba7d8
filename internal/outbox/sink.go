package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imrishuroy/medsupply-orderflow/internal/aws"
)

// Sink delivers an envelope to downstream consumers.
type Sink interface {
	Publish(ctx context.Context, env Envelope) error
}

// SQSSink publishes envelopes to an SQS queue. On FIFO queues the order id is
// the message group and the event id the deduplication id.
type SQSSink struct {
	publisher *aws.Publisher
	fifo      bool
}

// NewSQSSink returns a sink over publisher.
func NewSQSSink(publisher *aws.Publisher) *SQSSink {
	return &SQSSink{
		publisher: publisher,
		fifo:      strings.HasSuffix(publisher.QueueURL, ".fifo"),
	}
}

func (s *SQSSink) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     env.EventType,
		"aggregate_id":   env.AggregateID,
		"correlation_id": env.CorrelationID,
	}
	var groupID, dedupID string
	if s.fifo {
		groupID, dedupID = env.AggregateID, env.EventID
	}
	return s.publisher.Send(ctx, string(body), attrs, groupID, dedupID)
}
