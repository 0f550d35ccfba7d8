package outbox

import (
	"encoding/json"
	"time"
)

// EnvelopeVersion is bumped on incompatible envelope changes.
const EnvelopeVersion = 1

// Event is one outbox row. It is written in the same atomic unit as the order
// mutation it describes and is only updated by the relay afterwards.
type Event struct {
	EventID     string     `dynamodbav:"event_id"` // PK
	AggregateID string     `dynamodbav:"aggregate_id"`
	EventType   string     `dynamodbav:"event_type"`
	Payload     []byte     `dynamodbav:"payload"`
	CreatedAt   time.Time  `dynamodbav:"created_at"`
	PublishedAt *time.Time `dynamodbav:"published_at,omitempty"`
	Retries     int        `dynamodbav:"retries"`
	LastError   string     `dynamodbav:"last_error,omitempty"`
	DeadAt      *time.Time `dynamodbav:"dead_at,omitempty"`
	// Pending is the sparse index key; present only while the event awaits publishing.
	Pending string `dynamodbav:"pending,omitempty"`
	// CreatedSeq is CreatedAt in epoch nanoseconds, the index sort key.
	CreatedSeq int64 `dynamodbav:"created_seq,omitempty"`
}

// Published reports whether the event was delivered.
func (e Event) Published() bool { return e.PublishedAt != nil }

// Dead reports whether the relay gave up on the event.
func (e Event) Dead() bool { return e.DeadAt != nil }

// Envelope is the wire format every sink publishes.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	AggregateID   string          `json:"aggregate_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps ev for publishing. The aggregate id doubles as the
// correlation id so consumers can follow one order across events.
func NewEnvelope(ev Event, producer string) Envelope {
	return Envelope{
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    ev.CreatedAt,
		Producer:      producer,
		AggregateID:   ev.AggregateID,
		CorrelationID: ev.AggregateID,
		Payload:       json.RawMessage(ev.Payload),
	}
}

// DecodeEnvelope parses an envelope from a message body.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)
	return env, err
}
