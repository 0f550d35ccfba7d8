package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/medsupply-orderflow/internal/aws"
)

// PendingIndex is the sparse GSI over unpublished events, sorted by
// PendingSortKey. created_at is an RFC3339Nano string whose trimmed fraction
// does not sort chronologically, so the index sorts on a number instead.
const (
	PendingIndex   = "pending-index"
	PendingSortKey = "created_seq"
)

const pendingMarker = "1"

// ErrEventNotFound is returned when an update targets a missing event.
var ErrEventNotFound = errors.New("outbox event not found")

// Store encapsulates operations on the outbox table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore creates a new outbox Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// PutItem returns the transactional insert for ev. Callers place it in the
// same TransactWriteItems call as the order mutation.
func (s *Store) PutItem(ev Event) (types.TransactWriteItem, error) {
	ev.Pending = pendingMarker
	ev.CreatedSeq = ev.CreatedAt.UnixNano()
	item, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal outbox event: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: sdkaws.String("attribute_not_exists(event_id)"),
		},
	}, nil
}

// Get fetches an event. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, eventID string) (*Event, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(eventID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var ev Event
	if err := attributevalue.UnmarshalMap(out.Item, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal outbox event: %w", err)
	}
	return &ev, nil
}

// ListPending returns up to limit unpublished, live events, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]Event, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              sdkaws.String(PendingIndex),
		KeyConditionExpression: sdkaws.String("pending = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: pendingMarker},
		},
		ScanIndexForward: sdkaws.Bool(true),
		Limit:            sdkaws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	events := make([]Event, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &events); err != nil {
		return nil, fmt.Errorf("unmarshal pending events: %w", err)
	}
	return events, nil
}

// MarkPublished sets published_at and drops the event from the pending index.
func (s *Store) MarkPublished(ctx context.Context, eventID string, at time.Time) error {
	pa, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return fmt.Errorf("marshal published_at: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(eventID),
		UpdateExpression:          sdkaws.String("SET published_at = :pa REMOVE pending"),
		ConditionExpression:       sdkaws.String("attribute_exists(event_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pa": pa},
	})
	return s.updateErr(err, "mark published")
}

// MarkFailed records a failed attempt. A non-nil deadAt dead-letters the
// event: it keeps its row but leaves the pending index.
func (s *Store) MarkFailed(ctx context.Context, eventID string, retries int, lastErr string, deadAt *time.Time) error {
	values := map[string]types.AttributeValue{
		":r": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", retries)},
		":e": &types.AttributeValueMemberS{Value: lastErr},
	}
	expr := "SET retries = :r, last_error = :e"
	if deadAt != nil {
		da, err := attributevalue.Marshal(deadAt.UTC())
		if err != nil {
			return fmt.Errorf("marshal dead_at: %w", err)
		}
		values[":d"] = da
		expr += ", dead_at = :d REMOVE pending"
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(eventID),
		UpdateExpression:          sdkaws.String(expr),
		ConditionExpression:       sdkaws.String("attribute_exists(event_id)"),
		ExpressionAttributeValues: values,
	})
	return s.updateErr(err, "mark failed")
}

func (s *Store) updateErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrEventNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) key(eventID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"event_id": &types.AttributeValueMemberS{Value: eventID},
	}
}
