package orders

import (
	"context"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/medsupply-orderflow/internal/aws"
	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

var (
	// ErrStatusMismatch means the stored order no longer has the status and
	// version the transition was computed from.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrOrderExists means the generated order id is already taken.
	ErrOrderExists = errors.New("order already exists")
)

// Store encapsulates operations on the orders table. Every write also carries
// its outbox event in the same TransactWriteItems call.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ledger    *idempotency.Store
	events    *outbox.Store
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string, ledger *idempotency.Store, events *outbox.Store) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ledger:    ledger,
		events:    events,
	}
}

// CreateWithIdempotency atomically:
//   - marks the ledger record DONE with the response to replay (only if still owned by the caller)
//   - inserts the order
//   - inserts its OrderCreated outbox event
//
// A lost ledger condition is reported as idempotency.ErrOwnershipLost.
func (s *Store) CreateWithIdempotency(ctx context.Context, c idempotency.Completion, o Order, ev outbox.Event) error {
	complete, err := s.ledger.CompleteItem(c)
	if err != nil {
		return err
	}
	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	event, err := s.events.PutItem(ev)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			complete,
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: sdkaws.String("attribute_not_exists(order_id)"),
				},
			},
			event,
		},
	})
	if err == nil {
		return nil
	}
	switch failedItem(err) {
	case 0:
		return idempotency.ErrOwnershipLost
	case 1:
		return ErrOrderExists
	}
	return fmt.Errorf("transact write (create order): %w", err)
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// SaveTransition replaces the order with its transitioned copy and inserts the
// status event, conditional on the stored order still being at prev/prevVersion.
// Returns ErrStatusMismatch if the condition failed.
func (s *Store) SaveTransition(ctx context.Context, o Order, prev Status, prevVersion int, ev outbox.Event) error {
	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	event, err := s.events.PutItem(ev)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                &s.tableName,
					Item:                     orderMap,
					ConditionExpression:      sdkaws.String("#s = :from AND version = :v"),
					ExpressionAttributeNames: map[string]string{"#s": "status"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":from": &types.AttributeValueMemberS{Value: string(prev)},
						":v":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", prevVersion)},
					},
				},
			},
			event,
		},
	})
	if err == nil {
		return nil
	}
	if failedItem(err) == 0 {
		return ErrStatusMismatch
	}
	return fmt.Errorf("transact write (transition): %w", err)
}

// failedItem returns the index of the first item whose condition cancelled the
// transaction, or -1.
func failedItem(err error) int {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return -1
	}
	for i, r := range tce.CancellationReasons {
		if sdkaws.ToString(r.Code) == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}
