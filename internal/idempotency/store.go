package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/medsupply-orderflow/internal/aws"
)

// Store is the DynamoDB ledger backend.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a configured Store for tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get retrieves a record by key hash. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, keyHash string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(keyHash),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Insert creates rec only if its key hash is unused.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(key_hash)"),
	})
	if isConditionFailed(err) {
		return ErrKeyExists
	}
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// TakeOver moves a PENDING record from prevOwner to newOwner.
func (s *Store) TakeOver(ctx context.Context, keyHash, prevOwner, newOwner string, attempts int, at time.Time) error {
	ua, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("marshal updated_at: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(keyHash),
		UpdateExpression:    sdkaws.String("SET #o = :new, attempts = :a, updated_at = :ua"),
		ConditionExpression: sdkaws.String("#s = :pending AND #o = :prev"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":     &types.AttributeValueMemberS{Value: newOwner},
			":prev":    &types.AttributeValueMemberS{Value: prevOwner},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
			":a":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", attempts)},
			":ua":      ua,
		},
	})
	if isConditionFailed(err) {
		return ErrOwnershipLost
	}
	if err != nil {
		return fmt.Errorf("update item (take over): %w", err)
	}
	return nil
}

// Release deletes a PENDING record still held by owner.
func (s *Store) Release(ctx context.Context, keyHash, owner string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(keyHash),
		ConditionExpression:      sdkaws.String("#s = :pending AND #o = :owner"),
		ExpressionAttributeNames: map[string]string{"#s": "status", "#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
			":owner":   &types.AttributeValueMemberS{Value: owner},
		},
	})
	if isConditionFailed(err) {
		return ErrOwnershipLost
	}
	if err != nil {
		return fmt.Errorf("delete item (release): %w", err)
	}
	return nil
}

// CompleteItem returns the transactional update that marks the record DONE.
// It must be the first item of the transaction so callers can map a
// cancellation at index 0 to ErrOwnershipLost.
func (s *Store) CompleteItem(c Completion) (types.TransactWriteItem, error) {
	ua, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal updated_at: %w", err)
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 s.key(c.KeyHash),
			UpdateExpression:    sdkaws.String("SET #s = :done, response_status = :rs, response_body = :rb, order_id = :oid, updated_at = :ua"),
			ConditionExpression: sdkaws.String("#s = :pending AND #o = :owner"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
				"#o": "owner",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":done":    &types.AttributeValueMemberS{Value: StatusDone},
				":pending": &types.AttributeValueMemberS{Value: StatusPending},
				":owner":   &types.AttributeValueMemberS{Value: c.Owner},
				":rs":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", c.StatusCode)},
				":rb":      &types.AttributeValueMemberB{Value: c.Body},
				":oid":     &types.AttributeValueMemberS{Value: c.OrderID},
				":ua":      ua,
			},
		},
	}, nil
}

func (s *Store) key(keyHash string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key_hash": &types.AttributeValueMemberS{Value: keyHash},
	}
}

func isConditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}
