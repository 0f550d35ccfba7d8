// Package dynamotest provides an in-memory DynamoDB for unit tests.
//
// Only the expression subset used by the stores is understood: conditions are
// clauses joined by AND (attribute_exists, attribute_not_exists, equality), and
// update expressions are SET of placeholders plus an optional REMOVE list.
package dynamotest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake implements the DynamoDBAPI interface of internal/aws.
type Fake struct {
	mu      sync.Mutex
	keys    map[string]string // table -> partition key attribute
	indexes map[string]string // index -> sort attribute
	tables  map[string]map[string]item

	failErr error

	Calls map[string]int
}

// New returns a Fake. keys maps each table name to its partition key attribute.
func New(keys map[string]string) *Fake {
	f := &Fake{
		keys:    keys,
		indexes: map[string]string{},
		tables:  map[string]map[string]item{},
		Calls:   map[string]int{},
	}
	for tbl := range keys {
		f.tables[tbl] = map[string]item{}
	}
	return f
}

// AddIndex declares the sort attribute Query uses when IndexName is given.
func (f *Fake) AddIndex(name, sortAttr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes[name] = sortAttr
}

// FailNextTransact makes the next TransactWriteItems return err once every
// item has been staged and its condition checked. Nothing staged is committed,
// which is what a crash in the middle of the write looks like to a reader.
func (f *Fake) FailNextTransact(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// Seed stores an item unconditionally.
func (f *Fake) Seed(table string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(table, it)
	if err != nil {
		panic(err)
	}
	f.tables[table][pk] = copyItem(it)
}

// Item returns a copy of the stored item or nil.
func (f *Fake) Item(table, pk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][pk]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len returns the number of items in a table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["PutItem"]++
	table := sdkaws.ToString(in.TableName)
	pk, err := f.pkOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, f.tables[table][pk])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	f.tables[table][pk] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["GetItem"]++
	table := sdkaws.ToString(in.TableName)
	pk, err := f.pkOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["UpdateItem"]++
	table := sdkaws.ToString(in.TableName)
	pk, err := f.pkOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	next, err := applyUpdate(current, in.Key, sdkaws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	f.tables[table][pk] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["DeleteItem"]++
	table := sdkaws.ToString(in.TableName)
	pk, err := f.pkOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, f.tables[table][pk])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	delete(f.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Query"]++
	table := sdkaws.ToString(in.TableName)
	clauses := splitAnd(sdkaws.ToString(in.KeyConditionExpression))
	if len(clauses) != 1 {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", sdkaws.ToString(in.KeyConditionExpression))
	}
	lhs, rhs, found := strings.Cut(clauses[0], "=")
	if !found {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", clauses[0])
	}
	attr := resolveName(strings.TrimSpace(lhs), in.ExpressionAttributeNames)
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(rhs)]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
	}

	var out []item
	for _, it := range f.tables[table] {
		if v, ok := it[attr]; ok && equalAV(v, want) {
			out = append(out, copyItem(it))
		}
	}
	if sortAttr := f.indexes[sdkaws.ToString(in.IndexName)]; sortAttr != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return lessAV(out[i][sortAttr], out[j][sortAttr])
		})
	}
	if in.Limit != nil && int(*in.Limit) < len(out) {
		out = out[:*in.Limit]
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

type staged struct {
	table, pk string
	item      item // nil means delete
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["TransactWriteItems"]++

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false
	writes := make([]staged, 0, len(in.TransactItems))

	for i, ti := range in.TransactItems {
		var (
			table  string
			key    item
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			table, key, cond, names, values = sdkaws.ToString(ti.Put.TableName), ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Update != nil:
			table, key, cond, names, values = sdkaws.ToString(ti.Update.TableName), ti.Update.Key, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		case ti.Delete != nil:
			table, key, cond, names, values = sdkaws.ToString(ti.Delete.TableName), ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			table, key, cond, names, values = sdkaws.ToString(ti.ConditionCheck.TableName), ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, errors.New("dynamotest: empty transact item")
		}
		pk, err := f.pkOf(table, key)
		if err != nil {
			return nil, err
		}
		current := f.tables[table][pk]
		ok, err := evalCondition(cond, names, values, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			canceled = true
			reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed")}
			continue
		}
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}

		switch {
		case ti.Put != nil:
			writes = append(writes, staged{table: table, pk: pk, item: copyItem(ti.Put.Item)})
		case ti.Update != nil:
			next, err := applyUpdate(current, ti.Update.Key, sdkaws.ToString(ti.Update.UpdateExpression), names, values)
			if err != nil {
				return nil, err
			}
			writes = append(writes, staged{table: table, pk: pk, item: next})
		case ti.Delete != nil:
			writes = append(writes, staged{table: table, pk: pk})
		}
	}

	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	if f.failErr != nil {
		err := f.failErr
		f.failErr = nil
		return nil, err
	}
	for _, w := range writes {
		if w.item == nil {
			delete(f.tables[w.table], w.pk)
			continue
		}
		f.tables[w.table][w.pk] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) pkOf(table string, it item) (string, error) {
	attr, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %q", table)
	}
	v, ok := it[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: missing string key %s in table %s", attr, table)
	}
	return v.Value, nil
}

func conditionalFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, current item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range splitAnd(*expr) {
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
			if _, ok := current[attr]; ok {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
			if _, ok := current[attr]; !ok {
				return false, nil
			}
		default:
			lhs, rhs, found := strings.Cut(clause, "=")
			if !found {
				return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
			}
			attr := resolveName(strings.TrimSpace(lhs), names)
			want, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return false, fmt.Errorf("dynamotest: missing value %s", rhs)
			}
			got, ok := current[attr]
			if !ok || !equalAV(got, want) {
				return false, nil
			}
		}
	}
	return true, nil
}

func applyUpdate(current, key item, expr string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	setPart, removePart := expr, ""
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len("REMOVE "):]
	}
	setPart = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(setPart), "SET "))
	if setPart != "" {
		for _, assignment := range strings.Split(setPart, ",") {
			lhs, rhs, found := strings.Cut(assignment, "=")
			if !found {
				return nil, fmt.Errorf("dynamotest: unsupported update %q", assignment)
			}
			v, ok := values[strings.TrimSpace(rhs)]
			if !ok {
				return nil, fmt.Errorf("dynamotest: missing value %s", rhs)
			}
			next[resolveName(strings.TrimSpace(lhs), names)] = v
		}
	}
	if removePart = strings.TrimSpace(removePart); removePart != "" {
		for _, attr := range strings.Split(removePart, ",") {
			delete(next, resolveName(strings.TrimSpace(attr), names))
		}
	}
	return next, nil
}

func splitAnd(expr string) []string {
	parts := strings.Split(expr, " AND ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolveName(token string, names map[string]string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func equalAV(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return false
	}
}

// lessAV orders numbers numerically and everything else by string value,
// as DynamoDB orders N and S sort keys.
func lessAV(a, b types.AttributeValue) bool {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		x, _, errX := big.ParseFloat(an.Value, 10, 128, big.ToNearestEven)
		y, _, errY := big.ParseFloat(bn.Value, 10, 128, big.ToNearestEven)
		if errX == nil && errY == nil {
			return x.Cmp(y) < 0
		}
	}
	return avString(a) < avString(b)
}

func avString(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value
	case *types.AttributeValueMemberN:
		return av.Value
	default:
		return ""
	}
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}
