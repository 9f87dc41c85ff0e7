// Package dynamokv is a kv.Store kept in one DynamoDB table.
//
// Item layout:
//
//	pk   S  every key segment but the last, escaped and joined with '/'
//	sk   S  the last key segment
//	val  B  the stored value
//	ver  S  the versionstamp of the last write
//
// A key therefore needs at least two segments, and List can only scan a
// prefix that names a whole partition: ["product_by_brand", "b1"] lists
// ["product_by_brand", "b1", *]. Every scan the storefront repository issues
// has that shape.
//
// Commits are a single TransactWriteItems call, so they are limited to
// [MaxTransactItems] keys. A transaction cancelled because another one was in
// flight on the same items is resent, so its conditions are evaluated against
// the winner's writes.
package dynamokv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/jacentio/storefront/internal/keycodec"
	"github.com/jacentio/storefront/kv"
)

// Attribute names.
const (
	AttrPK      = "pk"
	AttrSK      = "sk"
	AttrValue   = "val"
	AttrVersion = "ver"
)

// MaxTransactItems is the DynamoDB limit on actions per transaction.
const MaxTransactItems = 100

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Defaults for resending conflicting transactions.
const (
	DefaultConflictRetries = 8
	DefaultConflictBackoff = 20 * time.Millisecond
)

// Store is a DynamoDB-backed kv.Store.
type Store struct {
	client API
	table  string

	conflictRetries uint64
	conflictBackoff time.Duration
}

// New creates a Store over an existing table.
func New(client API, table string) *Store {
	return &Store{
		client:          client,
		table:           table,
		conflictRetries: DefaultConflictRetries,
		conflictBackoff: DefaultConflictBackoff,
	}
}

// WithConflictRetries sets how often a commit cancelled by a transaction
// conflict is resent, with jittered exponential backoff starting at base.
// Zero retries returns the first conflict as kv.ErrConflict.
func (s *Store) WithConflictRetries(retries uint64, base time.Duration) *Store {
	s.conflictRetries = retries
	if base > 0 {
		s.conflictBackoff = base
	}
	return s
}

// Table returns the table name.
func (s *Store) Table() string {
	return s.table
}

// Get reads one key with a strongly consistent read.
func (s *Store) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	pk, err := itemKey(key)
	if err != nil {
		return kv.Entry{}, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            pk,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return kv.Entry{}, err
	}
	if out.Item == nil {
		return kv.Entry{Key: key}, nil
	}
	return decodeItem(out.Item)
}

// Commit applies op with one TransactWriteItems call.
func (s *Store) Commit(ctx context.Context, op *kv.AtomicOperation) (string, error) {
	ver := uuid.Must(uuid.NewV7()).String()
	items, err := s.transactItems(op, ver)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return ver, nil
	}
	if len(items) > MaxTransactItems {
		return "", fmt.Errorf("%w: commit touches %d keys, limit is %d", kv.ErrInvalidKey, len(items), MaxTransactItems)
	}
	input := &dynamodb.TransactWriteItemsInput{TransactItems: items}

	b := retry.WithMaxRetries(s.conflictRetries, retry.WithJitterPercent(50, retry.NewExponential(s.conflictBackoff)))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := s.client.TransactWriteItems(ctx, input)
		err = mapTransactionError(err)
		if errors.Is(err, kv.ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return ver, nil
}

// transactItems folds checks into the write of the same key; DynamoDB rejects
// a transaction that names one item twice.
func (s *Store) transactItems(op *kv.AtomicOperation, ver string) ([]types.TransactWriteItem, error) {
	checks := make(map[string]kv.Check)
	for _, c := range op.Checks() {
		checks[keycodec.Join(c.Key)] = c
	}
	mutations := make(map[string]kv.Mutation)
	for _, m := range op.Mutations() {
		mutations[keycodec.Join(m.Key)] = m
	}

	var items []types.TransactWriteItem
	for _, key := range op.Keys() {
		id := keycodec.Join(key)
		pk, err := itemKey(key)
		if err != nil {
			return nil, err
		}

		var cond *expression.Expression
		if c, ok := checks[id]; ok {
			built, err := checkExpression(c)
			if err != nil {
				return nil, err
			}
			cond = &built
		}

		m, mutated := mutations[id]
		switch {
		case mutated && m.Type == kv.MutationSet:
			item := map[string]types.AttributeValue{
				AttrPK:      pk[AttrPK],
				AttrSK:      pk[AttrSK],
				AttrValue:   &types.AttributeValueMemberB{Value: m.Value},
				AttrVersion: &types.AttributeValueMemberS{Value: ver},
			}
			put := &types.Put{TableName: aws.String(s.table), Item: item}
			if cond != nil {
				put.ConditionExpression = cond.Condition()
				put.ExpressionAttributeNames = cond.Names()
				put.ExpressionAttributeValues = cond.Values()
			}
			items = append(items, types.TransactWriteItem{Put: put})
		case mutated && m.Type == kv.MutationDelete:
			del := &types.Delete{TableName: aws.String(s.table), Key: pk}
			if cond != nil {
				del.ConditionExpression = cond.Condition()
				del.ExpressionAttributeNames = cond.Names()
				del.ExpressionAttributeValues = cond.Values()
			}
			items = append(items, types.TransactWriteItem{Delete: del})
		case cond != nil:
			items = append(items, types.TransactWriteItem{
				ConditionCheck: &types.ConditionCheck{
					TableName:                 aws.String(s.table),
					Key:                       pk,
					ConditionExpression:       cond.Condition(),
					ExpressionAttributeNames:  cond.Names(),
					ExpressionAttributeValues: cond.Values(),
				},
			})
		}
	}
	return items, nil
}

// checkExpression builds the condition asserting c.
func checkExpression(c kv.Check) (expression.Expression, error) {
	cond := expression.Name(AttrPK).AttributeNotExists()
	if c.Versionstamp != "" {
		cond = expression.Name(AttrVersion).Equal(expression.Value(c.Versionstamp))
	}
	return expression.NewBuilder().WithCondition(cond).Build()
}

// List queries one partition in ascending sort-key order.
func (s *Store) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) kv.Iterator {
	if len(sel.Prefix) == 0 {
		return kv.ErrIterator(fmt.Errorf("%w: dynamodb lists need a partition prefix", kv.ErrUnsupportedPrefix))
	}
	if _, _, err := sel.Bounds(); err != nil {
		return kv.ErrIterator(err)
	}
	if sel.After != nil && len(sel.After) != len(sel.Prefix)+1 {
		return kv.ErrIterator(fmt.Errorf("%w: list start %s is not in partition %s", kv.ErrUnsupportedPrefix, sel.After, sel.Prefix))
	}
	partition := keycodec.Join(sel.Prefix)
	return kv.NewBatchIterator(ctx, sel.After, opts, func(ctx context.Context, after kv.Key, n int) ([]kv.Entry, error) {
		return s.query(ctx, partition, after, n)
	})
}

func (s *Store) query(ctx context.Context, partition string, after kv.Key, n int) ([]kv.Entry, error) {
	keyCond := expression.Key(AttrPK).Equal(expression.Value(partition))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
		ScanIndexForward:          aws.Bool(true),
	}
	if after != nil {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: partition},
			AttrSK: &types.AttributeValueMemberS{Value: after[len(after)-1]},
		}
	}

	var entries []kv.Entry
	for len(entries) < n {
		input.Limit = aws.Int32(int32(n - len(entries)))
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, raw := range out.Items {
			e, err := decodeItem(raw)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return entries, nil
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key kv.Key) error {
	pk, err := itemKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       pk,
	})
	return err
}

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// itemKey maps a tuple key onto the table's primary key.
func itemKey(key kv.Key) (map[string]types.AttributeValue, error) {
	if len(key) < 2 {
		return nil, fmt.Errorf("%w: %s needs at least two segments", kv.ErrInvalidKey, key)
	}
	pk, sk := keycodec.Partition(key), key[len(key)-1]
	if pk == "" || sk == "" {
		return nil, fmt.Errorf("%w: %s has an empty partition or sort segment", kv.ErrInvalidKey, key)
	}
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: pk},
		AttrSK: &types.AttributeValueMemberS{Value: sk},
	}, nil
}

// decodeItem converts a stored item back into an entry.
func decodeItem(raw map[string]types.AttributeValue) (kv.Entry, error) {
	key, err := KeyFromItem(raw)
	if err != nil {
		return kv.Entry{}, err
	}
	e := kv.Entry{Key: key}
	if v, ok := raw[AttrValue].(*types.AttributeValueMemberB); ok {
		e.Value = v.Value
	}
	if v, ok := raw[AttrVersion].(*types.AttributeValueMemberS); ok {
		e.Versionstamp = v.Value
	}
	return e, nil
}

// KeyFromItem recovers the tuple key from an item's pk and sk attributes.
func KeyFromItem(raw map[string]types.AttributeValue) (kv.Key, error) {
	pk, ok := raw[AttrPK].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: item has no string pk", kv.ErrInvalidKey)
	}
	sk, ok := raw[AttrSK].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: item has no string sk", kv.ErrInvalidKey)
	}
	return KeyFromStrings(pk.Value, sk.Value)
}

// KeyFromStrings recovers the tuple key from raw pk and sk values.
func KeyFromStrings(pk, sk string) (kv.Key, error) {
	segments, err := keycodec.Split(pk)
	if err != nil {
		return nil, fmt.Errorf("%w: pk %q: %w", kv.ErrInvalidKey, pk, err)
	}
	return append(kv.Key(segments), sk), nil
}

// mapTransactionError maps DynamoDB transaction failures onto kv errors.
func mapTransactionError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		conflict := false
		for _, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed":
				return kv.ErrCheckFailed
			case "TransactionConflict":
				conflict = true
			}
		}
		if conflict {
			return fmt.Errorf("%w: %w", kv.ErrConflict, err)
		}
		return err
	}

	var inProgress *types.TransactionInProgressException
	var conflictErr *types.TransactionConflictException
	if errors.As(err, &inProgress) || errors.As(err, &conflictErr) {
		return fmt.Errorf("%w: %w", kv.ErrConflict, err)
	}
	return err
}
