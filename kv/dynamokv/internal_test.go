package dynamokv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/storefront/kv"
)

// --- itemKey Tests ---

func TestItemKey_TwoSegments(t *testing.T) {
	got, err := itemKey(kv.Key{"product", "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pk := got[AttrPK].(*types.AttributeValueMemberS).Value; pk != "product" {
		t.Errorf("expected pk 'product', got %q", pk)
	}
	if sk := got[AttrSK].(*types.AttributeValueMemberS).Value; sk != "p1" {
		t.Errorf("expected sk 'p1', got %q", sk)
	}
}

func TestItemKey_EscapesPartition(t *testing.T) {
	got, err := itemKey(kv.Key{"product_by_brand", "a/b", "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pk := got[AttrPK].(*types.AttributeValueMemberS).Value; pk != `product_by_brand/a\/b` {
		t.Errorf("unexpected pk %q", pk)
	}
}

func TestItemKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  kv.Key
	}{
		{"empty", kv.Key{}},
		{"single segment", kv.Key{"product"}},
		{"empty sort segment", kv.Key{"product", ""}},
		{"empty partition", kv.Key{"", "p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := itemKey(tt.key)
			if !errors.Is(err, kv.ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

// --- KeyFromItem Tests ---

func TestKeyFromItem_RoundTrip(t *testing.T) {
	key := kv.Key{"address", "u/1", "a1"}
	raw, err := itemKey(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := KeyFromItem(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(key) {
		t.Errorf("expected %s, got %s", key, got)
	}
}

func TestKeyFromItem_MissingAttributes(t *testing.T) {
	_, err := KeyFromItem(map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: "product"},
	})
	if !errors.Is(err, kv.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDecodeItem(t *testing.T) {
	e, err := decodeItem(map[string]types.AttributeValue{
		AttrPK:      &types.AttributeValueMemberS{Value: "brand"},
		AttrSK:      &types.AttributeValueMemberS{Value: "b1"},
		AttrValue:   &types.AttributeValueMemberB{Value: []byte(`{"id":"b1"}`)},
		AttrVersion: &types.AttributeValueMemberS{Value: "v1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.Key.Equal(kv.Key{"brand", "b1"}) {
		t.Errorf("unexpected key %s", e.Key)
	}
	if string(e.Value) != `{"id":"b1"}` {
		t.Errorf("unexpected value %q", e.Value)
	}
	if e.Versionstamp != "v1" {
		t.Errorf("expected versionstamp 'v1', got %q", e.Versionstamp)
	}
}

// --- transactItems Tests ---

func TestTransactItems_FoldsCheckIntoPut(t *testing.T) {
	s := New(nil, "kv")
	op := kv.Atomic().
		Check(kv.Check{Key: kv.Key{"brand", "b1"}}).
		Set(kv.Key{"brand", "b1"}, []byte("x"))

	items, err := s.transactItems(op, "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	put := items[0].Put
	if put == nil {
		t.Fatal("expected a Put")
	}
	if put.ConditionExpression == nil {
		t.Fatal("expected a condition on the Put")
	}
	if ver := put.Item[AttrVersion].(*types.AttributeValueMemberS).Value; ver != "v1" {
		t.Errorf("expected ver 'v1', got %q", ver)
	}
}

func TestTransactItems_CheckOnly(t *testing.T) {
	s := New(nil, "kv")
	op := kv.Atomic().
		Check(kv.Check{Key: kv.Key{"brand", "b1"}, Versionstamp: "v0"}).
		Set(kv.Key{"product", "p1"}, []byte("x"))

	items, err := s.transactItems(op, "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	var checks, puts int
	for _, it := range items {
		if it.ConditionCheck != nil {
			checks++
			if len(it.ConditionCheck.ExpressionAttributeValues) != 1 {
				t.Errorf("expected one bound value in version check")
			}
		}
		if it.Put != nil {
			puts++
			if it.Put.ConditionExpression != nil {
				t.Errorf("unchecked put should carry no condition")
			}
		}
	}
	if checks != 1 || puts != 1 {
		t.Errorf("expected 1 check and 1 put, got %d and %d", checks, puts)
	}
}

func TestTransactItems_Delete(t *testing.T) {
	s := New(nil, "kv")
	op := kv.Atomic().
		Check(kv.Check{Key: kv.Key{"brand", "b1"}, Versionstamp: "v0"}).
		Delete(kv.Key{"brand", "b1"}).
		Delete(kv.Key{"brand_by_user", "u1", "b1"})

	items, err := s.transactItems(op, "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	for _, it := range items {
		if it.Delete == nil {
			t.Fatalf("expected only deletes, got %+v", it)
		}
	}
}

func TestTransactItems_InvalidKey(t *testing.T) {
	s := New(nil, "kv")
	_, err := s.transactItems(kv.Atomic().Set(kv.Key{"orphan"}, nil), "v1")
	if !errors.Is(err, kv.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

// --- mapTransactionError Tests ---

func TestMapTransactionError_NilError(t *testing.T) {
	if err := mapTransactionError(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMapTransactionError_NonTransactionError(t *testing.T) {
	orig := errors.New("network")
	if err := mapTransactionError(orig); err != orig {
		t.Errorf("expected original error, got %v", err)
	}
}

func TestMapTransactionError_ConditionalCheckFailed(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if err := mapTransactionError(txErr); !errors.Is(err, kv.ErrCheckFailed) {
		t.Errorf("expected ErrCheckFailed, got %v", err)
	}
}

func TestMapTransactionError_TransactionConflict(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("TransactionConflict")},
			{Code: nil},
		},
	}
	err := mapTransactionError(txErr)
	if !errors.Is(err, kv.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		t.Errorf("expected cause to be preserved")
	}
}

func TestMapTransactionError_CheckWinsOverConflict(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("TransactionConflict")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if err := mapTransactionError(txErr); !errors.Is(err, kv.ErrCheckFailed) {
		t.Errorf("expected ErrCheckFailed, got %v", err)
	}
}

func TestMapTransactionError_OtherCode(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ThrottlingError")},
		},
	}
	err := mapTransactionError(txErr)
	if errors.Is(err, kv.ErrCheckFailed) || errors.Is(err, kv.ErrConflict) {
		t.Errorf("expected unmapped error, got %v", err)
	}
}

func TestMapTransactionError_InProgress(t *testing.T) {
	err := mapTransactionError(&types.TransactionInProgressException{})
	if !errors.Is(err, kv.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

// --- Commit Tests ---

// scriptedAPI answers TransactWriteItems with the queued errors in order and
// succeeds once they run out.
type scriptedAPI struct {
	API
	errs  []error
	calls int
}

func (a *scriptedAPI) TransactWriteItems(_ context.Context, _ *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	a.calls++
	if len(a.errs) == 0 {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}
	err := a.errs[0]
	a.errs = a.errs[1:]
	return nil, err
}

func conflictErr() error {
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("TransactionConflict")}},
	}
}

func checkFailedErr() error {
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}},
	}
}

func createOp() *kv.AtomicOperation {
	key := kv.Key{"product", "p1"}
	return kv.Atomic().Check(kv.Check{Key: key}).Set(key, []byte("v"))
}

func TestCommit_LostRaceResolvesToCheckFailed(t *testing.T) {
	api := &scriptedAPI{errs: []error{conflictErr(), conflictErr(), checkFailedErr()}}
	s := New(api, "kv").WithConflictRetries(5, time.Millisecond)

	_, err := s.Commit(context.Background(), createOp())
	if !errors.Is(err, kv.ErrCheckFailed) {
		t.Errorf("expected ErrCheckFailed, got %v", err)
	}
	if api.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", api.calls)
	}
}

func TestCommit_ConflictThenSuccess(t *testing.T) {
	api := &scriptedAPI{errs: []error{conflictErr()}}
	s := New(api, "kv").WithConflictRetries(5, time.Millisecond)

	ver, err := s.Commit(context.Background(), createOp())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ver == "" {
		t.Error("expected a versionstamp")
	}
	if api.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", api.calls)
	}
}

func TestCommit_ConflictRetriesExhausted(t *testing.T) {
	api := &scriptedAPI{errs: []error{conflictErr(), conflictErr(), conflictErr()}}
	s := New(api, "kv").WithConflictRetries(2, time.Millisecond)

	_, err := s.Commit(context.Background(), createOp())
	if !errors.Is(err, kv.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if api.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", api.calls)
	}
}

func TestCommit_OtherErrorsNotRetried(t *testing.T) {
	boom := errors.New("network")
	api := &scriptedAPI{errs: []error{boom}}
	s := New(api, "kv").WithConflictRetries(5, time.Millisecond)

	if _, err := s.Commit(context.Background(), createOp()); !errors.Is(err, boom) {
		t.Errorf("expected network error, got %v", err)
	}
	if api.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", api.calls)
	}
}

// --- List Tests ---

func TestList_RequiresPrefix(t *testing.T) {
	s := New(nil, "kv")
	it := s.List(context.Background(), kv.Selector{}, kv.ListOptions{})
	if it.Next() {
		t.Fatal("expected no entries")
	}
	if !errors.Is(it.Err(), kv.ErrUnsupportedPrefix) {
		t.Errorf("expected ErrUnsupportedPrefix, got %v", it.Err())
	}
}

func TestList_StartOutsidePartition(t *testing.T) {
	s := New(nil, "kv")
	it := s.List(context.Background(), kv.Selector{
		Prefix: kv.Key{"product"},
		After:  kv.Key{"product", "p1", "extra"},
	}, kv.ListOptions{})
	if it.Next() {
		t.Fatal("expected no entries")
	}
	if !errors.Is(it.Err(), kv.ErrUnsupportedPrefix) {
		t.Errorf("expected ErrUnsupportedPrefix, got %v", it.Err())
	}
}
