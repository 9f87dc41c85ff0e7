package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type recordingCascader struct {
	calls [][2]string
	err   error
}

func (c *recordingCascader) Cascade(_ context.Context, parentType, parentID string) (map[string]int, error) {
	c.calls = append(c.calls, [2]string{parentType, parentID})
	return map[string]int{"child": 1}, c.err
}

type parentSet map[string]bool

func (p parentSet) HasChildren(parentType string) bool { return p[parentType] }

func removeRecord(pk, sk string) *events.DynamoDBEventRecord {
	return &events.DynamoDBEventRecord{
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"pk": events.NewStringAttribute(pk),
				"sk": events.NewStringAttribute(sk),
			},
		},
	}
}

// --- convertAttr Tests ---

func TestConvertAttr_Scalars(t *testing.T) {
	if v, ok := convertAttr(events.NewStringAttribute("x")).(*types.AttributeValueMemberS); !ok || v.Value != "x" {
		t.Error("expected string attribute")
	}
	if v, ok := convertAttr(events.NewNumberAttribute("19.99")).(*types.AttributeValueMemberN); !ok || v.Value != "19.99" {
		t.Error("expected number attribute")
	}
	if v, ok := convertAttr(events.NewBooleanAttribute(true)).(*types.AttributeValueMemberBOOL); !ok || !v.Value {
		t.Error("expected boolean attribute")
	}
	if _, ok := convertAttr(events.NewNullAttribute()).(*types.AttributeValueMemberNULL); !ok {
		t.Error("expected null attribute")
	}
	if v, ok := convertAttr(events.NewBinaryAttribute([]byte{1, 2})).(*types.AttributeValueMemberB); !ok || len(v.Value) != 2 {
		t.Error("expected binary attribute")
	}
}

func TestConvertAttr_Nested(t *testing.T) {
	v := events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
		"tags": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("a"),
			events.NewNumberAttribute("1"),
		}),
	})

	m, ok := convertAttr(v).(*types.AttributeValueMemberM)
	if !ok {
		t.Fatal("expected map attribute")
	}
	l, ok := m.Value["tags"].(*types.AttributeValueMemberL)
	if !ok {
		t.Fatal("expected list attribute")
	}
	if len(l.Value) != 2 {
		t.Errorf("expected 2 list items, got %d", len(l.Value))
	}
}

// --- processRecord Tests ---

func TestProcessRecord_SkipsNonRemoveEvents(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
	}{
		{"INSERT", "INSERT"},
		{"MODIFY", "MODIFY"},
		{"Unknown", "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &recordingCascader{}
			h := NewHandler(c, parentSet{"user": true}, nil)
			record := removeRecord("user", "u1")
			record.EventName = tt.eventName

			if err := h.processRecord(context.Background(), record); err != nil {
				t.Errorf("expected no error for %s event, got %v", tt.eventName, err)
			}
			if len(c.calls) != 0 {
				t.Errorf("expected no cascade for %s event, got %v", tt.eventName, c.calls)
			}
		})
	}
}

func TestProcessRecord_CascadesParent(t *testing.T) {
	c := &recordingCascader{}
	h := NewHandler(c, parentSet{"user": true}, nil)

	if err := h.processRecord(context.Background(), removeRecord("user", "u1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.calls) != 1 || c.calls[0] != [2]string{"user", "u1"} {
		t.Errorf("expected cascade of user u1, got %v", c.calls)
	}
}

func TestProcessRecord_OwnedParentUsesLastSegment(t *testing.T) {
	c := &recordingCascader{}
	h := NewHandler(c, parentSet{"order": true}, nil)

	if err := h.processRecord(context.Background(), removeRecord("order/u1", "o1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.calls) != 1 || c.calls[0] != [2]string{"order", "o1"} {
		t.Errorf("expected cascade of order o1, got %v", c.calls)
	}
}

func TestProcessRecord_SkipsTypesWithoutChildren(t *testing.T) {
	c := &recordingCascader{}
	h := NewHandler(c, parentSet{"user": true}, nil)

	for _, r := range []*events.DynamoDBEventRecord{
		removeRecord("product", "p1"),
		removeRecord("brand_by_user/u1", "b1"),
	} {
		if err := h.processRecord(context.Background(), r); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if len(c.calls) != 0 {
		t.Errorf("expected no cascades, got %v", c.calls)
	}
}

func TestProcessRecord_FallsBackToOldImage(t *testing.T) {
	c := &recordingCascader{}
	h := NewHandler(c, parentSet{"brand": true}, nil)
	record := &events.DynamoDBEventRecord{
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"pk":  events.NewStringAttribute("brand"),
				"sk":  events.NewStringAttribute("b1"),
				"val": events.NewBinaryAttribute([]byte(`{}`)),
				"ver": events.NewStringAttribute("0190a1b2"),
			},
		},
	}

	if err := h.processRecord(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.calls) != 1 {
		t.Errorf("expected one cascade, got %v", c.calls)
	}
}

func TestProcessRecord_MalformedKey(t *testing.T) {
	h := NewHandler(&recordingCascader{}, parentSet{"user": true}, nil)

	if err := h.processRecord(context.Background(), removeRecord(`user\`, "u1")); err == nil {
		t.Error("expected error for malformed pk")
	}
	record := &events.DynamoDBEventRecord{EventName: "REMOVE"}
	if err := h.processRecord(context.Background(), record); err == nil {
		t.Error("expected error for record without keys")
	}
}

func TestProcessRecord_PropagatesCascadeError(t *testing.T) {
	boom := errors.New("boom")
	h := NewHandler(&recordingCascader{err: boom}, parentSet{"user": true}, nil)

	err := h.processRecord(context.Background(), removeRecord("user", "u1"))
	if !errors.Is(err, boom) {
		t.Errorf("expected cascade error, got %v", err)
	}
}

// --- Benchmark Tests ---

func BenchmarkRemovedKey(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"pk": events.NewStringAttribute("order/0190a1b2-1234-7234-8234-123456789012"),
		"sk": events.NewStringAttribute("0190a1b2-1234-7234-8234-123456789013"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = RemovedKey(image)
	}
}
