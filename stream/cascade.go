// Package stream provides DynamoDB Streams handlers for cascade deletes.
package stream

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jacentio/storefront/kv"
	"github.com/jacentio/storefront/kv/dynamokv"
)

// Cascader removes the children of a deleted parent.
type Cascader interface {
	Cascade(ctx context.Context, parentType, parentID string) (map[string]int, error)
}

// Parents reports whether entities of a type have registered children.
type Parents interface {
	HasChildren(parentType string) bool
}

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	cascader Cascader
	parents  Parents
	logger   *zap.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(c Cascader, parents Parents, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cascader: c,
		parents:  parents,
		logger:   logger,
	}
}

// removedItem is the part of a removed row the handler needs.
type removedItem struct {
	PK      string `dynamodbav:"pk"`
	SK      string `dynamodbav:"sk"`
	Version string `dynamodbav:"ver"`
}

// HandleCascadeDelete processes DynamoDB stream events and cascades every
// removed parent row to its children. It is meant to be used as an AWS Lambda
// handler. An error fails the whole batch so the stream retries it; cascades
// are idempotent.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, &record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("event_id", record.EventID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// HandleBatch is HandleCascadeDelete for event sources configured with
// ReportBatchItemFailures: failed records are reported instead of failing the
// batch.
func (h *Handler) HandleBatch(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		if err := h.processRecord(ctx, &record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("event_id", record.EventID),
				zap.Error(err),
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
		}
	}
	return resp, nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}

	image := record.Change.Keys
	if len(image) == 0 {
		image = record.Change.OldImage
	}
	key, err := RemovedKey(image)
	if err != nil {
		return fmt.Errorf("decode removed key: %w", err)
	}

	parentType, parentID := key[0], key[len(key)-1]
	if h.parents == nil || !h.parents.HasChildren(parentType) {
		return nil
	}

	h.logger.Info("processing cascade delete",
		zap.String("parent_type", parentType),
		zap.String("parent_id", parentID),
	)

	counts, err := h.cascader.Cascade(ctx, parentType, parentID)
	if err != nil {
		return fmt.Errorf("cascade %s %s: %w", parentType, parentID, err)
	}

	h.logger.Info("cascade delete completed",
		zap.String("parent_type", parentType),
		zap.String("parent_id", parentID),
		zap.Any("purged", counts),
	)
	return nil
}

// RemovedKey recovers the tuple key of a row from its stream image.
func RemovedKey(image map[string]events.DynamoDBAttributeValue) (kv.Key, error) {
	var item removedItem
	if err := attributevalue.UnmarshalMap(ConvertStreamImage(image), &item); err != nil {
		return nil, err
	}
	if item.PK == "" {
		return nil, fmt.Errorf("%w: image has no pk", kv.ErrInvalidKey)
	}
	return dynamokv.KeyFromStrings(item.PK, item.SK)
}

// ConvertStreamImage converts a DynamoDB stream image to SDK attribute values.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertAttr(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertAttr(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttr(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertStreamImage(v.Map())}
	}
	return nil
}
