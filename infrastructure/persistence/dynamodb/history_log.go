package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// historyItem represents how history records are stored in DynamoDB
type historyItem struct {
	PK         string `dynamodbav:"PK"` // HISTORY#<graph>
	SK         string `dynamodbav:"SK"` // SEQ#<sequence>
	EntityType string `dynamodbav:"EntityType"`
	RecordID   string `dynamodbav:"RecordID"`
	GraphName  string `dynamodbav:"GraphName"`
	Sequence   uint64 `dynamodbav:"Sequence"`
	Timestamp  string `dynamodbav:"Timestamp"`
	Record     string `dynamodbav:"Record"`
}

// HistoryLog implements ports.HistoryLog using DynamoDB
type HistoryLog struct {
	client    API
	tableName string
	pageSize  int32
}

// NewHistoryLog creates a new HistoryLog
func NewHistoryLog(client API, tableName string) *HistoryLog {
	return &HistoryLog{client: client, tableName: tableName, pageSize: 500}
}

// Append writes the record if its sort key is free
func (l *HistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return pkgerrors.NewIOError("encode history record", err)
	}
	av, err := attributevalue.MarshalMap(historyItem{
		PK:         historyPK(record.GraphName),
		SK:         historySK(record.Sequence),
		EntityType: entityHistory,
		RecordID:   record.ID,
		GraphName:  record.GraphName,
		Sequence:   record.Sequence,
		Timestamp:  record.Timestamp.UTC().Format(time.RFC3339Nano),
		Record:     string(raw),
	})
	if err != nil {
		return pkgerrors.NewIOError("encode history record", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                av,
		ConditionExpression: aws.String(condItemAbsent),
	})
	if err != nil {
		if isConditionFailed(err) {
			return pkgerrors.NewIOError("append history", ports.DuplicateRecordError(record.GraphName, record.Sequence))
		}
		return wrapErr(ctx, "append history", err)
	}
	return nil
}

// List queries the graph's partition; the sort key keeps sequence order
func (l *HistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(historyPK(graphName)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewIOError("build query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(l.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
		ScanIndexForward:          aws.Bool(true),
		Limit:                     aws.Int32(l.pageSize),
	}

	records := []versioning.HistoryRecord{}
	for {
		result, err := l.client.Query(ctx, input)
		if err != nil {
			return nil, wrapErr(ctx, "list history", err)
		}
		for _, av := range result.Items {
			var item historyItem
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return nil, pkgerrors.NewIOError("decode history record", err)
			}
			var rec versioning.HistoryRecord
			if err := json.Unmarshal([]byte(item.Record), &rec); err != nil {
				return nil, pkgerrors.NewIOError("decode history record", fmt.Errorf("%s/%s: %w", item.PK, item.SK, err))
			}
			records = append(records, rec)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return records, nil
}
