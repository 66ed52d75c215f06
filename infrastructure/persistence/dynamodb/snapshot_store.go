package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// graphItem represents the DynamoDB item structure for a graph snapshot
type graphItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	GraphName  string `dynamodbav:"GraphName"`
	Version    uint64 `dynamodbav:"Version"`
	Document   string `dynamodbav:"Document"`
	Checksum   string `dynamodbav:"Checksum"`
}

// SnapshotStore implements ports.SnapshotStore using DynamoDB
type SnapshotStore struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewSnapshotStore creates a new SnapshotStore
func NewSnapshotStore(client API, tableName string, logger *zap.Logger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{client: client, tableName: tableName, logger: logger}
}

func snapshotKey(graphName string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: graphPK(graphName)},
		"SK": &types.AttributeValueMemberS{Value: snapshotSK},
	}
}

func (s *SnapshotStore) marshal(graphName string, version uint64, g *aggregates.Graph) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	item := graphItem{
		PK:         graphPK(graphName),
		SK:         snapshotSK,
		EntityType: entityGraph,
		GraphName:  graphName,
		Version:    version,
		Document:   string(doc),
		Checksum:   g.Checksum(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return av, nil
}

func unmarshalSnapshot(av map[string]types.AttributeValue) (ports.Snapshot, error) {
	var item graphItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return ports.Snapshot{}, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	g := &aggregates.Graph{}
	if err := json.Unmarshal([]byte(item.Document), g); err != nil {
		return ports.Snapshot{}, fmt.Errorf("failed to decode graph %s: %w", item.GraphName, err)
	}
	return ports.Snapshot{Graph: g, Version: item.Version}, nil
}

func (s *SnapshotStore) read(ctx context.Context, graphName string) (ports.Snapshot, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            snapshotKey(graphName),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return ports.Snapshot{}, false, err
	}
	if len(out.Item) == 0 {
		return ports.Snapshot{}, false, nil
	}
	snap, err := unmarshalSnapshot(out.Item)
	return snap, err == nil, err
}

// Get reads the snapshot, creating an empty one at version 0 when absent
func (s *SnapshotStore) Get(ctx context.Context, graphName string) (ports.Snapshot, error) {
	snap, ok, err := s.read(ctx, graphName)
	if err != nil {
		return ports.Snapshot{}, wrapErr(ctx, "get snapshot", err)
	}
	if ok {
		return snap, nil
	}

	empty := aggregates.NewGraph(graphName)
	av, err := s.marshal(graphName, 0, empty)
	if err != nil {
		return ports.Snapshot{}, pkgerrors.NewIOError("encode snapshot", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String(condItemAbsent),
	})
	switch {
	case err == nil:
		s.logger.Debug("Created graph item", zap.String("graph", graphName))
		return ports.Snapshot{Graph: empty, Version: 0}, nil
	case isConditionFailed(err):
		// created concurrently; read the winner
		snap, ok, err := s.read(ctx, graphName)
		if err != nil {
			return ports.Snapshot{}, wrapErr(ctx, "get snapshot", err)
		}
		if !ok {
			return ports.Snapshot{}, pkgerrors.NewIOError("get snapshot", fmt.Errorf("graph %s vanished after create", graphName))
		}
		return snap, nil
	default:
		return ports.Snapshot{}, wrapErr(ctx, "create graph", err)
	}
}

// CompareAndSet puts the new document with a condition on the stored version
func (s *SnapshotStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	av, err := s.marshal(graphName, expected+1, next)
	if err != nil {
		return 0, pkgerrors.NewIOError("encode snapshot", err)
	}

	cond := condVersionMatches
	if expected == 0 {
		cond = condAbsentOrVersion
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String(cond),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			expectedVersionValue: &types.AttributeValueMemberN{Value: strconv.FormatUint(expected, 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			s.logger.Debug("Conditional put rejected",
				zap.String("graph", graphName),
				zap.Uint64("expected", expected),
			)
			return 0, pkgerrors.NewVersionConflictError(graphName, expected)
		}
		return 0, wrapErr(ctx, "compare and set snapshot", err)
	}
	return expected + 1, nil
}

// Names scans the table for graph items
func (s *SnapshotStore) Names(ctx context.Context) ([]string, error) {
	filter := expression.Name("EntityType").Equal(expression.Value(entityGraph))
	proj := expression.NamesList(expression.Name("GraphName"))
	expr, err := expression.NewBuilder().WithFilter(filter).WithProjection(proj).Build()
	if err != nil {
		return nil, pkgerrors.NewIOError("build scan", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	names := []string{}
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, wrapErr(ctx, "list graphs", err)
		}
		for _, av := range result.Items {
			var item struct {
				GraphName string `dynamodbav:"GraphName"`
			}
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return nil, pkgerrors.NewIOError("list graphs", err)
			}
			names = append(names, item.GraphName)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	sort.Strings(names)
	return names, nil
}

// wrapErr turns a client error into an IO AppError, keeping the AWS error
// code in the details when there is one
func wrapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	appErr := pkgerrors.NewIOError(op, err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		appErr = appErr.WithCode(apiErr.ErrorCode()).WithDetails(map[string]interface{}{
			"aws_error_code": apiErr.ErrorCode(),
			"retryable":      isThrottle(apiErr.ErrorCode()),
		})
	}
	return appErr
}

func isThrottle(code string) bool {
	switch code {
	case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
		return true
	}
	return false
}
