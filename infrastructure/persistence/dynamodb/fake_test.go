package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// fakeTable is an in-process stand-in for one DynamoDB table. It evaluates
// only the condition expressions the stores issue.
type fakeTable struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	err      error
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}, pageSize: 3}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrN(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return attrS(item, "PK") + "|" + attrS(item, "SK")
}

// onlyStringValue returns the single string placeholder value of an
// expression built for one equality.
func onlyStringValue(values map[string]types.AttributeValue) (string, error) {
	var found []string
	for _, v := range values {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			found = append(found, s.Value)
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("expected one string value, got %d", len(found))
	}
	return found[0], nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	key := itemKey(in.Item)
	existing, exists := f.items[key]
	if in.ConditionExpression != nil {
		versionMatches := exists && attrN(existing, "Version") == attrN(in.ExpressionAttributeValues, expectedVersionValue)
		switch *in.ConditionExpression {
		case condItemAbsent:
			if exists {
				return nil, conditionFailed()
			}
		case condVersionMatches:
			if !versionMatches {
				return nil, conditionFailed()
			}
		case condAbsentOrVersion:
			if exists && !versionMatches {
				return nil, conditionFailed()
			}
		default:
			return nil, fmt.Errorf("fake: unsupported condition %q", *in.ConditionExpression)
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) sortedKeys(match func(map[string]types.AttributeValue) bool) []string {
	var keys []string
	for k, item := range f.items {
		if match(item) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeTable) page(keys []string, start map[string]types.AttributeValue, limit int) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	if start != nil {
		from := itemKey(start)
		i := sort.SearchStrings(keys, from)
		if i < len(keys) && keys[i] == from {
			i++
		}
		keys = keys[i:]
	}
	var last map[string]types.AttributeValue
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		tail := f.items[keys[len(keys)-1]]
		last = map[string]types.AttributeValue{"PK": tail["PK"], "SK": tail["SK"]}
	}
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.items[k])
	}
	return out, last
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk, err := onlyStringValue(in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	keys := f.sortedKeys(func(item map[string]types.AttributeValue) bool { return attrS(item, "PK") == pk })
	limit := f.pageSize
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	items, last := f.page(keys, in.ExclusiveStartKey, limit)
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last, Count: int32(len(items))}, nil
}

func (f *fakeTable) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	entity, err := onlyStringValue(in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	keys := f.sortedKeys(func(item map[string]types.AttributeValue) bool { return attrS(item, "EntityType") == entity })
	items, last := f.page(keys, in.ExclusiveStartKey, f.pageSize)
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: last, Count: int32(len(items))}, nil
}

var errThrottled = &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "rate exceeded"}
