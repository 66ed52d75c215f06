// Package dynamodb keeps graph snapshots and history in a single DynamoDB
// table keyed by PK/SK:
//
//	PK=GRAPH#<name>    SK=SNAPSHOT          current document and version
//	PK=HISTORY#<name>  SK=SEQ#<seq %020d>   one history record
//
// Optimistic concurrency uses conditional writes; a failed condition is a
// version conflict for snapshots and a duplicate for history records.
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of the DynamoDB client the stores call.
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const (
	entityGraph   = "GRAPH"
	entityHistory = "HISTORY"
	snapshotSK    = "SNAPSHOT"

	condItemAbsent       = "attribute_not_exists(PK)"
	condVersionMatches   = "Version = :expected"
	condAbsentOrVersion  = condItemAbsent + " OR " + condVersionMatches
	expectedVersionValue = ":expected"
)

func graphPK(graphName string) string {
	return "GRAPH#" + graphName
}

func historyPK(graphName string) string {
	return "HISTORY#" + graphName
}

func historySK(sequence uint64) string {
	return fmt.Sprintf("SEQ#%020d", sequence)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
