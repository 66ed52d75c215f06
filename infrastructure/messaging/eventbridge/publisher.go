// Package eventbridge announces committed graph mutations on an EventBridge
// bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Eashwar-S/knowledge-map/domain/versioning"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

const (
	// Source is the event source of every published entry
	Source = "knowledge-map.graph-store"
	// DetailTypeGraphMutated is the detail type of a committed mutation
	DetailTypeGraphMutated = "graph.mutated"
)

// API is the subset of the EventBridge client the publisher calls
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends one event per committed history record. Its Publish
// method has the shape of an after-commit hook.
type Publisher struct {
	client       API
	eventBusName string
	logger       *zap.Logger
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(client API, eventBusName string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, eventBusName: eventBusName, logger: logger}
}

// Publish sends the record as the event detail
func (p *Publisher) Publish(ctx context.Context, record versioning.HistoryRecord) error {
	detail, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}

	entry := types.PutEventsRequestEntry{
		EventBusName: aws.String(p.eventBusName),
		Source:       aws.String(Source),
		DetailType:   aws.String(DetailTypeGraphMutated),
		Detail:       aws.String(string(detail)),
		Time:         aws.Time(record.Timestamp),
		Resources:    []string{fmt.Sprintf("knowledge-map:graph/%s", record.GraphName)},
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for _, e := range result.Entries {
			if e.ErrorCode != nil {
				p.logger.Error("Failed to publish event",
					zap.String("graph", record.GraphName),
					zap.Uint64("sequence", record.Sequence),
					zap.String("errorCode", aws.ToString(e.ErrorCode)),
					zap.String("errorMessage", aws.ToString(e.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	p.logger.Debug("Event published to EventBridge",
		zap.String("graph", record.GraphName),
		zap.Uint64("sequence", record.Sequence),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}
