package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	"github.com/Eashwar-S/knowledge-map/pkg/extensions"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockEventBridge struct {
	mock.Mock
}

func (m *mockEventBridge) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*eventbridge.PutEventsOutput)
	return out, args.Error(1)
}

func sampleRecord() versioning.HistoryRecord {
	return versioning.HistoryRecord{
		ID:        "rec-1",
		Sequence:  3,
		GraphName: "g1",
		Operation: versioning.Operation{Kind: versioning.OpAddNode, NodeID: "a", Label: "A", NodeType: entities.NodeTypeTopic},
		Summary:   "Added node a (A) in graph g1",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Version:   versioning.VersionRef{Version: 3, Checksum: "abc"},
	}
}

func TestPublisher_Publish(t *testing.T) {
	client := &mockEventBridge{}
	var sent *eventbridge.PutEventsInput
	client.On("PutEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*eventbridge.PutEventsInput) }).
		Return(&eventbridge.PutEventsOutput{}, nil)

	p := NewPublisher(client, "graph-bus", zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), sampleRecord()))

	require.NotNil(t, sent)
	require.Len(t, sent.Entries, 1)
	entry := sent.Entries[0]
	assert.Equal(t, "graph-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, Source, aws.ToString(entry.Source))
	assert.Equal(t, DetailTypeGraphMutated, aws.ToString(entry.DetailType))
	assert.Equal(t, []string{"knowledge-map:graph/g1"}, entry.Resources)

	var detail versioning.HistoryRecord
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "rec-1", detail.ID)
	assert.Equal(t, uint64(3), detail.Sequence)
	client.AssertExpectations(t)
}

func TestPublisher_Errors(t *testing.T) {
	tests := []struct {
		name    string
		out     *eventbridge.PutEventsOutput
		err     error
		wantErr string
	}{
		{
			name:    "transport error",
			err:     errors.New("connection reset"),
			wantErr: "failed to publish events to EventBridge: connection reset",
		},
		{
			name: "failed entry",
			out: &eventbridge.PutEventsOutput{
				FailedEntryCount: 1,
				Entries: []types.PutEventsResultEntry{{
					ErrorCode:    aws.String("ThrottlingException"),
					ErrorMessage: aws.String("slow down"),
				}},
			},
			wantErr: "1 events failed to publish",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockEventBridge{}
			client.On("PutEvents", mock.Anything, mock.Anything).Return(tt.out, tt.err)

			core, logs := observer.New(zapcore.ErrorLevel)
			p := NewPublisher(client, "graph-bus", zap.New(core))
			err := p.Publish(context.Background(), sampleRecord())
			require.EqualError(t, err, tt.wantErr)
			if tt.out != nil {
				assert.Equal(t, 1, logs.FilterField(zap.String("errorCode", "ThrottlingException")).Len())
			}
		})
	}
}

func TestPublisher_AsAfterCommitHook(t *testing.T) {
	client := &mockEventBridge{}
	client.On("PutEvents", mock.Anything, mock.Anything).Return(&eventbridge.PutEventsOutput{}, nil).Once()

	hooks := extensions.NewHookManager()
	hooks.Register(extensions.HookAfterCommit, "eventbridge", NewPublisher(client, "bus", nil).Publish)

	require.NoError(t, hooks.Publish(context.Background(), sampleRecord()))
	client.AssertNumberOfCalls(t, "PutEvents", 1)
}
