package observability

import (
	"context"
	"sync"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// maxDatumsPerCall is the PutMetricData request limit
const maxDatumsPerCall = 1000

// CloudWatchAPI is the subset of the CloudWatch client the recorder calls
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics buffers datums and ships them with PutMetricData on
// Flush, so recording never blocks a mutation on the network.
type CloudWatchMetrics struct {
	client    CloudWatchAPI
	namespace string
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []types.MetricDatum

	stop chan struct{}
	done chan struct{}
}

var _ ports.MetricsRecorder = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a recorder for namespace
func NewCloudWatchMetrics(client CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger, now: time.Now}
}

func (m *CloudWatchMetrics) add(d types.MetricDatum) {
	d.Timestamp = aws.Time(m.now())
	m.mu.Lock()
	m.pending = append(m.pending, d)
	m.mu.Unlock()
}

func dim(name, value string) types.Dimension {
	return types.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchMetrics) RecordMutation(operation, outcome string, attempts int, duration time.Duration) {
	m.add(types.MetricDatum{
		MetricName: aws.String("Mutations"),
		Dimensions: []types.Dimension{dim("Operation", operation), dim("Outcome", outcome)},
		Unit:       types.StandardUnitCount,
		Value:      aws.Float64(1),
	})
	m.add(types.MetricDatum{
		MetricName: aws.String("MutationLatency"),
		Dimensions: []types.Dimension{dim("Operation", operation)},
		Unit:       types.StandardUnitMilliseconds,
		Value:      aws.Float64(float64(duration.Microseconds()) / 1000),
	})
	if attempts > 0 {
		m.add(types.MetricDatum{
			MetricName: aws.String("MutationAttempts"),
			Dimensions: []types.Dimension{dim("Operation", operation)},
			Unit:       types.StandardUnitCount,
			Value:      aws.Float64(float64(attempts)),
		})
	}
}

func (m *CloudWatchMetrics) RecordConflict(operation string) {
	m.add(types.MetricDatum{
		MetricName: aws.String("VersionConflicts"),
		Dimensions: []types.Dimension{dim("Operation", operation)},
		Unit:       types.StandardUnitCount,
		Value:      aws.Float64(1),
	})
}

func (m *CloudWatchMetrics) RecordHistoryFailure(graphName string) {
	m.add(types.MetricDatum{
		MetricName: aws.String("HistoryAppendFailures"),
		Dimensions: []types.Dimension{dim("Graph", graphName)},
		Unit:       types.StandardUnitCount,
		Value:      aws.Float64(1),
	})
}

// Pending returns the number of buffered datums
func (m *CloudWatchMetrics) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush sends buffered datums in batches. Datums of a failed batch are
// dropped and the error is returned.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for len(batch) > 0 {
		n := len(batch)
		if n > maxDatumsPerCall {
			n = maxDatumsPerCall
		}
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[:n],
		})
		if err != nil {
			m.logger.Warn("Failed to send metrics",
				zap.String("namespace", m.namespace),
				zap.Int("dropped", len(batch)),
				zap.Error(err),
			)
			return err
		}
		batch = batch[n:]
	}
	return nil
}

// Start flushes every interval until Stop is called
func (m *CloudWatchMetrics) Start(interval time.Duration) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				_ = m.Flush(ctx)
				cancel()
			}
		}
	}()
}

// Stop ends the flush loop and sends what is left
func (m *CloudWatchMetrics) Stop(ctx context.Context) error {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
	}
	return m.Flush(ctx)
}
