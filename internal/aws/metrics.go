package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsRecorder emits counters to CloudWatch under a single namespace.
type MetricsRecorder struct {
	client    CloudWatchAPI
	namespace string
	service   string
	nowFunc   func() time.Time
}

// NewMetricsRecorder returns a recorder. Every datum carries a Service dimension.
func NewMetricsRecorder(client CloudWatchAPI, namespace, service string) *MetricsRecorder {
	return &MetricsRecorder{
		client:    client,
		namespace: namespace,
		service:   service,
		nowFunc:   time.Now,
	}
}

// Count records n occurrences of the named metric.
func (m *MetricsRecorder) Count(ctx context.Context, name string, n int) error {
	now := m.nowFunc()
	input := &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(name),
				Value:      sdkaws.Float64(float64(n)),
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &now,
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("Service"), Value: sdkaws.String(m.service)},
				},
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		return fmt.Errorf("put metric data %s: %w", name, err)
	}
	return nil
}
