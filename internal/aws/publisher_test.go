package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type recordingSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (r *recordingSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.inputs = append(r.inputs, in)
	if r.err != nil {
		return nil, r.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisherSend_SetsAttributesAndGroup(t *testing.T) {
	client := &recordingSQS{}
	p := NewPublisher(client, "https://sqs.local/orders.fifo")

	err := p.Send(context.Background(), `{"ok":true}`, map[string]string{
		"event_type":     "OrderCreated",
		"correlation_id": "",
	}, "order-1", "evt-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.inputs))
	}
	in := client.inputs[0]
	if *in.QueueUrl != "https://sqs.local/orders.fifo" {
		t.Fatalf("queue url mismatch: %s", *in.QueueUrl)
	}
	if in.MessageGroupId == nil || *in.MessageGroupId != "order-1" {
		t.Fatalf("group id not set: %v", in.MessageGroupId)
	}
	if in.MessageDeduplicationId == nil || *in.MessageDeduplicationId != "evt-1" {
		t.Fatalf("dedup id not set: %v", in.MessageDeduplicationId)
	}
	if _, ok := in.MessageAttributes["correlation_id"]; ok {
		t.Fatalf("empty attribute should be skipped")
	}
	if v := in.MessageAttributes["event_type"]; v.StringValue == nil || *v.StringValue != "OrderCreated" {
		t.Fatalf("event_type attribute mismatch: %+v", v)
	}
}

func TestPublisherSend_WrapsError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&recordingSQS{err: boom}, "q")
	if err := p.Send(context.Background(), "{}", nil, "", ""); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

type recordingCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (r *recordingCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	r.inputs = append(r.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMetricsRecorderCount(t *testing.T) {
	cw := &recordingCloudWatch{}
	m := NewMetricsRecorder(cw, "MedSupply/Orders", "orders-api")

	if err := m.Count(context.Background(), "OrderCreated", 2); err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 put, got %d", len(cw.inputs))
	}
	in := cw.inputs[0]
	if *in.Namespace != "MedSupply/Orders" {
		t.Fatalf("namespace mismatch: %s", *in.Namespace)
	}
	d := in.MetricData[0]
	if *d.MetricName != "OrderCreated" || *d.Value != 2 {
		t.Fatalf("datum mismatch: %+v", d)
	}
	if *d.Dimensions[0].Value != "orders-api" {
		t.Fatalf("service dimension mismatch: %+v", d.Dimensions)
	}
}
