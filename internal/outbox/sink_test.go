package outbox

import (
	"context"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/imrishuroy/medsupply-orderflow/internal/aws"
)

type recordingSQS struct {
	inputs []*sqs.SendMessageInput
}

func (r *recordingSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.inputs = append(r.inputs, in)
	return &sqs.SendMessageOutput{MessageId: sdkaws.String("m-1")}, nil
}

func TestSQSSinkEncodesEnvelope(t *testing.T) {
	cases := []struct {
		name      string
		queueURL  string
		wantGroup bool
	}{
		{name: "standard queue", queueURL: "https://sqs.local/000000000000/orders", wantGroup: false},
		{name: "fifo queue", queueURL: "https://sqs.local/000000000000/orders.fifo", wantGroup: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &recordingSQS{}
			sink := NewSQSSink(aws.NewPublisher(client, tc.queueURL))
			env := NewEnvelope(testEvent("e1", time.Now().UTC()), "orders-service")

			if err := sink.Publish(context.Background(), env); err != nil {
				t.Fatalf("publish: %v", err)
			}
			in := client.inputs[0]
			got, err := DecodeEnvelope([]byte(sdkaws.ToString(in.MessageBody)))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.EventID != "e1" || string(got.Payload) != `{"order_id":"order-e1"}` {
				t.Fatalf("unexpected envelope: %+v", got)
			}
			if sdkaws.ToString(in.MessageAttributes["event_type"].StringValue) != "OrderCreated" {
				t.Fatalf("missing event_type attribute")
			}
			if (in.MessageGroupId != nil) != tc.wantGroup {
				t.Fatalf("message group mismatch: %v", in.MessageGroupId)
			}
			if tc.wantGroup && sdkaws.ToString(in.MessageDeduplicationId) != "e1" {
				t.Fatalf("expected dedup id e1")
			}
		})
	}
}
