package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the subset of the SNS client used for publishing.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes events to an SNS topic.
//
// Each message carries the attributes event_type, scope, operation and
// group_id so subscribers can filter, e.g. a treasury queue that only takes
// workflow.approved events for one organization. On a FIFO topic (ARN ending
// in ".fifo") messages are grouped per workflow so its events arrive in order.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
	fifo     bool
}

// NewSNSNotifier builds an SNS client from cfg.
func NewSNSNotifier(cfg aws.Config, topicARN string) *SNSNotifier {
	return NewSNSNotifierWithClient(sns.NewFromConfig(cfg), topicARN)
}

// NewSNSNotifierWithClient uses the given client.
func NewSNSNotifierWithClient(client SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{
		client:   client,
		topicARN: topicARN,
		fifo:     strings.HasSuffix(topicARN, ".fifo"),
	}
}

// Notify publishes one message for event.
func (n *SNSNotifier) Notify(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	in := &sns.PublishInput{
		TopicArn:          aws.String(n.topicARN),
		Message:           aws.String(string(payload)),
		Subject:           aws.String(subject(event)),
		MessageAttributes: map[string]types.MessageAttributeValue{},
	}
	setAttr(in.MessageAttributes, "event_type", event.Type.String())

	if wf := event.Workflow; wf != nil {
		setAttr(in.MessageAttributes, "scope", wf.Scope.String())
		setAttr(in.MessageAttributes, "operation", wf.QualifiedOperation())
		setAttr(in.MessageAttributes, "group_id", wf.GroupID())
		if n.fifo {
			in.MessageGroupId = aws.String(wf.ID)
			in.MessageDeduplicationId = aws.String(fmt.Sprintf("%s-%s-%d", wf.ID, event.Type, wf.Version))
		}
	}

	if _, err := n.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// setAttr skips empty values; SNS rejects attributes without a value.
func setAttr(attrs map[string]types.MessageAttributeValue, name, value string) {
	if value == "" {
		return
	}
	attrs[name] = types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

// subject is shown to email subscribers.
func subject(event *Event) string {
	if event.Workflow == nil {
		return "saccoguard: " + event.Type.String()
	}
	return fmt.Sprintf("saccoguard: %s %s", event.Type, event.Workflow.QualifiedOperation())
}
