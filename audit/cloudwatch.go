package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// CloudWatchConfig holds configuration for CloudWatch Logs forwarding.
type CloudWatchConfig struct {
	LogGroupName  string           // CloudWatch log group name
	LogStreamName string           // CloudWatch log stream name
	SignConfig    *SignatureConfig // Signs records before sending when set
}

// CloudWatchAPI defines the CloudWatch Logs operations used.
type CloudWatchAPI interface {
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchSink forwards records to CloudWatch Logs.
type CloudWatchSink struct {
	client        CloudWatchAPI
	config        *CloudWatchConfig
	sequenceToken *string
	mu            sync.Mutex
	now           func() time.Time
}

// NewCloudWatchSink creates a CloudWatchSink from AWS config.
func NewCloudWatchSink(awsCfg aws.Config, config *CloudWatchConfig) *CloudWatchSink {
	return NewCloudWatchSinkWithClient(cloudwatchlogs.NewFromConfig(awsCfg), config)
}

// NewCloudWatchSinkWithClient creates a CloudWatchSink with a custom client.
func NewCloudWatchSinkWithClient(client CloudWatchAPI, config *CloudWatchConfig) *CloudWatchSink {
	return &CloudWatchSink{client: client, config: config, now: time.Now}
}

// Record marshals rec, signing it if configured, and sends it.
// Delivery errors go to stderr.
func (s *CloudWatchSink) Record(ctx context.Context, rec Record) {
	var message []byte
	var err error

	if s.config.SignConfig != nil {
		signed, signErr := SignRecord(rec, s.config.SignConfig, s.now())
		if signErr != nil {
			fmt.Fprintf(os.Stderr, "cloudwatch signing error: %v\n", signErr)
			message, err = json.Marshal(rec)
		} else {
			message, err = json.Marshal(signed)
		}
	} else {
		message, err = json.Marshal(rec)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloudwatch marshal error: %v\n", err)
		return
	}

	s.putLogEvent(context.WithoutCancel(ctx), string(message))
}

func (s *CloudWatchSink) putLogEvent(ctx context.Context, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	input := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.config.LogGroupName),
		LogStreamName: aws.String(s.config.LogStreamName),
		LogEvents: []types.InputLogEvent{
			{
				Message:   aws.String(message),
				Timestamp: aws.Int64(s.now().UnixMilli()),
			},
		},
	}
	if s.sequenceToken != nil {
		input.SequenceToken = s.sequenceToken
	}

	output, err := s.client.PutLogEvents(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloudwatch PutLogEvents error: %v\n", err)
		return
	}
	if output != nil && output.NextSequenceToken != nil {
		s.sequenceToken = output.NextSequenceToken
	}
}
