// Package messaging forwards funding changes to an Amazon SNS topic.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"incubator-portal/portal-backend/internal/funding"
)

// SNSAPI is the subset of the SNS client the publisher needs
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes every change as a JSON message on one topic
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSPublisher creates a publisher for topicARN
func NewSNSPublisher(client SNSAPI, topicARN string, logger *zap.Logger) (*SNSPublisher, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if topicARN == "" {
		return nil, errors.New("sns topic arn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSPublisher{client: client, topicARN: topicARN, logger: logger}, nil
}

// NewSNSClient loads the default AWS credential chain for region
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// changeMessage is the message body consumers receive
type changeMessage struct {
	StartupID string             `json:"startup_id"`
	Kind      funding.EventKind  `json:"kind"`
	StageID   string             `json:"stage_id,omitempty"`
	Event     funding.StageEvent `json:"event"`
	Snapshot  funding.Snapshot   `json:"snapshot"`
}

func (p *SNSPublisher) Publish(ctx context.Context, event funding.ChangeEvent) error {
	body, err := json.Marshal(changeMessage{
		StartupID: event.StartupID.String(),
		Kind:      event.Event.Kind,
		StageID:   event.Event.StageID,
		Event:     event.Event,
		Snapshot:  event.Snapshot,
	})
	if err != nil {
		return fmt.Errorf("failed to encode funding change: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Event.Kind)),
			},
			"startup_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.StartupID.String()),
			},
		},
	}
	// FIFO topics order per startup and dedupe on the event id
	if strings.HasSuffix(p.topicARN, ".fifo") {
		input.MessageGroupId = aws.String(event.StartupID.String())
		input.MessageDeduplicationId = aws.String(event.Event.ID.String())
	}

	out, err := p.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to sns: %w", err)
	}

	p.logger.Debug("Funding change published to SNS",
		zap.String("startup_id", event.StartupID.String()),
		zap.String("kind", string(event.Event.Kind)),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}
