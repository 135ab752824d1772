// Package queue provides the SQS-based producer that hands campaign fanout
// messages to downstream delivery workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"commrelay/internal/config"
	"commrelay/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// FanoutPublisher serializes FanoutMessages and sends them to the campaign
// job queue with a per-message delivery delay. SQS caps the delay at 15
// minutes; the campaign tick only hands over recipients due within that
// window.
type FanoutPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewFanoutPublisher creates a FanoutPublisher on an existing SQS client.
func NewFanoutPublisher(client SQSSender, queueURL string, logger *slog.Logger) *FanoutPublisher {
	return &FanoutPublisher{client: client, queueURL: queueURL, logger: logger}
}

// NewSQSClient builds the aws-sdk-go-v2 SQS client from campaign
// configuration. A non-empty endpoint URL points the client at LocalStack.
func NewSQSClient(ctx context.Context, cfg config.CampaignConfig) (*sqs.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("queue: failed to load aws config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}), nil
}

// Publish sends one fanout message. The delay is clamped to SQS bounds; a
// negative delay sends immediately.
func (p *FanoutPublisher) Publish(ctx context.Context, msg types.FanoutMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal fanout message", err)
	}

	delaySeconds := int32(delay / time.Second)
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	if delaySeconds > 900 {
		delaySeconds = 900
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds,
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"template_code": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TemplateCode),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to send fanout message", err)
	}

	p.logger.InfoContext(ctx, "fanout message sent",
		"trace_id", msg.TraceID,
		"campaign_id", msg.CampaignID,
		"recipient_id", msg.RecipientID,
		"template_code", msg.TemplateCode,
		"delay_seconds", delaySeconds,
	)
	return nil
}
