// Package delivery holds the outbound SMS publishers.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSPublisher delivers alerts as SMS through AWS SNS. Constructed once at
// process start and reused for the process lifetime.
type SNSPublisher struct {
	client *sns.Client
}

// NewSNSPublisher builds the publisher from the ambient AWS configuration
// (environment credentials and region).
func NewSNSPublisher(ctx context.Context) (*SNSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSPublisher{client: sns.NewFromConfig(cfg)}, nil
}

func (p *SNSPublisher) Publish(ctx context.Context, phoneNumber, message string) error {
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phoneNumber),
		Message:     aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// LogPublisher is the dry-run publisher: it logs what would have been sent
// and always succeeds.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, phoneNumber, message string) error {
	p.logger.Info("dry-run delivery", "phone_number", phoneNumber, "message", message)
	return nil
}
