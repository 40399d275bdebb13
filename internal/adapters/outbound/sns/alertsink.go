// Package sns implements the AlertSink port using AWS SNS.
//
// Operator alerts are published to a single topic with message attributes
// for severity and component, so subscriptions can filter pages from
// warnings. Only critical and fatal error classes reach this sink.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/bitredict/relayer/internal/pkg/retry"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that AlertSink implements outbound.AlertSink
var _ outbound.AlertSink = (*AlertSink)(nil)

// Publisher defines the subset of SNS client methods used by AlertSink,
// allowing mocks in tests.
type Publisher interface {
	Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// Config holds configuration for the SNS alert sink.
type Config struct {
	// TopicARN is the SNS topic alerts are published to.
	TopicARN string

	// Retry controls backoff for transient publish failures.
	Retry retry.Policy

	// Logger is the structured logger for the sink.
	Logger *slog.Logger
}

// AlertSink publishes operator alerts to AWS SNS.
type AlertSink struct {
	client Publisher
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAlertSink creates a new SNS alert sink.
func NewAlertSink(client Publisher, cfg Config) (*AlertSink, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("topic ARN is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &AlertSink{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "alert_sink"),
	}, nil
}

// Publish sends the alert, retrying transient failures. Publishing after
// Close is an error.
func (s *AlertSink) Publish(ctx context.Context, alert outbound.Alert) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errors.New("alert sink is closed")
	}

	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshalling alert: %w", err)
	}

	input := &awssns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Message:  aws.String(string(payload)),
		Subject:  aws.String(fmt.Sprintf("[%s] %s", alert.Severity, alert.Component)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Severity)),
			},
			"alertComponent": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Component),
			},
		},
	}

	err = retry.DoVoid(ctx, s.config.Retry,
		func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		func(attempt int, err error, backoff time.Duration) {
			s.logger.Warn("alert publish failed, retrying",
				"attempt", attempt, "backoff", backoff, "error", err)
		},
		func() error {
			_, err := s.client.Publish(ctx, input)
			return err
		})
	if err != nil {
		return fmt.Errorf("publishing %s alert from %s: %w", alert.Severity, alert.Component, err)
	}
	return nil
}

// Close marks the sink closed. In-flight publishes complete normally.
func (s *AlertSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
