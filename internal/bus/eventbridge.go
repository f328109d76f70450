package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/smithy-go"
)

// EventBridgePublisher publishes envelopes onto an EventBridge custom bus.
type EventBridgePublisher struct {
	client  *eventbridge.Client
	busName string
	logger  *slog.Logger
}

var _ Publisher = (*EventBridgePublisher)(nil)

// NewEventBridgePublisher resolves AWS configuration for the region and
// returns a publisher bound to the named bus.
func NewEventBridgePublisher(ctx context.Context, region, busName string, logger *slog.Logger) (*EventBridgePublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EventBridgePublisher{
		client:  eventbridge.NewFromConfig(awsCfg),
		busName: busName,
		logger:  logger.With("component", "eventbridge_publisher"),
	}, nil
}

// Publish puts one event entry onto the bus.
func (p *EventBridgePublisher) Publish(ctx context.Context, env Envelope) error {
	detail, err := json.Marshal(env.Detail)
	if err != nil {
		return fmt.Errorf("encode event detail: %w", err)
	}
	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			Source:       aws.String(env.Source),
			DetailType:   aws.String(env.DetailType),
			Detail:       aws.String(string(detail)),
			EventBusName: aws.String(p.busName),
		}},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			p.logger.Error("put events failed", "code", apiErr.ErrorCode(), "error", err)
		}
		return fmt.Errorf("publish event %s: %w", env.ID, err)
	}
	if out.FailedEntryCount > 0 {
		for _, entry := range out.Entries {
			if entry.ErrorCode != nil {
				return fmt.Errorf("publish event %s: %s: %s",
					env.ID, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("publish event %s: %d entries failed", env.ID, out.FailedEntryCount)
	}
	return nil
}
