package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/fitquest/services/progression/config"
	"example.com/fitquest/services/progression/internal/coordinator"
	"example.com/fitquest/services/progression/internal/domains"
)

const receiveBatchSize = 10

// EventHandler processes one domain event end to end
type EventHandler interface {
	ProcessEvent(ctx context.Context, event domains.Event) (coordinator.EventResult, error)
}

// PayloadEnricher fills counters the publishing domain omitted
type PayloadEnricher interface {
	Enrich(ctx context.Context, event domains.Event) domains.Event
}

// Consumer pulls domain events off the intake queue and runs them through
// the coordinator. Messages that fail permanently are dead-lettered;
// transient failures are abandoned for redelivery.
type Consumer struct {
	client    *azservicebus.Client
	queueName string
	handler   EventHandler
	enricher  PayloadEnricher
}

// NewConsumer creates a consumer for the events intake queue
func NewConsumer(cfg config.AzureConfig, handler EventHandler, enricher PayloadEnricher) (*Consumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &Consumer{
		client:    client,
		queueName: cfg.EventsQueueName,
		handler:   handler,
		enricher:  enricher,
	}, nil
}

// Run receives and processes messages until the context is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().Str("queue", c.queueName).Msg("Starting event consumer")

	receiver, err := c.client.NewReceiverForQueue(c.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Error receiving messages, retrying")
			time.Sleep(2 * time.Second)
			continue
		}

		for _, message := range messages {
			c.handleMessage(ctx, receiver, message)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, receiver *azservicebus.Receiver, message *azservicebus.ReceivedMessage) {
	var event domains.Event
	if err := json.Unmarshal(message.Body, &event); err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Malformed event message")
		c.deadLetter(ctx, receiver, message, "malformed payload")
		return
	}

	event = c.enricher.Enrich(ctx, event)

	result, err := c.handler.ProcessEvent(ctx, event)
	if err != nil {
		if permanent(err) {
			log.Error().Err(err).Str("token", event.Token).Msg("Event rejected permanently")
			c.deadLetter(ctx, receiver, message, err.Error())
			return
		}
		// Transient; let the queue redeliver
		log.Warn().Err(err).Str("token", event.Token).Msg("Event processing failed, abandoning for retry")
		if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Str("token", event.Token).Msg("Failed to abandon message")
		}
		return
	}

	log.Info().
		Str("token", result.Token).
		Int("xp_awarded", result.XPAwarded).
		Msg("Queued event processed")
	if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
		log.Error().Err(err).Str("token", event.Token).Msg("Failed to complete message")
	}
}

// permanent reports whether redelivery could ever succeed. A duplicate token
// means an entry already exists for this event, so redelivering it would hit
// the same unique index forever.
func permanent(err error) bool {
	return errors.Is(err, domains.ErrUnknownDomain) ||
		errors.Is(err, domains.ErrInvalidPayload) ||
		errors.Is(err, domains.ErrUnsupportedAction) ||
		errors.Is(err, domains.ErrDuplicateToken)
}

func (c *Consumer) deadLetter(ctx context.Context, receiver *azservicebus.Receiver, message *azservicebus.ReceivedMessage, reason string) {
	opts := &azservicebus.DeadLetterOptions{Reason: &reason}
	if err := receiver.DeadLetterMessage(ctx, message, opts); err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to dead-letter message")
	}
}
