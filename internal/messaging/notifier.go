package messaging

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/fitquest/services/progression/internal/models"
)

// Publisher pushes processed and reversed notifications onto the outbound
// queue for downstream consumers (feeds, notification service). Delivery is
// best-effort; a publish failure never fails the operation that triggered it.
type Publisher struct {
	client ServiceBusClient
}

// NewPublisher creates a publisher over the given client
func NewPublisher(client ServiceBusClient) *Publisher {
	return &Publisher{client: client}
}

type notification struct {
	Kind          string `json:"kind"`
	Token         string `json:"token"`
	UserID        string `json:"user_id"`
	Source        string `json:"source"`
	Action        string `json:"action"`
	XPAwarded     int    `json:"xp_awarded"`
	Status        string `json:"status"`
	ReversalToken string `json:"reversal_token,omitempty"`
}

// EventProcessed publishes a processed notification
func (p *Publisher) EventProcessed(ctx context.Context, entry *models.EventLog) {
	p.publish(ctx, notification{
		Kind:      "event.processed",
		Token:     entry.Token,
		UserID:    entry.UserID.String(),
		Source:    entry.Source,
		Action:    entry.Action,
		XPAwarded: entry.XPAwarded,
		Status:    entry.Status,
	})
}

// EventReversed publishes a reversed notification
func (p *Publisher) EventReversed(ctx context.Context, entry *models.EventLog, reversalToken string) {
	p.publish(ctx, notification{
		Kind:          "event.reversed",
		Token:         entry.Token,
		UserID:        entry.UserID.String(),
		Source:        entry.Source,
		Action:        entry.Action,
		XPAwarded:     -entry.XPAwarded,
		Status:        models.EventStatusReversed,
		ReversalToken: reversalToken,
	})
}

func (p *Publisher) publish(ctx context.Context, n notification) {
	if err := p.client.SendMessage(ctx, n); err != nil {
		log.Warn().Err(err).Str("token", n.Token).Str("kind", n.Kind).Msg("Failed to publish notification")
	}
}
