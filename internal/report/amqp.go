package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/posprint/bridge/shared/rabbitmq"
)

// AMQPPublisher publishes Status messages to the status routing key with
// the transport client's retry policy.
type AMQPPublisher struct {
	client     *rabbitmq.Client
	routingKey string
	logger     *slog.Logger
}

// NewAMQPPublisher creates a publisher bound to the given routing key.
func NewAMQPPublisher(client *rabbitmq.Client, routingKey string, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		client:     client,
		routingKey: routingKey,
		logger:     logger,
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, st *Status) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, p.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}

	p.logger.Debug("Status published",
		slog.String("job_id", st.JobID),
		slog.String("status", string(st.Status)),
		slog.Int("queue_len", st.QueueLen),
	)

	return nil
}
