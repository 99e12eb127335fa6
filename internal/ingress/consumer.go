package ingress

import (
	"context"
	"log/slog"

	"github.com/posprint/bridge/shared/rabbitmq"
)

// Consumer pumps job submissions from the message queue into the intake
// adapter. Deliveries are acknowledged manually: a settled submission
// (accepted or rejected) is acked, a submission stalled on the spool
// store is nacked back onto the queue for redelivery.
type Consumer struct {
	client        *rabbitmq.Client
	adapter       *Adapter
	logger        *slog.Logger
	consumerTag   string
	prefetchCount int
}

// NewConsumer creates a queue consumer feeding the intake adapter.
func NewConsumer(client *rabbitmq.Client, adapter *Adapter, consumerTag string, prefetchCount int, logger *slog.Logger) *Consumer {
	if consumerTag == "" {
		consumerTag = "bridge-ingress"
	}
	if prefetchCount <= 0 {
		prefetchCount = 1
	}

	return &Consumer{
		client:        client,
		adapter:       adapter,
		logger:        logger,
		consumerTag:   consumerTag,
		prefetchCount: prefetchCount,
	}
}

// Run consumes until the context is canceled or the delivery channel
// closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.client.GetChannel().Qos(c.prefetchCount, 0, false); err != nil {
		return err
	}

	messages, err := c.client.Consume(c.consumerTag)
	if err != nil {
		return err
	}

	c.logger.Info("Job intake consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Job intake consumer stopped")
			return nil

		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return nil
			}

			st, err := c.adapter.Submit(ctx, msg.Body)
			if err != nil {
				// Spool store down: requeue so the job survives.
				c.logger.Error("Submission stalled, requeueing delivery",
					slog.Any("error", err),
				)
				if nackErr := msg.Nack(false, true); nackErr != nil {
					c.logger.Error("Failed to nack delivery",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			c.logger.Debug("Submission settled",
				slog.String("job_id", st.JobID),
				slog.String("status", string(st.Status)),
			)
			if ackErr := msg.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ack delivery",
					slog.Any("error", ackErr),
				)
			}
		}
	}
}
