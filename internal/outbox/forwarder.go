package outbox

import (
	"context"

	"github.com/corpmeals/ordering/internal/kafka"
	"github.com/corpmeals/ordering/internal/repository"
)

// NewEventForwarder returns a Handler that sends the task payload to producer
// under the task's topic, keyed by task id.
func NewEventForwarder(producer kafka.Producer) Handler {
	return func(ctx context.Context, task *repository.OutboxTask) error {
		return producer.SendMessage(ctx, task.Topic, []byte(task.ID.String()), task.Payload)
	}
}
