// Package outbox stores side effects in the same transaction as the state
// change that caused them and delivers them from a polling worker.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

type Writer struct {
	repo storage.OutboxTaskRepository
}

func NewWriter(repo storage.OutboxTaskRepository) *Writer {
	return &Writer{repo: repo}
}

// EnqueueCapacityChecksTx adds one schedule.capacity task per check.
func (w *Writer) EnqueueCapacityChecksTx(ctx context.Context, tx db.Tx, checks []repository.CapacityCheckPayload) error {
	for _, check := range checks {
		if err := w.enqueueTx(ctx, tx, repository.TopicScheduleCapacity, check); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) EnqueueOrderEventTx(ctx context.Context, tx db.Tx, event repository.OrderEventPayload) error {
	return w.enqueueTx(ctx, tx, repository.TopicOrderEvents, event)
}

func (w *Writer) enqueueTx(ctx context.Context, tx db.Tx, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if err := w.repo.CreateTx(ctx, tx, &repository.OutboxTask{Topic: topic, Payload: body}); err != nil {
		return fmt.Errorf("enqueue %s task: %w", topic, err)
	}
	return nil
}
