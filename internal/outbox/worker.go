package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/metrics"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/storage"
)

// Handler processes one claimed task. A returned error marks the task FAILED
// and it is retried until it runs out of attempts.
type Handler func(ctx context.Context, task *repository.OutboxTask) error

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// LeaseTimeout is how long a PROCESSING task may stay claimed before
	// another poll takes it over.
	LeaseTimeout time.Duration
}

type Worker struct {
	db             db.DB
	repo           storage.OutboxTaskRepository
	handlers       map[string]Handler
	config         WorkerConfig
	logger         *zap.Logger
	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func NewWorker(db db.DB, repo storage.OutboxTaskRepository, config WorkerConfig, logger *zap.Logger) *Worker {
	return &Worker{
		db:             db,
		repo:           repo,
		handlers:       make(map[string]Handler),
		config:         config,
		logger:         logger.With(zap.String("component", "outbox_worker")),
		shutdownSignal: make(chan struct{}),
	}
}

// Register must be called before Run.
func (w *Worker) Register(topic string, handler Handler) {
	w.handlers[topic] = handler
}

func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Starting outbox worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)
	w.wg.Add(1)
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("Failed to process outbox batch", zap.Error(err))
			}
		case <-w.shutdownSignal:
			w.logger.Info("Outbox worker received shutdown signal, stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Outbox worker context cancelled, stopping")
			return
		}
	}
}

// Shutdown stops Run and waits for the batch in flight.
func (w *Worker) Shutdown() {
	w.stopOnce.Do(func() {
		close(w.shutdownSignal)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			w.logger.Info("Outbox worker shutdown complete")
		case <-shutdownCtx.Done():
			w.logger.Warn("Outbox worker shutdown timed out")
		}
	})
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for fetching tasks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	tasks, err := w.repo.GetProcessableTasksTx(ctx, tx, w.config.BatchSize, w.config.MaxAttempts, w.config.LeaseTimeout)
	if err != nil {
		return fmt.Errorf("failed to get processable tasks: %w", err)
	}

	if len(tasks) == 0 {
		return tx.Commit(ctx)
	}

	w.logger.Debug("Fetched outbox tasks", zap.Int("count", len(tasks)))

	for _, task := range tasks {
		err := w.repo.UpdateTaskStatusTx(ctx, tx, task.ID, repository.TaskStatusProcessing, task.Attempts, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to mark task %s as PROCESSING: %w", task.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction after marking tasks as PROCESSING: %w", err)
	}

	for _, task := range tasks {
		select {
		case <-w.shutdownSignal:
			w.logger.Warn("Shutdown during batch processing, task left unprocessed", zap.Stringer("task_id", task.ID))
			return errors.New("outbox worker shutdown during batch processing")
		case <-ctx.Done():
			w.logger.Warn("Context cancelled during batch processing, task left unprocessed", zap.Stringer("task_id", task.ID))
			return ctx.Err()
		default:
		}

		if err := w.processSingleTask(ctx, task); err != nil {
			w.logger.Error("Failed to process task", zap.Stringer("task_id", task.ID), zap.String("topic", task.Topic), zap.Error(err))
		}
	}

	return nil
}

func (w *Worker) processSingleTask(ctx context.Context, task *repository.OutboxTask) error {
	log := w.logger.With(zap.Stringer("task_id", task.ID), zap.String("topic", task.Topic))
	log.Debug("Processing task", zap.Int("attempt", task.Attempts+1))

	var err error
	handler, ok := w.handlers[task.Topic]
	if !ok {
		err = fmt.Errorf("no handler registered for topic %q", task.Topic)
	} else {
		err = handler(ctx, task)
	}

	if err != nil {
		metrics.OutboxTasksTotal.WithLabelValues(task.Topic, "failed").Inc()
		newAttempts := task.Attempts + 1
		errMsg := err.Error()

		if newAttempts >= w.config.MaxAttempts {
			log.Error("Task reached max attempts, giving up", zap.Int("max_attempts", w.config.MaxAttempts), zap.Error(err))
		}

		updateErr := w.repo.UpdateTaskStatus(ctx, task.ID, repository.TaskStatusFailed, newAttempts, &errMsg, nil)
		if updateErr != nil {
			log.Error("Failed to record task failure", zap.Error(updateErr), zap.NamedError("cause", err))
			return fmt.Errorf("failed to update task status after handler failure: %w", updateErr)
		}
		return err
	}

	metrics.OutboxTasksTotal.WithLabelValues(task.Topic, "done").Inc()
	now := time.Now().UTC()
	if updateErr := w.repo.UpdateTaskStatus(ctx, task.ID, repository.TaskStatusDone, task.Attempts+1, nil, &now); updateErr != nil {
		return fmt.Errorf("failed to update task status after success: %w", updateErr)
	}

	log.Debug("Task processed")
	return nil
}
