package postgresql_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_database "github.com/corpmeals/ordering/internal/db/mocks"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/repository/postgresql"
)

func TestOutboxTaskRepo_CreateTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTx := mock_database.NewMockTx(ctrl)
	repo := postgresql.NewOutboxTaskRepo(mock_database.NewMockDB(ctrl))

	task := &repository.OutboxTask{Topic: repository.TopicScheduleCapacity, Payload: []byte(`{}`)}
	mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(repository.TaskStatusCreated),
		gomock.Eq(task.Payload), gomock.Eq(repository.TopicScheduleCapacity), gomock.Any(), gomock.Any()).
		Return(pgconn.CommandTag("INSERT 0 1"), nil)

	err := repo.CreateTx(context.Background(), mockTx, task)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, task.ID)
}

func TestOutboxTaskRepo_GetProcessableTasksTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	mockTx := mock_database.NewMockTx(ctrl)
	repo := postgresql.NewOutboxTaskRepo(mockDB)

	expected := []*repository.OutboxTask{{ID: uuid.New(), Topic: repository.TopicOrderEvents}}
	before := time.Now().UTC()
	mockTx.EXPECT().Select(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(repository.TaskStatusCreated),
		gomock.Eq(repository.TaskStatusFailed), gomock.Eq(5), gomock.Eq(repository.TaskStatusProcessing),
		gomock.Any(), gomock.Eq(20)).
		DoAndReturn(func(_ context.Context, dest any, query string, args ...any) error {
			assert.Contains(t, query, "updated_at < $5")
			staleBefore, ok := args[4].(time.Time)
			require.True(t, ok)
			assert.WithinDuration(t, before.Add(-2*time.Minute), staleBefore, time.Second)
			*dest.(*[]*repository.OutboxTask) = expected
			return nil
		})

	tasks, err := repo.GetProcessableTasksTx(context.Background(), mockTx, 20, 5, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, expected, tasks)
}

func TestOutboxTaskRepo_UpdateTaskStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDB := mock_database.NewMockDB(ctrl)
	repo := postgresql.NewOutboxTaskRepo(mockDB)

	id := uuid.New()
	mockDB.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Eq(id), gomock.Eq(repository.TaskStatusFailed),
		gomock.Eq(2), gomock.Any(), gomock.Any()).Return(pgconn.CommandTag("UPDATE 0"), nil)

	lastErr := "boom"
	err := repo.UpdateTaskStatus(context.Background(), id, repository.TaskStatusFailed, 2, &lastErr, nil)
	assert.ErrorIs(t, err, repository.ErrObjectNotFound)
}
