package postgresql_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_database "github.com/corpmeals/ordering/internal/db/mocks"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/repository/postgresql"
)

func TestCapacityRepo_LockTx(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

	t.Run("seeds then locks", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewCapacityRepo()

		gomock.InOrder(
			mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Eq("restaurant-1"), gomock.Eq(date),
				gomock.Eq(repository.OrderStatusProcessing)).Return(pgconn.CommandTag("INSERT 0 1"), nil),
			mockTx.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq("restaurant-1"), gomock.Eq(date)).
				DoAndReturn(func(_ context.Context, dest any, _ string, _ ...any) error {
					reflect.ValueOf(dest).Elem().FieldByName("Quantity").SetInt(7)
					return nil
				}),
		)

		quantity, err := repo.LockTx(ctx, mockTx, "restaurant-1", date)
		require.NoError(t, err)
		assert.Equal(t, 7, quantity)
	})

	t.Run("seed error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewCapacityRepo()

		expectedErr := errors.New("database error")
		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, expectedErr)

		_, err := repo.LockTx(ctx, mockTx, "restaurant-1", date)
		assert.ErrorIs(t, err, expectedErr)
	})
}

func TestCapacityRepo_AddTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTx := mock_database.NewMockTx(ctrl)
	repo := postgresql.NewCapacityRepo()
	date := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

	mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Eq("restaurant-1"), gomock.Eq(date), gomock.Eq(-2)).
		Return(pgconn.CommandTag("UPDATE 0"), nil)

	err := repo.AddTx(context.Background(), mockTx, "restaurant-1", date, -2)
	assert.ErrorIs(t, err, repository.ErrObjectNotFound)
}
