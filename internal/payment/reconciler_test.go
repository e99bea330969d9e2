package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/auth"
	"github.com/corpmeals/ordering/internal/capacity"
	mock_database "github.com/corpmeals/ordering/internal/db/mocks"
	"github.com/corpmeals/ordering/internal/outbox"
	"github.com/corpmeals/ordering/internal/payment"
	mock_payment "github.com/corpmeals/ordering/internal/payment/mocks"
	"github.com/corpmeals/ordering/internal/repository"
	mock_storage "github.com/corpmeals/ordering/internal/storage/mocks"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type reconcilerMocks struct {
	db        *mock_database.MockDB
	tx        *mock_database.MockTx
	orders    *mock_storage.MockOrderRepository
	discounts *mock_storage.MockDiscountRepository
	refunds   *mock_storage.MockRefundRepository
	capacity  *mock_storage.MockCapacityRepository
	outbox    *mock_storage.MockOutboxTaskRepository
	provider  *mock_payment.MockProvider
}

func newReconciler(t *testing.T) (*payment.Reconciler, *reconcilerMocks) {
	ctrl := gomock.NewController(t)
	m := &reconcilerMocks{
		db:        mock_database.NewMockDB(ctrl),
		tx:        mock_database.NewMockTx(ctrl),
		orders:    mock_storage.NewMockOrderRepository(ctrl),
		discounts: mock_storage.NewMockDiscountRepository(ctrl),
		refunds:   mock_storage.NewMockRefundRepository(ctrl),
		capacity:  mock_storage.NewMockCapacityRepository(ctrl),
		outbox:    mock_storage.NewMockOutboxTaskRepository(ctrl),
		provider:  mock_payment.NewMockProvider(ctrl),
	}
	m.tx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()

	r := payment.NewReconciler(
		m.db, m.orders, m.discounts, m.refunds,
		capacity.NewGuard(m.capacity, capacity.DefaultGrace),
		outbox.NewWriter(m.outbox),
		m.provider,
		zap.NewNop(),
	)
	r.SetClock(func() time.Time { return testNow })
	return r, m
}

func pendingOrder(id string, total string) *repository.Order {
	return &repository.Order{
		ID:           id,
		CustomerID:   "u1",
		RestaurantID: "r1",
		DeliveryDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		Quantity:     1,
		Total:        decimal.RequireFromString(total),
		Status:       repository.OrderStatusProcessing,
	}
}

func TestReconciler_HandleWebhook_CompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, m := newReconciler(t)

	event := &payment.Event{
		ID:             "evt_1",
		Type:           payment.EventCheckoutCompleted,
		PaymentStatus:  payment.PaymentStatusPaid,
		PendingKey:     "pk_1",
		CustomerID:     "u1",
		PaymentIntent:  "pi_1",
		AmountTotal:    decimal.RequireFromString("3"),
		DiscountCodeID: "d1",
		DiscountAmount: decimal.RequireFromString("2"),
	}
	m.provider.EXPECT().ParseEvent([]byte("payload"), "sig").Return(event, nil).Times(2)
	m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil).Times(2)

	paid := []*repository.Order{pendingOrder("o1", "8"), pendingOrder("o2", "7")}
	var stamped []repository.Payment
	gomock.InOrder(
		m.orders.EXPECT().MarkPaidTx(ctx, m.tx, "pk_1", gomock.Any(), testNow).
			DoAndReturn(func(_ context.Context, _ any, _ string, p repository.Payment, _ time.Time) ([]*repository.Order, error) {
				stamped = append(stamped, p)
				return paid, nil
			}),
		m.orders.EXPECT().MarkPaidTx(ctx, m.tx, "pk_1", gomock.Any(), testNow).Return(nil, nil),
	)

	m.capacity.EXPECT().LockTx(ctx, m.tx, "r1", paid[0].DeliveryDate).Return(4, nil)
	m.capacity.EXPECT().AddTx(ctx, m.tx, "r1", paid[0].DeliveryDate, 2).Return(nil)
	m.discounts.EXPECT().RedeemTx(ctx, m.tx, &repository.DiscountRedemption{
		DiscountCodeID: "d1",
		CustomerID:     "u1",
		RedemptionKey:  "pk_1",
		CreatedAt:      testNow,
	}).Return(true, nil).Times(1)
	m.outbox.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).Return(nil).Times(2)
	m.tx.EXPECT().Commit(ctx).Return(nil).Times(1)

	require.NoError(t, r.HandleWebhook(ctx, []byte("payload"), "sig"))
	require.NoError(t, r.HandleWebhook(ctx, []byte("payload"), "sig"))

	require.Len(t, stamped, 1)
	assert.Equal(t, "pi_1", stamped[0].Intent)
	assert.True(t, decimal.RequireFromString("3").Equal(stamped[0].Total))
}

func TestReconciler_HandleWebhook_CompletedWithoutDiscount(t *testing.T) {
	ctx := context.Background()
	r, m := newReconciler(t)

	m.provider.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(&payment.Event{
		Type:          payment.EventCheckoutCompleted,
		PaymentStatus: payment.PaymentStatusNoPaymentRequired,
		PendingKey:    "pk_1",
		AmountTotal:   decimal.RequireFromString("3"),
	}, nil)
	m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
	m.orders.EXPECT().MarkPaidTx(ctx, m.tx, "pk_1", gomock.Any(), testNow).
		Return([]*repository.Order{pendingOrder("o1", "15")}, nil)
	m.capacity.EXPECT().LockTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(0, nil)
	m.capacity.EXPECT().AddTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), 1).Return(nil)
	m.discounts.EXPECT().RedeemTx(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	m.outbox.EXPECT().CreateTx(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	m.tx.EXPECT().Commit(ctx).Return(nil)

	assert.NoError(t, r.HandleWebhook(ctx, nil, "sig"))
}

func TestReconciler_HandleWebhook_Expired(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes matching pending orders", func(t *testing.T) {
		r, m := newReconciler(t)

		m.provider.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(&payment.Event{
			Type:       payment.EventCheckoutExpired,
			PendingKey: "pk_1",
		}, nil)
		m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
		m.orders.EXPECT().DeletePendingTx(ctx, m.tx, "pk_1").Return([]string{"o1", "o2"}, nil)
		m.orders.EXPECT().UpdateStatusTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		m.outbox.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ any, task *repository.OutboxTask) error {
				assert.Equal(t, repository.TopicOrderEvents, task.Topic)
				assert.Contains(t, string(task.Payload), `"orderIds":["o1","o2"]`)
				return nil
			})
		m.tx.EXPECT().Commit(ctx).Return(nil)

		assert.NoError(t, r.HandleWebhook(ctx, nil, "sig"))
	})

	t.Run("nothing left to delete", func(t *testing.T) {
		r, m := newReconciler(t)

		m.provider.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(&payment.Event{
			Type:       payment.EventCheckoutExpired,
			PendingKey: "pk_1",
		}, nil)
		m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
		m.orders.EXPECT().DeletePendingTx(ctx, m.tx, "pk_1").Return(nil, nil)

		assert.NoError(t, r.HandleWebhook(ctx, nil, "sig"))
	})
}

func TestReconciler_HandleWebhook_RejectsAndIgnores(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature changes nothing", func(t *testing.T) {
		r, m := newReconciler(t)
		m.provider.EXPECT().ParseEvent(gomock.Any(), "bad").Return(nil, errors.New("signature mismatch"))
		m.db.EXPECT().BeginTx(gomock.Any()).Times(0)

		err := r.HandleWebhook(ctx, []byte("{}"), "bad")
		assert.Equal(t, apperr.KindPaymentVerification, apperr.KindOf(err))
	})

	t.Run("unrelated event type", func(t *testing.T) {
		r, m := newReconciler(t)
		m.provider.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(&payment.Event{Type: "invoice.paid"}, nil)
		m.db.EXPECT().BeginTx(gomock.Any()).Times(0)

		assert.NoError(t, r.HandleWebhook(ctx, nil, "sig"))
	})

	t.Run("session not created by us", func(t *testing.T) {
		r, m := newReconciler(t)
		m.provider.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(&payment.Event{Type: payment.EventCheckoutCompleted}, nil)
		m.db.EXPECT().BeginTx(gomock.Any()).Times(0)

		assert.NoError(t, r.HandleWebhook(ctx, nil, "sig"))
	})

	t.Run("storage failure is returned", func(t *testing.T) {
		r, m := newReconciler(t)
		m.provider.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(&payment.Event{
			Type:          payment.EventCheckoutCompleted,
			PaymentStatus: payment.PaymentStatusPaid,
			PendingKey:    "pk_1",
		}, nil)
		m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
		m.orders.EXPECT().MarkPaidTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("database error"))

		err := r.HandleWebhook(ctx, nil, "sig")
		assert.Error(t, err)
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	})
}

func TestReconciler_HandleWebhook_DelayedPayment(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		event      *payment.Event
		setupMocks func(m *reconcilerMocks)
	}{
		{
			name: "completed but unpaid leaves orders pending",
			event: &payment.Event{
				Type:          payment.EventCheckoutCompleted,
				PaymentStatus: payment.PaymentStatusUnpaid,
				PendingKey:    "pk_1",
				AmountTotal:   decimal.RequireFromString("3"),
			},
			setupMocks: func(m *reconcilerMocks) {
				m.db.EXPECT().BeginTx(gomock.Any()).Times(0)
				m.orders.EXPECT().MarkPaidTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				m.discounts.EXPECT().RedeemTx(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
		},
		{
			name: "completed with unknown payment status leaves orders pending",
			event: &payment.Event{
				Type:       payment.EventCheckoutCompleted,
				PendingKey: "pk_1",
			},
			setupMocks: func(m *reconcilerMocks) {
				m.db.EXPECT().BeginTx(gomock.Any()).Times(0)
			},
		},
		{
			name: "async payment succeeded promotes orders",
			event: &payment.Event{
				Type:          payment.EventAsyncPaymentSucceeded,
				PaymentStatus: payment.PaymentStatusPaid,
				PendingKey:    "pk_1",
				PaymentIntent: "pi_1",
				AmountTotal:   decimal.RequireFromString("3"),
			},
			setupMocks: func(m *reconcilerMocks) {
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().MarkPaidTx(ctx, m.tx, "pk_1", repository.Payment{
					Intent: "pi_1",
					Total:  decimal.RequireFromString("3"),
				}, testNow).Return([]*repository.Order{pendingOrder("o1", "15")}, nil)
				m.capacity.EXPECT().LockTx(ctx, m.tx, "r1", gomock.Any()).Return(0, nil)
				m.capacity.EXPECT().AddTx(ctx, m.tx, "r1", gomock.Any(), 1).Return(nil)
				m.outbox.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).Return(nil).Times(2)
				m.tx.EXPECT().Commit(ctx).Return(nil)
			},
		},
		{
			name: "async payment failed deletes pending orders",
			event: &payment.Event{
				Type:          payment.EventAsyncPaymentFailed,
				PaymentStatus: payment.PaymentStatusUnpaid,
				PendingKey:    "pk_1",
				CustomerID:    "u1",
			},
			setupMocks: func(m *reconcilerMocks) {
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().MarkPaidTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				m.orders.EXPECT().DeletePendingTx(ctx, m.tx, "pk_1").Return([]string{"o1"}, nil)
				m.outbox.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).
					DoAndReturn(func(_ context.Context, _ any, task *repository.OutboxTask) error {
						assert.Contains(t, string(task.Payload), string(repository.OrderEventExpired))
						return nil
					})
				m.tx.EXPECT().Commit(ctx).Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, m := newReconciler(t)
			m.provider.EXPECT().ParseEvent(gomock.Any(), gomock.Any()).Return(tt.event, nil)
			tt.setupMocks(m)

			assert.NoError(t, r.HandleWebhook(ctx, nil, "sig"))
		})
	}
}

func TestReconciler_HandleWebhook_OnceDiscountAcrossCheckouts(t *testing.T) {
	ctx := context.Background()
	r, m := newReconciler(t)

	eventFor := func(pendingKey string) *payment.Event {
		return &payment.Event{
			Type:           payment.EventCheckoutCompleted,
			PaymentStatus:  payment.PaymentStatusPaid,
			PendingKey:     pendingKey,
			CustomerID:     "u1",
			AmountTotal:    decimal.RequireFromString("3"),
			DiscountCodeID: "d1",
			DiscountAmount: decimal.RequireFromString("2"),
		}
	}
	gomock.InOrder(
		m.provider.EXPECT().ParseEvent(gomock.Any(), "sig_a").Return(eventFor("pk_a"), nil),
		m.provider.EXPECT().ParseEvent(gomock.Any(), "sig_b").Return(eventFor("pk_b"), nil),
	)
	m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil).Times(2)
	m.orders.EXPECT().MarkPaidTx(ctx, m.tx, "pk_a", gomock.Any(), testNow).
		Return([]*repository.Order{pendingOrder("o1", "5")}, nil)
	m.orders.EXPECT().MarkPaidTx(ctx, m.tx, "pk_b", gomock.Any(), testNow).
		Return([]*repository.Order{pendingOrder("o2", "5")}, nil)
	m.capacity.EXPECT().LockTx(ctx, m.tx, "r1", gomock.Any()).Return(0, nil).Times(2)
	m.capacity.EXPECT().AddTx(ctx, m.tx, "r1", gomock.Any(), 1).Return(nil).Times(2)

	redeemed := map[string]bool{}
	m.discounts.EXPECT().RedeemTx(ctx, m.tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, red *repository.DiscountRedemption) (bool, error) {
			assert.Equal(t, "d1", red.DiscountCodeID)
			assert.Equal(t, "u1", red.CustomerID)
			if redeemed[red.CustomerID] {
				return false, nil
			}
			redeemed[red.CustomerID] = true
			return true, nil
		}).Times(2)
	m.outbox.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).Return(nil).Times(4)
	m.tx.EXPECT().Commit(ctx).Return(nil).Times(2)

	require.NoError(t, r.HandleWebhook(ctx, nil, "sig_a"))
	require.NoError(t, r.HandleWebhook(ctx, nil, "sig_b"))
	assert.Len(t, redeemed, 1)
}

func TestReconciler_CancelOrder(t *testing.T) {
	ctx := context.Background()
	owner := auth.NewActor(&repository.Customer{ID: "u1", Role: "CUSTOMER"})
	stranger := auth.NewActor(&repository.Customer{ID: "u2", Role: "CUSTOMER"})
	admin := auth.NewActor(&repository.Customer{ID: "a1", Role: "ADMIN"})

	paidOrder := func() *repository.Order {
		o := pendingOrder("o1", "8")
		intent := "pi_1"
		o.PaymentIntent = &intent
		o.PaymentTotal = decimal.NewNullDecimal(decimal.RequireFromString("5"))
		return o
	}

	tests := []struct {
		name       string
		actor      *auth.Actor
		setupMocks func(m *reconcilerMocks)
		wantKind   apperr.Kind
		wantErr    bool
	}{
		{
			name:  "owner cancels and gets the remaining payment back",
			actor: owner,
			setupMocks: func(m *reconcilerMocks) {
				order := paidOrder()
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().GetByIDTx(ctx, m.tx, "o1").Return(order, nil)
				m.orders.EXPECT().UpdateStatusTx(ctx, m.tx, "o1", repository.OrderStatusArchived, testNow).Return(nil)
				m.capacity.EXPECT().LockTx(ctx, m.tx, "r1", order.DeliveryDate).Return(3, nil)
				m.capacity.EXPECT().AddTx(ctx, m.tx, "r1", order.DeliveryDate, -1).Return(nil)
				m.refunds.EXPECT().RefundedTotalTx(ctx, m.tx, "pi_1").Return(decimal.RequireFromString("1"), nil)
				m.provider.EXPECT().Refund(ctx, gomock.Any()).
					DoAndReturn(func(_ context.Context, req payment.RefundRequest) (string, error) {
						assert.Equal(t, "pi_1", req.PaymentIntent)
						assert.Equal(t, "cancel-o1", req.IdempotencyKey)
						assert.True(t, decimal.RequireFromString("4").Equal(req.Amount), "got %s", req.Amount)
						return "re_1", nil
					})
				m.refunds.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).Return(nil)
				m.outbox.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).Return(nil).Times(2)
				m.tx.EXPECT().Commit(ctx).Return(nil)
			},
		},
		{
			name:  "admin cancels an order paid entirely by budget",
			actor: admin,
			setupMocks: func(m *reconcilerMocks) {
				order := pendingOrder("o1", "8")
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().GetByIDTx(ctx, m.tx, "o1").Return(order, nil)
				m.orders.EXPECT().UpdateStatusTx(ctx, m.tx, "o1", repository.OrderStatusArchived, testNow).Return(nil)
				m.capacity.EXPECT().LockTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(1, nil)
				m.capacity.EXPECT().AddTx(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), -1).Return(nil)
				m.provider.EXPECT().Refund(gomock.Any(), gomock.Any()).Times(0)
				m.outbox.EXPECT().CreateTx(ctx, m.tx, gomock.Any()).Return(nil).Times(2)
				m.tx.EXPECT().Commit(ctx).Return(nil)
			},
		},
		{
			name:  "someone else's order",
			actor: stranger,
			setupMocks: func(m *reconcilerMocks) {
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().GetByIDTx(ctx, m.tx, "o1").Return(paidOrder(), nil)
			},
			wantErr:  true,
			wantKind: apperr.KindForbidden,
		},
		{
			name:  "already archived",
			actor: owner,
			setupMocks: func(m *reconcilerMocks) {
				order := paidOrder()
				order.Status = repository.OrderStatusArchived
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().GetByIDTx(ctx, m.tx, "o1").Return(order, nil)
			},
			wantErr:  true,
			wantKind: apperr.KindValidation,
		},
		{
			name:  "delivery date passed",
			actor: owner,
			setupMocks: func(m *reconcilerMocks) {
				order := paidOrder()
				order.DeliveryDate = testNow.Truncate(24 * time.Hour)
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().GetByIDTx(ctx, m.tx, "o1").Return(order, nil)
			},
			wantErr:  true,
			wantKind: apperr.KindValidation,
		},
		{
			name:  "missing order",
			actor: owner,
			setupMocks: func(m *reconcilerMocks) {
				m.db.EXPECT().BeginTx(ctx).Return(m.tx, nil)
				m.orders.EXPECT().GetByIDTx(ctx, m.tx, "o1").Return(nil, repository.ErrObjectNotFound)
			},
			wantErr:  true,
			wantKind: apperr.KindNotFound,
		},
		{
			name:       "anonymous caller",
			actor:      nil,
			setupMocks: func(m *reconcilerMocks) {},
			wantErr:    true,
			wantKind:   apperr.KindUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, m := newReconciler(t)
			tt.setupMocks(m)

			order, err := r.CancelOrder(ctx, tt.actor, "o1")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, repository.OrderStatusArchived, order.Status)
		})
	}
}
