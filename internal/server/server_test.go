package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/auth"
	"github.com/corpmeals/ordering/internal/kafka"
	"github.com/corpmeals/ordering/internal/ordering"
	"github.com/corpmeals/ordering/internal/repository"
	mock_server "github.com/corpmeals/ordering/internal/server/mocks"
)

var testActor = auth.NewActor(&repository.Customer{ID: "u1", Email: "ann@corp.io", Role: "CUSTOMER", CompanyID: "c1"})

type serverMocks struct {
	orders   *mock_server.MockOrderService
	payments *mock_server.MockPaymentService
	auth     *mock_server.MockAuthenticator
}

func newTestServer(t *testing.T) (http.Handler, *serverMocks) {
	ctrl := gomock.NewController(t)
	m := &serverMocks{
		orders:   mock_server.NewMockOrderService(ctrl),
		payments: mock_server.NewMockPaymentService(ctrl),
		auth:     mock_server.NewMockAuthenticator(ctrl),
	}
	s := New(m.orders, m.payments, m.auth, kafka.NewConsoleProducer(zap.NewNop()), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	s.AuditManager.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.AuditManager.Shutdown(context.Background())
	})
	return s.Handler(), m
}

func (m *serverMocks) expectLogin() {
	m.auth.EXPECT().Authenticate(gomock.Any(), "ann@corp.io", "secret").Return(testActor, nil)
}

func newRequest(t *testing.T, method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("ann@corp.io", "secret")
	return req
}

func TestHandlePlaceOrder(t *testing.T) {
	validBody := map[string]any{
		"lines": []map[string]any{{
			"restaurantId":   "r1",
			"itemId":         "i1",
			"deliveryDate":   "2025-03-03",
			"quantity":       2,
			"optionalAddons": []string{"Bacon"},
		}},
		"discountCodeId": "d1",
	}

	tests := []struct {
		name           string
		body           any
		setupMocks     func(m *serverMocks)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "orders created within budget",
			body: validBody,
			setupMocks: func(m *serverMocks) {
				m.expectLogin()
				m.orders.EXPECT().Place(gomock.Any(), testActor, gomock.Any()).
					DoAndReturn(func(_ context.Context, _ *auth.Actor, cart ordering.Cart) (*ordering.Result, error) {
						require.Len(t, cart.Lines, 1)
						assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), cart.Lines[0].DeliveryDate)
						assert.Equal(t, []string{"Bacon"}, cart.Lines[0].OptionalAddons)
						assert.Equal(t, "d1", cart.DiscountCodeID)
						return &ordering.Result{Orders: []*repository.Order{{
							ID:           "o1",
							RestaurantID: "r1",
							ItemID:       "i1",
							DeliveryDate: cart.Lines[0].DeliveryDate,
							Quantity:     2,
							Total:        decimal.NewFromInt(10),
							Status:       repository.OrderStatusProcessing,
						}}}, nil
					})
			},
			expectedStatus: http.StatusCreated,
			expectedBody: `{"orders":[{"id":"o1","restaurantId":"r1","restaurantName":"","itemId":"i1","itemName":"",
				"deliveryDate":"2025-03-03","deliveryAddress":"","quantity":2,"total":"10.00","status":"PROCESSING"}]}`,
		},
		{
			name: "shortfall answered with checkout url",
			body: validBody,
			setupMocks: func(m *serverMocks) {
				m.expectLogin()
				m.orders.EXPECT().Place(gomock.Any(), testActor, gomock.Any()).
					Return(&ordering.Result{CheckoutURL: "https://pay.example/cs_1"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"checkoutUrl":"https://pay.example/cs_1"}`,
		},
		{
			name: "bad date format",
			body: map[string]any{"lines": []map[string]any{{"restaurantId": "r1", "itemId": "i1", "deliveryDate": "03/03/2025", "quantity": 1}}},
			setupMocks: func(m *serverMocks) {
				m.expectLogin()
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"line 0: invalid deliveryDate \"03/03/2025\", use YYYY-MM-DD"}`,
		},
		{
			name:           "malformed json",
			body:           "not an object",
			setupMocks:     func(m *serverMocks) { m.expectLogin() },
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Invalid request body"}`,
		},
		{
			name: "capacity exceeded",
			body: validBody,
			setupMocks: func(m *serverMocks) {
				m.expectLogin()
				m.orders.EXPECT().Place(gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, apperr.CapacityExceeded("restaurant r1 is full"))
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"error":"restaurant r1 is full"}`,
		},
		{
			name: "internal errors are not leaked",
			body: validBody,
			setupMocks: func(m *serverMocks) {
				m.expectLogin()
				m.orders.EXPECT().Place(gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, errors.New("pq: connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"Internal error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, m := newTestServer(t)
			tt.setupMocks(m)

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, newRequest(t, http.MethodPost, "/orders", tt.body))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.JSONEq(t, tt.expectedBody, rr.Body.String())
		})
	}
}

func TestBasicAuth(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
	})

	t.Run("wrong password", func(t *testing.T) {
		handler, m := newTestServer(t)
		m.auth.EXPECT().Authenticate(gomock.Any(), "ann@corp.io", "secret").
			Return(nil, apperr.New(apperr.KindUnauthenticated, "invalid credentials"))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest(t, http.MethodGet, "/orders", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"invalid credentials"}`, rr.Body.String())
	})
}

func TestHandleListOrders(t *testing.T) {
	handler, m := newTestServer(t)
	m.expectLogin()
	m.orders.EXPECT().ListOrders(gomock.Any(), testActor).Return([]*repository.Order{
		{ID: "o1", DeliveryDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Total: decimal.RequireFromString("7.5"), Status: repository.OrderStatusPending},
	}, nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(t, http.MethodGet, "/orders", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got []orderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].ID)
	assert.Equal(t, "7.50", got[0].Total)
	assert.Equal(t, "PENDING", got[0].Status)
}

func TestHandleCancelOrder(t *testing.T) {
	tests := []struct {
		name           string
		setupMocks     func(m *serverMocks)
		expectedStatus int
	}{
		{
			name: "cancelled",
			setupMocks: func(m *serverMocks) {
				m.payments.EXPECT().CancelOrder(gomock.Any(), testActor, "o1").
					Return(&repository.Order{ID: "o1", Status: repository.OrderStatusArchived}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "someone else's order",
			setupMocks: func(m *serverMocks) {
				m.payments.EXPECT().CancelOrder(gomock.Any(), testActor, "o1").
					Return(nil, apperr.Forbidden("order o1 belongs to another customer"))
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "unknown order",
			setupMocks: func(m *serverMocks) {
				m.payments.EXPECT().CancelOrder(gomock.Any(), testActor, "o1").
					Return(nil, apperr.NotFound("order o1 not found"))
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, m := newTestServer(t)
			m.expectLogin()
			tt.setupMocks(m)

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, newRequest(t, http.MethodDelete, "/orders/o1", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestHandlePaymentWebhook(t *testing.T) {
	t.Run("forwards raw payload and signature", func(t *testing.T) {
		handler, m := newTestServer(t)
		payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
		m.payments.EXPECT().HandleWebhook(gomock.Any(), payload, "t=1,v1=abc").Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	})

	t.Run("bad signature", func(t *testing.T) {
		handler, m := newTestServer(t)
		m.payments.EXPECT().HandleWebhook(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(apperr.New(apperr.KindPaymentVerification, "invalid webhook signature"))

		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader([]byte(`{}`)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("oversized payload", func(t *testing.T) {
		handler, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(make([]byte, maxWebhookBody+1)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func TestHandlePlaceOrder_OversizedBody(t *testing.T) {
	handler, m := newTestServer(t)
	m.expectLogin()

	body := `{"lines":[],"discountCodeId":"` + strings.Repeat("x", maxOrderBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("ann@corp.io", "secret")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.JSONEq(t, `{"error":"Payload too large"}`, rr.Body.String())
}
