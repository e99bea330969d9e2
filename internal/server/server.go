//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/auth"
	"github.com/corpmeals/ordering/internal/kafka"
	"github.com/corpmeals/ordering/internal/ordering"
	"github.com/corpmeals/ordering/internal/repository"
)

const (
	routePlaceOrder  = "handlePlaceOrder"
	routeListOrders  = "handleListOrders"
	routeCancelOrder = "handleCancelOrder"
	routeWebhook     = "handlePaymentWebhook"

	maxWebhookBody = 64 << 10
	maxOrderBody   = 1 << 20
)

type OrderService interface {
	Place(ctx context.Context, actor *auth.Actor, cart ordering.Cart) (*ordering.Result, error)
	ListOrders(ctx context.Context, actor *auth.Actor) ([]*repository.Order, error)
}

type PaymentService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	CancelOrder(ctx context.Context, actor *auth.Actor, orderID string) (*repository.Order, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*auth.Actor, error)
}

type Server struct {
	orders       OrderService
	payments     PaymentService
	auth         Authenticator
	logger       *zap.Logger
	server       *http.Server
	AuditManager *AuditManager
}

func New(orders OrderService, payments PaymentService, authenticator Authenticator, auditSink kafka.Producer, logger *zap.Logger) *Server {
	return &Server{
		orders:       orders,
		payments:     payments,
		auth:         authenticator,
		logger:       logger.With(zap.String("component", "http")),
		AuditManager: NewAuditManager(2, 5, 500*time.Millisecond, auditSink, logger),
	}
}

// Run serves on addr until Shutdown is called.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.AuditManager.Start(ctx)

	s.logger.Info("HTTP server starting", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}

	s.AuditManager.Shutdown(ctx)
	s.logger.Info("HTTP server shutdown completed")
	return nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/orders", s.basicAuthMiddleware(http.HandlerFunc(s.handlePlaceOrder))).
		Methods(http.MethodPost).Name(routePlaceOrder)
	r.Handle("/orders", s.basicAuthMiddleware(http.HandlerFunc(s.handleListOrders))).
		Methods(http.MethodGet).Name(routeListOrders)
	r.Handle("/orders/{id}", s.basicAuthMiddleware(http.HandlerFunc(s.handleCancelOrder))).
		Methods(http.MethodDelete).Name(routeCancelOrder)

	r.HandleFunc("/webhooks/payment", s.handlePaymentWebhook).
		Methods(http.MethodPost).Name(routeWebhook)

	r.Use(s.auditLogMiddleware)
	return r
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		actor, err := s.auth.Authenticate(r.Context(), username, password)
		if err != nil {
			if apperr.Is(err, apperr.KindUnauthenticated) {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			}
			s.respondAppError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAppError maps err to its HTTP status. Internal errors are logged and
// answered with a generic message.
func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
		respondError(w, status, "Internal error")
		return
	}
	respondError(w, status, err.Error())
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.FromContext(r.Context())

	var req placeOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cart, err := req.toCart()
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	result, err := s.orders.Place(r.Context(), actor, cart)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	if result.CheckoutURL != "" {
		respondJSON(w, http.StatusOK, placeOrderResponse{CheckoutURL: result.CheckoutURL})
		return
	}
	respondJSON(w, http.StatusCreated, placeOrderResponse{Orders: toOrderResponses(result.Orders)})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.FromContext(r.Context())

	orders, err := s.orders.ListOrders(r.Context(), actor)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.FromContext(r.Context())

	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "Missing order ID")
		return
	}

	order, err := s.payments.CancelOrder(r.Context(), actor, orderID)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	if err := s.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
