// Package grpcserver exposes the gRPC health service used by orchestrators to
// probe the ordering process.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/metrics"
)

// ServiceName is the health service name reported for the ordering pipeline.
const ServiceName = "corpmeals.ordering"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewServer(logger *zap.Logger) *Server {
	s := &Server{
		health: health.NewServer(),
		logger: logger.With(zap.String("component", "grpc")),
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks until the listener fails or GracefulStop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server starting", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// GracefulStop reports NOT_SERVING before draining in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC server stopped")
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	l := s.logger.With(zap.String("rpc_method", info.FullMethod), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("grpc").Inc()
		l.Warn("RPC failed", zap.Error(err))
		return nil, ToStatus(err)
	}
	l.Debug("RPC served")
	return resp, nil
}

// ToStatus maps application errors to gRPC status errors. Errors that already
// carry a status pass through.
func ToStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidCart, apperr.KindPaymentVerification:
		code = codes.InvalidArgument
	case apperr.KindCapacityExceeded:
		code = codes.ResourceExhausted
	case apperr.KindUnauthenticated:
		code = codes.Unauthenticated
	case apperr.KindForbidden:
		code = codes.PermissionDenied
	case apperr.KindNotFound:
		code = codes.NotFound
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
