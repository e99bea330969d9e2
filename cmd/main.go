package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/corpmeals/ordering/internal/auth"
	"github.com/corpmeals/ordering/internal/cache"
	"github.com/corpmeals/ordering/internal/capacity"
	"github.com/corpmeals/ordering/internal/config"
	"github.com/corpmeals/ordering/internal/db"
	"github.com/corpmeals/ordering/internal/grpcserver"
	"github.com/corpmeals/ordering/internal/kafka"
	"github.com/corpmeals/ordering/internal/logger"
	"github.com/corpmeals/ordering/internal/ordering"
	"github.com/corpmeals/ordering/internal/outbox"
	"github.com/corpmeals/ordering/internal/payment"
	"github.com/corpmeals/ordering/internal/rabbitmq"
	"github.com/corpmeals/ordering/internal/repository"
	"github.com/corpmeals/ordering/internal/repository/postgresql"
	"github.com/corpmeals/ordering/internal/schedule"
	"github.com/corpmeals/ordering/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("Service stopped with error", zap.Error(err))
	}
	log.Info("Service gracefully stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.NewDb(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close()

	var redisClient redis.Cmdable
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, PoolSize: cfg.Redis.PoolSize})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, menus will be read from postgres", zap.Error(err))
		}
		redisClient = rdb
	}

	producer, err := newProducer(cfg.Events, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := producer.Close(); err != nil {
			log.Error("Failed to close event producer", zap.Error(err))
		}
	}()

	orderRepo := postgresql.NewOrderRepo(database)
	restaurantRepo := postgresql.NewRestaurantRepo(database)
	companyRepo := postgresql.NewCompanyRepo(database)
	customerRepo := postgresql.NewCustomerRepo(database)
	discountRepo := postgresql.NewDiscountRepo(database)
	outboxRepo := postgresql.NewOutboxTaskRepo(database)

	guard := capacity.NewGuard(postgresql.NewCapacityRepo(), cfg.CapacityGrace)
	writer := outbox.NewWriter(outboxRepo)
	menus := cache.NewMenuCache(redisClient, restaurantRepo, cfg.Redis.MenuTTL, log)
	provider := payment.NewStripeProvider(payment.StripeConfig{
		SecretKey:     cfg.Payments.SecretKey,
		WebhookSecret: cfg.Payments.WebhookSecret,
		SuccessURL:    cfg.Payments.SuccessURL,
		CancelURL:     cfg.Payments.CancelURL,
		Currency:      cfg.Currency,
	})

	pipeline := ordering.NewPipeline(
		database, orderRepo, companyRepo, discountRepo, menus, guard, writer, provider,
		ordering.Config{CheckoutTTL: cfg.Payments.CheckoutTTL},
		log,
	)
	reconciler := payment.NewReconciler(
		database, orderRepo, discountRepo, postgresql.NewRefundRepo(), guard, writer, provider, log,
	)
	updater := schedule.NewCapacityUpdater(restaurantRepo, orderRepo, menus, log)

	worker := outbox.NewWorker(database, outboxRepo, outbox.WorkerConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		LeaseTimeout: cfg.Outbox.LeaseTimeout,
	}, log)
	worker.Register(repository.TopicScheduleCapacity, updater.Handle)
	worker.Register(repository.TopicOrderEvents, outbox.NewEventForwarder(producer))

	httpServer := server.New(pipeline, reconciler, auth.NewAuthenticator(customerRepo), producer, log)
	grpcServer := grpcserver.NewServer(log)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Run(gCtx, ":"+cfg.HTTPPort)
	})
	g.Go(func() error {
		return grpcServer.Serve(grpcListener)
	})
	g.Go(func() error {
		worker.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		grpcServer.GracefulStop()
		worker.Shutdown()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newProducer(cfg config.Events, log *zap.Logger) (kafka.Producer, error) {
	switch strings.ToLower(cfg.Broker) {
	case "kafka":
		return kafka.NewKafkaProducer(cfg.KafkaBrokers, log), nil
	case "rabbitmq":
		return rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.Exchange, log)
	default:
		return kafka.NewConsoleProducer(log), nil
	}
}
