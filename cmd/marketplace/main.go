package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/config"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/database"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/events"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/expiry"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/fulfillment"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/handlers"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/logging"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/orders"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/reservation"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("❌ Service stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize OpenTelemetry (tracer + meter)
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("⚠️ Error shutting down telemetry", zap.Error(err))
		}
	}()

	repos, err := initRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repos.close()

	publisher, closePublisher := initPublisher(cfg, logger)
	defer closePublisher()

	// O agendador pode disparar antes do coordenador existir; o handler espera por ele
	var coordinator *fulfillment.Coordinator
	ready := make(chan struct{})
	onExpiry := func(ctx context.Context, orderID string) {
		<-ready
		if coordinator == nil {
			return
		}
		if _, err := coordinator.ExpireOrder(ctx, orderID); err != nil {
			logger.Error("❌ [EXPIRY] Failed to expire order", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	scheduler, closeScheduler, err := initScheduler(ctx, cfg, onExpiry, logger)
	if err != nil {
		return err
	}
	defer closeScheduler()
	defer func() {
		select {
		case <-ready:
		default:
			close(ready)
		}
	}()

	metrics, err := fulfillment.NewMetrics(otel.Meter(cfg.ServiceName))
	if err != nil {
		return err
	}

	inventoryService := inventory.NewService(repos.inventory, nil, logger)
	ledger := reservation.NewLedger(inventoryService, repos.reservations, cfg.ReservationTTL, logger)
	registry := orders.NewRegistry(repos.orders, inventoryService, ledger, scheduler, publisher, logger)
	coordinator = fulfillment.NewCoordinator(
		registry, ledger, scheduler, publisher,
		otel.Tracer(cfg.ServiceName), metrics, logger,
	)
	close(ready)

	// Reservas persistidas sobrevivem ao restart; seus prazos voltam para o agendador
	if cfg.UsesPostgres() {
		deadlines, err := ledger.Deadlines(ctx)
		if err != nil {
			return err
		}
		restored, err := expiry.Restore(ctx, scheduler, deadlines)
		if err != nil {
			return err
		}
		logger.Info("ℹ️ Reservation expiries restored", zap.Int("orders", restored))
	}

	handler := handlers.NewOrderHandler(coordinator, ledger, inventoryService, cfg.ServiceName)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.NewRouter(handler, cfg.ServiceName),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("🚀 Fulfillment service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("ℹ️ Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type repositories struct {
	inventory    inventory.Repository
	orders       orders.Repository
	reservations reservation.Repository
	close        func()
}

func initRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repositories, error) {
	var repos *repositories

	if cfg.UsesPostgres() {
		pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		repos = &repositories{
			inventory:    inventory.NewPostgresRepository(pool),
			orders:       orders.NewPostgresRepository(pool),
			reservations: reservation.NewPostgresRepository(pool),
			close:        pool.Close,
		}
	} else {
		logger.Info("ℹ️ DATABASE_URL not set, keeping state in memory")
		repos = &repositories{
			inventory:    inventory.NewMemoryRepository(),
			orders:       orders.NewMemoryRepository(),
			reservations: reservation.NewMemoryRepository(),
			close:        func() {},
		}
	}

	if cfg.SeedDemoData {
		if err := inventory.SeedDemo(ctx, repos.inventory); err != nil {
			repos.close()
			return nil, err
		}
		logger.Info("✅ Demo catalog seeded")
	}

	return repos, nil
}

// initPublisher monta os destinos de eventos atrás de uma fila assíncrona
func initPublisher(cfg *config.Config, logger *zap.Logger) (*events.AsyncPublisher, func()) {
	sinks := events.MultiPublisher{events.NewLogPublisher(logger)}
	var closers []func() error

	if cfg.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookPublisher(cfg.WebhookURL))
		logger.Info("✅ Webhook notifications enabled", zap.String("url", cfg.WebhookURL))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		sinks = append(sinks, kafkaPublisher)
		closers = append(closers, kafkaPublisher.Close)
		logger.Info("✅ Kafka events enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	publisher := events.NewAsyncPublisher(sinks, cfg.EventBufferSize, logger)
	return publisher, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := publisher.Close(ctx); err != nil {
			logger.Warn("⚠️ Events not flushed before shutdown", zap.Error(err))
		}
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("⚠️ Error closing event sink", zap.Error(err))
			}
		}
	}
}

func initScheduler(ctx context.Context, cfg *config.Config, handler expiry.Handler, logger *zap.Logger) (expiry.Scheduler, func(), error) {
	if cfg.RedisURL == "" {
		scheduler := expiry.NewTimerScheduler(handler, logger)
		return scheduler, scheduler.Stop, nil
	}

	client, err := expiry.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("✅ Connected to Redis, expiries shared across replicas")

	scheduler := expiry.NewRedisScheduler(client, handler, cfg.ExpiryPollInterval, logger)
	return scheduler, func() {
		scheduler.Stop()
		_ = client.Close()
	}, nil
}
