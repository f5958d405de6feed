package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/campus-ticketing/internal/domain"
	"github.com/prohmpiriya/campus-ticketing/internal/gateway"
	"github.com/prohmpiriya/campus-ticketing/internal/handler"
	"github.com/prohmpiriya/campus-ticketing/internal/metrics"
	"github.com/prohmpiriya/campus-ticketing/internal/payment"
	"github.com/prohmpiriya/campus-ticketing/internal/repository"
	"github.com/prohmpiriya/campus-ticketing/internal/store"
	"github.com/prohmpiriya/campus-ticketing/pkg/config"
	"github.com/prohmpiriya/campus-ticketing/pkg/database"
	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
	"github.com/prohmpiriya/campus-ticketing/pkg/middleware"
	"github.com/prohmpiriya/campus-ticketing/pkg/redis"
	"github.com/prohmpiriya/campus-ticketing/pkg/saga"
)

// Container holds all dependencies for the ticketing service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Adapters
	Gateway   gateway.PaymentGateway
	Publisher payment.EventPublisher

	// Repositories
	Users        *repository.UserRepository
	Events       *repository.EventRepository
	Payments     *repository.PaymentRepository
	Reservations *repository.EntityRepository[*domain.Reservation]
	Names        *repository.NameCache
	Ledger       *repository.ReservationLedger

	// Services
	Sagas       *saga.Orchestrator
	Coordinator *payment.Coordinator

	Router *gin.Engine

	log *logger.Logger
}

// New connects infrastructure and builds every component. Disabled
// Postgres or Redis are replaced by in-process stores.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.Get()
	}
	c := &Container{log: log}

	if err := metrics.Init(); err != nil {
		log.Warn("Metrics unavailable", zap.Error(err))
	}

	if err := c.connect(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.build(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) connect(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Enabled {
		dbCfg := database.DefaultPostgresConfig()
		dbCfg.Host = cfg.Database.Host
		dbCfg.Port = cfg.Database.Port
		dbCfg.User = cfg.Database.User
		dbCfg.Password = cfg.Database.Password
		dbCfg.Database = cfg.Database.DBName
		dbCfg.SSLMode = cfg.Database.SSLMode
		dbCfg.MaxConns = cfg.Database.MaxConns
		dbCfg.MinConns = cfg.Database.MinConns
		dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		dbCfg.EnableTracing = cfg.Database.EnableTracing

		db, err := database.NewPostgres(ctx, dbCfg)
		if err != nil {
			return err
		}
		c.DB = db
		if err := db.Migrate(ctx, store.Schema); err != nil {
			return err
		}
		c.log.Info("Database connected",
			zap.String("host", dbCfg.Host),
			zap.Int32("max_conns", dbCfg.MaxConns),
		)
	} else {
		c.log.Warn("Database disabled, remote store is in-memory (data will not persist)")
	}

	if cfg.Redis.Enabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix

		client, err := redis.NewClient(ctx, redisCfg)
		if err != nil {
			return err
		}
		c.Redis = client
		c.log.Info("Redis connected", zap.String("addr", redisCfg.Addr()))
	} else {
		c.log.Warn("Redis disabled, local cache is in-memory")
	}

	if cfg.Kafka.Enabled {
		pub, err := payment.NewKafkaEventPublisher(ctx, &payment.KafkaPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			return err
		}
		c.Publisher = pub
		c.log.Info("Kafka publisher connected", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		c.Publisher = payment.NewNoOpEventPublisher()
	}

	gw, err := gateway.New(&cfg.Gateway)
	if err != nil {
		return err
	}
	c.Gateway = gw
	c.log.Info("Payment gateway ready", zap.String("gateway", gw.Name()))
	return nil
}

func (c *Container) build(ctx context.Context, cfg *config.Config) error {
	c.Users = repository.NewUserRepository(remoteStore(c.DB, store.NewPostgresUserStore), localStore[*domain.User](c.Redis, "users"), c.log)
	c.Names = repository.NewNameCache(c.Users, c.log)
	c.Events = repository.NewEventRepository(remoteStore(c.DB, store.NewPostgresEventStore), localStore[*domain.Event](c.Redis, "events"), c.Names, c.log)
	c.Payments = repository.NewPaymentRepository(remoteStore(c.DB, store.NewPostgresPaymentStore), localStore[*domain.Payment](c.Redis, "payments"), c.log)
	c.Reservations = repository.NewReservationRepository(remoteStore(c.DB, store.NewPostgresReservationStore), localStore[*domain.Reservation](c.Redis, "reservations"), c.log)

	c.Ledger = repository.NewReservationLedger(repository.LedgerConfig{
		Inventory: repository.NewEventInventory(c.Events),
		Mirror:    c.Reservations,
		Logger:    c.log,
	})
	n, err := c.Ledger.Load(ctx)
	if err != nil {
		// An empty ledger still serves new reservations
		c.log.Warn("Reservation ledger not hydrated", zap.Error(err))
	} else {
		c.log.Info("Reservation ledger hydrated", zap.Int("reservations", n))
	}

	var sagaStore saga.Store = saga.NewMemoryStore()
	if c.Redis != nil {
		sagaStore = saga.NewRedisStore(c.Redis.Client(), c.Redis.Key("saga")+":", 7*24*time.Hour)
	}
	c.Sagas = saga.NewOrchestrator(&saga.OrchestratorConfig{Store: sagaStore, Logger: c.log})

	c.Coordinator, err = payment.NewCoordinator(payment.Config{
		Gateway:      c.Gateway,
		Payments:     c.Payments,
		Reservations: c.Ledger,
		Publisher:    c.Publisher,
		Orchestrator: c.Sagas,
		Currency:     cfg.Gateway.Currency,
		Logger:       c.log,
	})
	if err != nil {
		return fmt.Errorf("build payment coordinator: %w", err)
	}

	// Definitions are registered by NewCoordinator, so recovery runs after it
	if recovered, err := c.Sagas.RecoverInterrupted(ctx); err != nil {
		c.log.Warn("Saga recovery failed", zap.Error(err))
	} else if recovered > 0 {
		c.log.Info("Compensated interrupted sagas", zap.Int("count", recovered))
	}

	checks := map[string]handler.HealthChecker{}
	var idempotency gin.HandlerFunc
	if c.DB != nil {
		checks["postgres"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
		idempotency = middleware.Idempotency(middleware.IdempotencyConfig{
			Redis:     c.Redis.Client(),
			KeyPrefix: c.Redis.Key("idempotency") + ":",
		})
	}

	c.Router = handler.NewRouter(handler.RouterConfig{
		Payments:     handler.NewPaymentHandler(c.Coordinator, c.log),
		Reservations: handler.NewReservationHandler(c.Ledger, c.log),
		Events:       handler.NewEventHandler(c.Events, c.log),
		Auth:         middleware.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer},
		Idempotency:  idempotency,
		Checks:       checks,
		ServiceName:  cfg.OTel.ServiceName,
		Logger:       c.log,
	})
	return nil
}

// Close releases infrastructure in reverse order of creation
func (c *Container) Close() error {
	var errs []error
	if c.Publisher != nil {
		errs = append(errs, c.Publisher.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.DB != nil {
		c.DB.Close()
	}
	return errors.Join(errs...)
}

func remoteStore[T domain.Entity](db *database.PostgresDB, newStore func(*database.PostgresDB) *store.PostgresStore[T]) store.Store[T] {
	if db == nil {
		return store.NewMemoryStore[T]()
	}
	return newStore(db)
}

func localStore[T domain.Entity](client *redis.Client, kind string) store.Store[T] {
	if client == nil {
		return store.NewMemoryStore[T]()
	}
	return store.NewRedisStore[T](client, kind)
}
