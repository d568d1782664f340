package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"order-saga/bridge"
	"order-saga/config"
	"order-saga/courier"
	"order-saga/ledger"
	"order-saga/models"
	"order-saga/queue"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// OpenLedger connects the configured ledger backend. The returned func
// releases its connections.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig) (*ledger.Ledger, func() error, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping ledger redis at %s: %w", cfg.RedisAddr, err)
		}
		return ledger.New(ledger.NewRedisStoreWithClient(client)), client.Close, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping ledger database: %w", err)
		}
		store, err := ledger.NewPostgresStoreWithSchema(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return ledger.New(store), db.Close, nil

	case "memory", "":
		return ledger.New(ledger.NewMemoryStore()), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
}

// SeedLedger writes the configured products and accounts, replacing any
// existing records with the same ids.
func SeedLedger(ctx context.Context, l *ledger.Ledger, seed config.SeedConfig) error {
	for _, p := range seed.Products {
		if err := l.SeedProduct(ctx, models.Product{ProductID: p.ID, AvailableQty: p.AvailableQty, Price: p.Price}); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for _, a := range seed.Accounts {
		if err := l.SeedAccount(ctx, models.Account{UserID: a.ID, Coupon: a.Coupon, Deposit: a.Deposit}); err != nil {
			return fmt.Errorf("seed account %s: %w", a.ID, err)
		}
	}
	return nil
}

// Queues hands out the producer and per-topic consumers of one backend.
type Queues struct {
	Producer queue.Producer

	consumer func(ctx context.Context, topic string) (queue.Consumer, error)
	closers  []func() error
	redis    *redis.Client
}

// OpenQueues connects the configured queue backend.
func OpenQueues(ctx context.Context, cfg config.QueueConfig) (*Queues, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping queue redis at %s: %w", cfg.RedisAddr, err)
		}
		return newRedisQueues(client), nil

	case "kafka":
		kcfg := queue.KafkaConfig{Brokers: cfg.KafkaBrokers, GroupID: cfg.GroupID}
		producer, err := queue.NewKafkaProducer(kcfg)
		if err != nil {
			return nil, err
		}
		return &Queues{
			Producer: producer,
			consumer: func(_ context.Context, topic string) (queue.Consumer, error) {
				return queue.NewKafkaConsumer(kcfg, topic)
			},
			closers: []func() error{producer.Close},
		}, nil

	case "memory", "":
		broker := queue.NewMemoryBroker()
		return &Queues{
			Producer: broker,
			consumer: func(_ context.Context, topic string) (queue.Consumer, error) {
				return broker.Consumer(topic), nil
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
}

func newRedisQueues(client *redis.Client) *Queues {
	rq := queue.NewRedisQueue(client)
	return &Queues{
		Producer: rq,
		consumer: func(ctx context.Context, topic string) (queue.Consumer, error) {
			// Messages a previous consumer took but never committed go back
			// on the topic before polling starts.
			if _, err := rq.Recover(ctx, topic); err != nil {
				return nil, fmt.Errorf("recover %s: %w", topic, err)
			}
			return rq.Consumer(topic), nil
		},
		closers: []func() error{client.Close},
		redis:   client,
	}
}

// Consumer returns a consumer for topic.
func (q *Queues) Consumer(ctx context.Context, topic string) (queue.Consumer, error) {
	return q.consumer(ctx, topic)
}

// Close releases the backend connections.
func (q *Queues) Close() error {
	var errs []error
	for _, c := range q.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewTokenRegistry builds the bridge's continuation token registry. The
// redis registry shares the queue's client when the queue runs on redis.
func NewTokenRegistry(cfg config.BridgeConfig, qcfg config.QueueConfig, queues *Queues) (bridge.TokenRegistry, func() error) {
	if cfg.Registry != "redis" {
		return bridge.NewMemoryRegistry(), func() error { return nil }
	}
	if queues != nil && queues.redis != nil {
		return bridge.NewRedisRegistry(queues.redis, cfg.TokenTTL), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{Addr: qcfg.RedisAddr})
	return bridge.NewRedisRegistry(client, cfg.TokenTTL), client.Close
}

// NewCourier builds the configured courier.
func NewCourier(cfg config.CourierConfig, logger *slog.Logger) courier.Courier {
	if cfg.Mode == "http" {
		return courier.NewHTTPCourier(cfg.BaseURL, cfg.Timeout, courier.BreakerConfig{
			MaxFailures:   cfg.CircuitBreaker.MaxFailures,
			Timeout:       cfg.CircuitBreaker.Timeout,
			HalfOpenLimit: cfg.CircuitBreaker.HalfOpenLimit,
		}, logger)
	}
	return courier.StaticCourier{Address: cfg.Address}
}
