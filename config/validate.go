package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks all configuration values and returns aggregated errors.
func (c *Config) Validate() error {
	return errors.Join(
		c.Temporal.validate(),
		c.Log.validate(),
		c.Ledger.validate(),
		c.Queue.validate(),
		c.Saga.validate(),
		c.Courier.validate(),
		c.Bridge.validate(),
		c.Server.validate(),
		c.Seed.validate(),
	)
}

func (t *TemporalConfig) validate() error {
	var errs []error
	if t.Address == "" {
		errs = append(errs, errors.New("temporal.address must not be empty"))
	}
	if t.TaskQueue == "" {
		errs = append(errs, errors.New("temporal.task_queue must not be empty"))
	}
	return errors.Join(errs...)
}

func (l *LogConfig) validate() error {
	var errs []error

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", l.Level))
	}

	switch l.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", l.Format))
	}

	return errors.Join(errs...)
}

func (l *LedgerConfig) validate() error {
	switch l.Backend {
	case "memory":
		return nil
	case "redis":
		if l.RedisAddr == "" {
			return errors.New("ledger.redis_addr must not be empty for the redis backend")
		}
		return nil
	case "postgres":
		if l.PostgresDSN == "" {
			return errors.New("ledger.postgres_dsn must not be empty for the postgres backend")
		}
		return nil
	}
	return fmt.Errorf("ledger.backend must be one of: memory, redis, postgres; got %q", l.Backend)
}

func (q *QueueConfig) validate() error {
	var errs []error

	switch q.Backend {
	case "memory":
	case "redis":
		if q.RedisAddr == "" {
			errs = append(errs, errors.New("queue.redis_addr must not be empty for the redis backend"))
		}
	case "kafka":
		if len(q.KafkaBrokers) == 0 || strings.TrimSpace(q.KafkaBrokers[0]) == "" {
			errs = append(errs, errors.New("queue.kafka_brokers must not be empty for the kafka backend"))
		}
		if q.GroupID == "" {
			errs = append(errs, errors.New("queue.group_id must not be empty for the kafka backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend must be one of: memory, redis, kafka; got %q", q.Backend))
	}

	if q.DispatchTopic == "" || q.OutcomeTopic == "" {
		errs = append(errs, errors.New("queue.dispatch_topic and queue.outcome_topic must not be empty"))
	} else if q.DispatchTopic == q.OutcomeTopic {
		errs = append(errs, errors.New("queue.dispatch_topic and queue.outcome_topic must differ"))
	}

	return errors.Join(errs...)
}

func (s *SagaConfig) validate() error {
	var errs []error
	if s.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("saga.dispatch_timeout must be positive"))
	}
	if s.CompensationAttempts < 1 {
		errs = append(errs, fmt.Errorf("saga.compensation_attempts must be at least 1, got %d", s.CompensationAttempts))
	}
	return errors.Join(errs...)
}

func (c *CourierConfig) validate() error {
	var errs []error

	switch c.Mode {
	case "static":
		if c.Address == "" {
			errs = append(errs, errors.New("courier.address must not be empty in static mode"))
		}
	case "http":
		if c.BaseURL == "" {
			errs = append(errs, errors.New("courier.base_url must not be empty in http mode"))
		}
		if c.Timeout <= 0 {
			errs = append(errs, errors.New("courier.timeout must be positive"))
		}
		if c.CircuitBreaker.MaxFailures < 1 {
			errs = append(errs, errors.New("courier.circuit_breaker.max_failures must be at least 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("courier.mode must be one of: static, http; got %q", c.Mode))
	}

	return errors.Join(errs...)
}

func (b *BridgeConfig) validate() error {
	switch b.Registry {
	case "memory", "redis":
	default:
		return fmt.Errorf("bridge.registry must be one of: memory, redis; got %q", b.Registry)
	}
	if b.TokenTTL <= 0 {
		return errors.New("bridge.token_ttl must be positive")
	}
	return nil
}

func (s *ServerConfig) validate() error {
	var errs []error

	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port))
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}

	return errors.Join(errs...)
}

func (s *SeedConfig) validate() error {
	var errs []error
	for i, p := range s.Products {
		if p.ID == "" || p.AvailableQty < 0 || p.Price < 0 {
			errs = append(errs, fmt.Errorf("seed.products[%d] needs an id and non-negative quantity and price", i))
		}
	}
	for i, a := range s.Accounts {
		if a.ID == "" || a.Coupon < 0 || a.Deposit < 0 {
			errs = append(errs, fmt.Errorf("seed.accounts[%d] needs an id and non-negative coupon and deposit", i))
		}
	}
	return errors.Join(errs...)
}
