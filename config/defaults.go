package config

const (
	defaultServerPort           = 8080
	defaultCompensationAttempts = 5

	defaultCircuitBreakerMaxFailures = 5
	defaultCircuitBreakerHalfOpen    = 1
)

func defaults() map[string]any {
	return map[string]any{
		"temporal.address":        "localhost:7233",
		"temporal.namespace":      "default",
		"temporal.task_queue":     "order-saga-queue",
		"temporal.build_id":       "",
		"temporal.encryption_key": "",

		"log.level":  "info",
		"log.format": "json",

		"ledger.backend":      "memory",
		"ledger.redis_addr":   "localhost:6379",
		"ledger.postgres_dsn": "",

		"queue.backend":        "memory",
		"queue.redis_addr":     "localhost:6379",
		"queue.kafka_brokers":  []string{"localhost:9092"},
		"queue.group_id":       "order-saga",
		"queue.dispatch_topic": "saga.dispatch.requests",
		"queue.outcome_topic":  "saga.dispatch.outcomes",

		"saga.dispatch_timeout":      "5m",
		"saga.compensation_attempts": defaultCompensationAttempts,

		"courier.mode":                            "static",
		"courier.address":                         "courier mail address",
		"courier.base_url":                        "http://localhost:8081",
		"courier.timeout":                         "10s",
		"courier.embedded":                        true,
		"courier.circuit_breaker.max_failures":    defaultCircuitBreakerMaxFailures,
		"courier.circuit_breaker.timeout":         "30s",
		"courier.circuit_breaker.half_open_limit": defaultCircuitBreakerHalfOpen,

		"bridge.registry":  "memory",
		"bridge.token_ttl": "168h",

		"server.host":          "0.0.0.0",
		"server.port":          defaultServerPort,
		"server.read_timeout":  "5s",
		"server.write_timeout": "10s",
		"server.idle_timeout":  "120s",

		"telemetry.enabled":      false,
		"telemetry.service_name": "order-saga",
	}
}
