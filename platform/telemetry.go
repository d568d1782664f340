package platform

import (
	"context"
	"fmt"

	"order-saga/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry owns the meter provider. The zero value is disabled telemetry.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	name     string
}

// InitTelemetry registers a global MeterProvider that periodically writes
// to stdout. It returns a disabled Telemetry when cfg.Enabled is false.
func InitTelemetry(cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{name: cfg.ServiceName}, nil
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(mp)

	return &Telemetry{provider: mp, name: cfg.ServiceName}, nil
}

// Meter returns a meter scoped to the service, or a no-op meter.
func (t *Telemetry) Meter() metric.Meter {
	if t == nil || t.provider == nil {
		return noop.NewMeterProvider().Meter("order-saga")
	}
	return t.provider.Meter(t.name)
}

// Shutdown flushes pending metrics. Nil-safe.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
