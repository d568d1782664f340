// Package platform builds the shared runtime pieces of the order-saga
// binaries from configuration: the Temporal client, ledger, queues, token
// registry, courier and meter provider.
package platform

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"order-saga/codec"
	"order-saga/config"
	"order-saga/logging"

	"go.temporal.io/sdk/client"
)

// DialTemporal connects to Temporal with payload encryption enabled. Every
// process sharing the task queue must use the same key; when none is
// configured a random one is generated and logged so it can be copied.
func DialTemporal(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	key, generated, err := codec.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key: %w", err)
	}
	if generated {
		logger.Warn("no encryption key configured, using a generated one",
			slog.String("generated_key", hex.EncodeToString(key)),
			slog.String("hint", "set SAGA_TEMPORAL_ENCRYPTION_KEY on every process"),
		)
	}

	dataConverter, err := codec.NewEncryptionDataConverter(key)
	if err != nil {
		return nil, fmt.Errorf("create encryption data converter: %w", err)
	}

	c, err := client.Dial(client.Options{
		HostPort:      cfg.Address,
		Namespace:     cfg.Namespace,
		DataConverter: dataConverter,
		Logger:        logging.Temporal(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", cfg.Address, err)
	}
	return c, nil
}
