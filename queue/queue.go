// Package queue carries dispatch requests to the courier and outcomes back
// to the saga. Delivery is at-least-once: a message is committed only after
// its handler succeeds, so consumers must be idempotent. A message whose
// handler fails is retried, never dropped.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrClosed is returned by Poll once the consumer has been closed.
var ErrClosed = errors.New("queue closed")

type Message struct {
	Key   string
	Value []byte
	Topic string

	// receipt identifies the delivery for Commit.
	receipt any
}

type Producer interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

type Consumer interface {
	Poll(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// Handler processes one message.
type Handler func(ctx context.Context, msg Message) error

// Redeliverer is implemented by consumers that can hand a message back to
// the broker so a later Poll returns it again.
type Redeliverer interface {
	Redeliver(ctx context.Context, msg Message) error
}

const (
	pollErrorBackoff = 500 * time.Millisecond

	handleAttempts   = 3
	handleBackoff    = 200 * time.Millisecond
	maxHandleBackoff = 5 * time.Second
)

// Consume polls c and hands each message to handle until ctx is done. A
// failed message is retried in place with backoff. After handleAttempts
// failures a Redeliverer gets it back; other consumers keep retrying it so
// it is never skipped.
func Consume(ctx context.Context, c Consumer, handle Handler, logger *slog.Logger) error {
	for {
		msg, err := c.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			logger.ErrorContext(ctx, "poll failed", slog.Any("error", err))
			if !sleep(ctx, pollErrorBackoff) {
				return nil
			}
			continue
		}

		if !deliver(ctx, c, handle, msg, logger) {
			continue
		}

		if err := c.Commit(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "commit failed",
				slog.String("topic", msg.Topic),
				slog.String("key", msg.Key),
				slog.Any("error", err),
			)
		}
	}
}

// deliver reports whether handle succeeded and msg should be committed.
func deliver(ctx context.Context, c Consumer, handle Handler, msg Message, logger *slog.Logger) bool {
	backoff := handleBackoff
	for attempt := 1; ; attempt++ {
		err := handle(ctx, msg)
		if err == nil {
			return true
		}
		log := logger.With(
			slog.String("topic", msg.Topic),
			slog.String("key", msg.Key),
			slog.Int("attempt", attempt),
		)
		log.ErrorContext(ctx, "message handling failed", slog.Any("error", err))

		if r, ok := c.(Redeliverer); ok && attempt >= handleAttempts {
			rerr := r.Redeliver(ctx, msg)
			if rerr == nil {
				log.WarnContext(ctx, "message handed back for redelivery")
				return false
			}
			log.ErrorContext(ctx, "redelivery failed, retrying in place", slog.Any("error", rerr))
		}

		if !sleep(ctx, backoff) {
			return false
		}
		backoff *= 2
		if backoff > maxHandleBackoff {
			backoff = maxHandleBackoff
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
