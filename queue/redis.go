package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlockTimeout = time.Second

type redisEnvelope struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// RedisQueue is a reliable list queue: LPUSH to publish, BRPOPLPUSH into a
// per-topic processing list to receive, LREM from it to commit.
type RedisQueue struct {
	client       *redis.Client
	blockTimeout time.Duration
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, blockTimeout: defaultBlockTimeout}
}

func processingKey(topic string) string {
	return topic + ":processing"
}

func (q *RedisQueue) Publish(ctx context.Context, topic string, msg Message) error {
	data, err := json.Marshal(redisEnvelope{Key: msg.Key, Value: msg.Value})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := q.client.LPush(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", topic, err)
	}
	return nil
}

// Recover moves messages left in the processing list by a crashed consumer
// back onto topic. Call it before consuming.
func (q *RedisQueue) Recover(ctx context.Context, topic string) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, processingKey(topic), topic).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover %s: %w", topic, err)
		}
		moved++
	}
}

// Consumer returns a consumer reading topic.
func (q *RedisQueue) Consumer(topic string) Consumer {
	return &redisConsumer{client: q.client, topic: topic, blockTimeout: q.blockTimeout}
}

type redisConsumer struct {
	client       *redis.Client
	topic        string
	blockTimeout time.Duration
}

func (c *redisConsumer) Poll(ctx context.Context) (Message, error) {
	for {
		raw, err := c.client.BRPopLPush(ctx, c.topic, processingKey(c.topic), c.blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return Message{}, err
		}

		var env redisEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// Unreadable payloads would be redelivered forever; drop them.
			_ = c.client.LRem(ctx, processingKey(c.topic), 1, raw).Err()
			return Message{}, fmt.Errorf("decode message on %s: %w", c.topic, err)
		}
		return Message{Key: env.Key, Value: env.Value, Topic: c.topic, receipt: raw}, nil
	}
}

func (c *redisConsumer) Commit(ctx context.Context, msg Message) error {
	raw, ok := msg.receipt.(string)
	if !ok {
		return fmt.Errorf("message on %s was not received from redis", c.topic)
	}
	return c.client.LRem(ctx, processingKey(c.topic), 1, raw).Err()
}

// Redeliver moves msg from the processing list back onto the topic in one
// transaction, so it is neither lost nor duplicated.
func (c *redisConsumer) Redeliver(ctx context.Context, msg Message) error {
	raw, ok := msg.receipt.(string)
	if !ok {
		return fmt.Errorf("message on %s was not received from redis", c.topic)
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey(c.topic), 1, raw)
		pipe.LPush(ctx, c.topic, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redeliver on %s: %w", c.topic, err)
	}
	return nil
}

func (c *redisConsumer) Close() error {
	return nil
}
