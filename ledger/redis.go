package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisTxRetries = 5

// RedisStore keeps each record in a hash and the operations applied to it
// in a sibling hash. Updates run in a WATCH/MULTI transaction over both.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store using opts.
func NewRedisStore(opts *redis.Options) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(opts))
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ledger:"}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(table Table, key string) string {
	return s.prefix + string(table) + ":" + key
}

func (s *RedisStore) opsKey(table Table, key string) string {
	return s.recordKey(table, key) + ":ops"
}

func (s *RedisStore) Get(ctx context.Context, table Table, key string) (Record, error) {
	return readRecord(ctx, s.client, s.recordKey(table, key))
}

func (s *RedisStore) Put(ctx context.Context, table Table, key string, rec Record) error {
	values := make(map[string]any, len(rec))
	for f, v := range rec {
		values[string(f)] = v
	}
	if err := s.client.HSet(ctx, s.recordKey(table, key), values).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ConditionalUpdate(ctx context.Context, table Table, key string, u Update) (Result, error) {
	if err := u.validate(table); err != nil {
		return Result{}, err
	}
	recKey := s.recordKey(table, key)
	opsKey := s.opsKey(table, key)

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		var res Result
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := readRecord(ctx, tx, recKey)
			if err != nil {
				return err
			}
			ops, err := readOps(ctx, tx, opsKey, u.OpID, u.After)
			if err != nil {
				return err
			}
			p, err := evaluate(rec, u, func(opID string) (int64, bool) {
				before, ok := ops[opID]
				return before, ok
			})
			if err != nil {
				return err
			}
			if p.skip {
				res = Result{Record: rec, Before: p.before}
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, recKey, string(u.Field), p.next)
				pipe.HSet(ctx, opsKey, u.OpID, p.before)
				return nil
			})
			if err != nil {
				return err
			}
			rec[u.Field] = p.next
			res = Result{Record: rec, Applied: true, Before: p.before}
			return nil
		}, recKey, opsKey)

		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrPreconditionFailed),
			errors.Is(err, ErrConflict), errors.Is(err, ErrUnavailable):
			return Result{}, err
		default:
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return Result{}, fmt.Errorf("%s/%s after %d attempts: %w", table, key, redisTxRetries, ErrConflict)
}

// hashReader is the subset of commands shared by *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readRecord(ctx context.Context, c hashReader, recKey string) (Record, error) {
	fields, err := c.HGetAll(ctx, recKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	rec := make(Record, len(fields))
	for f, raw := range fields {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s.%s: %w", recKey, f, err)
		}
		rec[Field(f)] = v
	}
	return rec, nil
}

func readOps(ctx context.Context, c hashReader, opsKey string, opIDs ...string) (map[string]int64, error) {
	ids := make([]string, 0, len(opIDs))
	for _, id := range opIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	vals, err := c.HMGet(ctx, opsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ops := make(map[string]int64, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse op %s: %w", ids[i], err)
		}
		ops[ids[i]] = before
	}
	return ops, nil
}
