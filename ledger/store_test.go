package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	store := NewRedisStore(&redis.Options{Addr: mr.Addr(), DialTimeout: 500 * time.Millisecond})
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	var pingErr error
	for i := 0; i < 5; i++ {
		if pingErr = store.client.Ping(ctx).Err(); pingErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, pingErr)
	return store
}

func TestStoreContract(t *testing.T) {
	backends := []struct {
		name string
		new  func(t *testing.T) Store
	}{
		{name: "memory", new: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "redis", new: func(t *testing.T) Store { return newTestRedisStore(t) }},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			runStoreContract(t, b.new)
		})
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	seed := func(t *testing.T) Store {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Products, "P1", Record{FieldAvailableQty: 5, FieldPrice: 100}))
		require.NoError(t, s.Put(ctx, Accounts, "U1", Record{FieldCoupon: 20, FieldDeposit: 500}))
		return s
	}

	t.Run("Get returns seeded record", func(t *testing.T) {
		s := seed(t)
		rec, err := s.Get(ctx, Products, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), rec[FieldAvailableQty])
		assert.Equal(t, int64(100), rec[FieldPrice])
	})

	t.Run("Get missing record", func(t *testing.T) {
		s := seed(t)
		_, err := s.Get(ctx, Products, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update missing record", func(t *testing.T) {
		s := seed(t)
		_, err := s.ConditionalUpdate(ctx, Products, "missing", Update{OpID: "op-1", Field: FieldAvailableQty, Delta: -1})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delta applies and is visible to the next read", func(t *testing.T) {
		s := seed(t)
		res, err := s.ConditionalUpdate(ctx, Products, "P1", Update{OpID: "op-1", Field: FieldAvailableQty, Delta: -3})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, int64(5), res.Before)
		assert.Equal(t, int64(2), res.Record[FieldAvailableQty])

		rec, err := s.Get(ctx, Products, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec[FieldAvailableQty])
	})

	t.Run("Replay of an operation is a no-op", func(t *testing.T) {
		s := seed(t)
		u := Update{OpID: "op-1", Field: FieldDeposit, Delta: -280}
		_, err := s.ConditionalUpdate(ctx, Accounts, "U1", u)
		require.NoError(t, err)

		res, err := s.ConditionalUpdate(ctx, Accounts, "U1", u)
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, int64(500), res.Before)
		assert.Equal(t, int64(220), res.Record[FieldDeposit])
	})

	t.Run("Floor violation leaves the record unchanged", func(t *testing.T) {
		s := seed(t)
		_, err := s.ConditionalUpdate(ctx, Products, "P1", Update{OpID: "op-1", Field: FieldAvailableQty, Delta: -6})
		assert.ErrorIs(t, err, ErrPreconditionFailed)

		rec, err := s.Get(ctx, Products, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), rec[FieldAvailableQty])

		res, err := s.ConditionalUpdate(ctx, Products, "P1", Update{OpID: "op-1", Field: FieldAvailableQty, Delta: -5})
		require.NoError(t, err)
		assert.True(t, res.Applied, "a rejected operation must not be recorded")
	})

	t.Run("IfEquals mismatch is a conflict", func(t *testing.T) {
		s := seed(t)
		zero, stale := int64(0), int64(10)
		_, err := s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "op-1", Field: FieldCoupon, Set: &zero, IfEquals: &stale})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("Set records the prior value", func(t *testing.T) {
		s := seed(t)
		zero, current := int64(0), int64(20)
		res, err := s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "op-1", Field: FieldCoupon, Set: &zero, IfEquals: &current})
		require.NoError(t, err)
		assert.Equal(t, int64(20), res.Before)
		assert.Equal(t, int64(0), res.Record[FieldCoupon])
	})

	t.Run("After gates on the forward operation", func(t *testing.T) {
		s := seed(t)
		res, err := s.ConditionalUpdate(ctx, Products, "P1", Update{OpID: "undo", Field: FieldAvailableQty, Delta: 3, After: "fwd"})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, int64(5), res.Record[FieldAvailableQty])

		_, err = s.ConditionalUpdate(ctx, Products, "P1", Update{OpID: "fwd", Field: FieldAvailableQty, Delta: -3})
		require.NoError(t, err)

		res, err = s.ConditionalUpdate(ctx, Products, "P1", Update{OpID: "undo", Field: FieldAvailableQty, Delta: 3, After: "fwd"})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, int64(5), res.Record[FieldAvailableQty])
	})

	t.Run("Revert restores the value recorded before the forward operation", func(t *testing.T) {
		s := seed(t)
		zero, current := int64(0), int64(20)
		_, err := s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "fwd", Field: FieldCoupon, Set: &zero, IfEquals: &current})
		require.NoError(t, err)

		res, err := s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "undo", Field: FieldCoupon, IfEquals: &zero, After: "fwd", Revert: true})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, int64(20), res.Record[FieldCoupon])
	})

	t.Run("Revert skips a forward operation that changed nothing", func(t *testing.T) {
		s := seed(t)
		zero, current := int64(0), int64(20)
		_, err := s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "fwd-a", Field: FieldCoupon, Set: &zero, IfEquals: &current})
		require.NoError(t, err)
		_, err = s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "fwd-b", Field: FieldCoupon, Set: &zero, IfEquals: &zero})
		require.NoError(t, err)
		_, err = s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "undo-a", Field: FieldCoupon, IfEquals: &zero, After: "fwd-a", Revert: true})
		require.NoError(t, err)

		res, err := s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "undo-b", Field: FieldCoupon, IfEquals: &zero, After: "fwd-b", Revert: true})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, int64(20), res.Record[FieldCoupon])
	})

	t.Run("Revert without After is rejected", func(t *testing.T) {
		s := seed(t)
		zero := int64(0)
		_, err := s.ConditionalUpdate(ctx, Accounts, "U1", Update{OpID: "undo", Field: FieldCoupon, IfEquals: &zero, Revert: true})
		assert.ErrorIs(t, err, ErrInvalidUpdate)
	})

	t.Run("Field from another table is rejected", func(t *testing.T) {
		s := seed(t)
		_, err := s.ConditionalUpdate(ctx, Products, "P1", Update{OpID: "op-1", Field: FieldDeposit, Delta: 1})
		assert.ErrorIs(t, err, ErrInvalidUpdate)
	})

	t.Run("Concurrent decrements never oversell", func(t *testing.T) {
		s := seed(t)
		var wg sync.WaitGroup
		var mu sync.Mutex
		applied := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := s.ConditionalUpdate(ctx, Products, "P1", Update{
					OpID:  "buy-" + string(rune('a'+i)),
					Field: FieldAvailableQty,
					Delta: -1,
				})
				if err == nil && res.Applied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		rec, err := s.Get(ctx, Products, "P1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec[FieldAvailableQty], int64(0))
		assert.Equal(t, int64(5)-int64(applied), rec[FieldAvailableQty])
	})
}
