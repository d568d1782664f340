package ledger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	mu  sync.Mutex
	rec Record
	ops map[string]int64
}

// MemoryStore is an in-process Store. Updates to one key are serialized by
// that key's lock; different keys never contend.
type MemoryStore struct {
	entries *xsync.MapOf[string, *memoryEntry]
	writes  atomic.Int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: xsync.NewMapOf[string, *memoryEntry]()}
}

func memoryKey(table Table, key string) string {
	return string(table) + "/" + key
}

func (s *MemoryStore) Get(ctx context.Context, table Table, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.entries.Load(memoryKey(table, key))
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, ErrNotFound
	}
	return e.rec.clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, table Table, key string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, _ := s.entries.LoadOrStore(memoryKey(table, key), &memoryEntry{ops: make(map[string]int64)})
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec = rec.clone()
	s.writes.Add(1)
	return nil
}

func (s *MemoryStore) ConditionalUpdate(ctx context.Context, table Table, key string, u Update) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := u.validate(table); err != nil {
		return Result{}, err
	}
	e, ok := s.entries.Load(memoryKey(table, key))
	if !ok {
		return Result{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return Result{}, ErrNotFound
	}

	p, err := evaluate(e.rec, u, func(opID string) (int64, bool) {
		before, ok := e.ops[opID]
		return before, ok
	})
	if err != nil {
		return Result{}, err
	}
	if p.skip {
		return Result{Record: e.rec.clone(), Before: p.before}, nil
	}

	e.rec[u.Field] = p.next
	e.ops[u.OpID] = p.before
	s.writes.Add(1)
	return Result{Record: e.rec.clone(), Applied: true, Before: p.before}, nil
}

// Writes counts every Put and applied update since creation.
func (s *MemoryStore) Writes() int64 {
	return s.writes.Load()
}
