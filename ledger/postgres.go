package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type tableSchema struct {
	name      string
	keyColumn string
	fields    []Field
}

var schemas = map[Table]tableSchema{
	Products: {name: "products", keyColumn: "product_id", fields: tableFields[Products]},
	Accounts: {name: "accounts", keyColumn: "user_id", fields: tableFields[Accounts]},
}

func (t tableSchema) columns() string {
	cols := make([]string, len(t.fields))
	for i, f := range t.fields {
		cols[i] = string(f)
	}
	return strings.Join(cols, ", ")
}

// PostgresStore keeps products and accounts in their own tables and the
// applied operations in ledger_ops. Each update is one short transaction
// holding a row lock on the record it changes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a Store backed by Postgres.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresStoreWithSchema initializes the schema then returns the store.
func NewPostgresStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := NewPostgresStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates ledger tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			product_id TEXT PRIMARY KEY,
			available_qty BIGINT NOT NULL CHECK (available_qty >= 0),
			price BIGINT NOT NULL CHECK (price >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			coupon BIGINT NOT NULL CHECK (coupon >= 0),
			deposit BIGINT NOT NULL CHECK (deposit >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_ops (
			op_id TEXT PRIMARY KEY,
			tbl TEXT NOT NULL,
			record_key TEXT NOT NULL,
			field TEXT NOT NULL,
			before_value BIGINT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, table Table, key string) (Record, error) {
	schema, ok := schemas[table]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", ErrInvalidUpdate, table)
	}
	return s.scanRecord(ctx, s.db, schema, key, false)
}

func (s *PostgresStore) Put(ctx context.Context, table Table, key string, rec Record) error {
	schema, ok := schemas[table]
	if !ok {
		return fmt.Errorf("%w: unknown table %q", ErrInvalidUpdate, table)
	}
	a, b := schema.fields[0], schema.fields[1]
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s) VALUES ($1, $2, $3)
		ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s, %s = EXCLUDED.%s`,
		schema.name, schema.keyColumn, a, b,
		schema.keyColumn, a, a, b, b)
	if _, err := s.db.ExecContext(ctx, query, key, rec[a], rec[b]); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) ConditionalUpdate(ctx context.Context, table Table, key string, u Update) (Result, error) {
	if err := u.validate(table); err != nil {
		return Result{}, err
	}
	schema := schemas[table]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	before, replayed, err := s.lookupOp(ctx, tx, u.OpID)
	if err != nil {
		return Result{}, err
	}
	if replayed {
		rec, err := s.scanRecord(ctx, tx, schema, key, false)
		if err != nil {
			return Result{}, err
		}
		if err := tx.Commit(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Result{Record: rec, Before: before}, nil
	}

	rec, err := s.scanRecord(ctx, tx, schema, key, true)
	if err != nil {
		return Result{}, err
	}
	cur := rec[u.Field]

	var afterBefore int64
	if u.After != "" {
		b, found, err := s.lookupOp(ctx, tx, u.After)
		if err != nil {
			return Result{}, err
		}
		if !found || u.nothingToRevert(b) {
			if err := tx.Commit(); err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return Result{Record: rec, Before: cur}, nil
		}
		afterBefore = b
	}

	next, err := u.next(cur, afterBefore)
	if err != nil {
		return Result{}, err
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1`, schema.name, u.Field, schema.keyColumn)
	if _, err := tx.ExecContext(ctx, update, key, next); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_ops (op_id, tbl, record_key, field, before_value)
		VALUES ($1, $2, $3, $4, $5)`,
		u.OpID, string(table), key, string(u.Field), cur,
	); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec[u.Field] = next
	return Result{Record: rec, Applied: true, Before: cur}, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) lookupOp(ctx context.Context, q queryer, opID string) (int64, bool, error) {
	var before int64
	err := q.QueryRowContext(ctx, `SELECT before_value FROM ledger_ops WHERE op_id = $1`, opID).Scan(&before)
	switch {
	case err == nil:
		return before, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *PostgresStore) scanRecord(ctx context.Context, q queryer, schema tableSchema, key string, lock bool) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, schema.columns(), schema.name, schema.keyColumn)
	if lock {
		query += ` FOR UPDATE`
	}
	var a, b int64
	err := q.QueryRowContext(ctx, query, key).Scan(&a, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Record{schema.fields[0]: a, schema.fields[1]: b}, nil
}
