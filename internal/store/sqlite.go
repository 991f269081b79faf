package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vkoval/lendops/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		actor_id INTEGER NOT NULL,
		scope_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		is_undone INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_operations_scope ON operations(scope_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_operations_day ON operations(created_at, is_undone);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		scope_id INTEGER NOT NULL,
		amount REAL NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS aggregates (
		name TEXT PRIMARY KEY,
		value REAL NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// AppendOperation durably writes a new operation record.
func (s *SQLiteStore) AppendOperation(ctx context.Context, rec *domain.OperationRecord) error {
	payload, err := domain.EncodePayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	query := `
	INSERT INTO operations (id, actor_id, scope_id, kind, payload, created_at, is_undone)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	undone := 0
	if rec.IsUndone {
		undone = 1
	}
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.ActorID, rec.ScopeID, string(rec.Kind),
		string(payload), rec.CreatedAt.UnixMicro(), undone,
	)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

const operationColumns = `id, actor_id, scope_id, kind, payload, created_at, is_undone`

func scanOperation(row interface{ Scan(...any) error }) (*domain.OperationRecord, error) {
	var rec domain.OperationRecord
	var kind, payload string
	var createdAt int64
	var undone int

	err := row.Scan(&rec.ID, &rec.ActorID, &rec.ScopeID, &kind, &payload, &createdAt, &undone)
	if err != nil {
		return nil, err
	}

	rec.Kind = domain.OperationKind(kind)
	rec.CreatedAt = time.UnixMicro(createdAt).UTC()
	rec.IsUndone = undone != 0

	rec.Payload, err = domain.DecodePayload(rec.Kind, []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &rec, nil
}

// GetOperation retrieves an operation record by ID.
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*domain.OperationRecord, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = ?`
	rec, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan operation row: %w", err)
	}
	return rec, nil
}

// ListOperationsByDate returns all records created on the given UTC day,
// ordered ascending by created_at.
func (s *SQLiteStore) ListOperationsByDate(ctx context.Context, day time.Time) ([]*domain.OperationRecord, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	query := `
	SELECT ` + operationColumns + ` FROM operations
	WHERE created_at >= ? AND created_at < ?
	ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, start.UnixMicro(), end.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("query operations by date: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close operation rows", "error", closeErr)
		}
	}()

	var recs []*domain.OperationRecord
	for rows.Next() {
		rec, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation rows: %w", err)
	}
	return recs, nil
}

// LatestActiveOperation returns the most recent non-undone record in the
// scope, excluding undo records themselves.
func (s *SQLiteStore) LatestActiveOperation(ctx context.Context, scopeID int64) (*domain.OperationRecord, error) {
	query := `
	SELECT ` + operationColumns + ` FROM operations
	WHERE scope_id = ? AND is_undone = 0 AND kind != ?
	ORDER BY created_at DESC, rowid DESC
	LIMIT 1`

	rec, err := scanOperation(s.db.QueryRowContext(ctx, query, scopeID, string(domain.KindUndo)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan latest active operation: %w", err)
	}
	return rec, nil
}

// ClaimUndone atomically flips is_undone false→true for the record.
// The WHERE guard makes the flip a compare-and-set: of two concurrent
// claimants exactly one sees a row update, the other gets ErrAlreadyUndone.
func (s *SQLiteStore) ClaimUndone(ctx context.Context, id string) error {
	query := `UPDATE operations SET is_undone = 1 WHERE id = ? AND is_undone = 0`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim operation undone: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		existing, err := s.GetOperation(ctx, id)
		if err != nil {
			return fmt.Errorf("check claimed operation: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("operation %s not found", id)
		}
		return ErrAlreadyUndone
	}
	return nil
}

// DeleteOperation removes a record (admin correction path).
func (s *SQLiteStore) DeleteOperation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s not found", id)
	}
	return nil
}

// UpdateOperationPayload replaces a record's payload (admin correction path).
func (s *SQLiteStore) UpdateOperationPayload(ctx context.Context, id string, payload domain.Payload) error {
	data, err := domain.EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE operations SET payload = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("update operation payload: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s not found", id)
	}
	return nil
}

// GetOrder retrieves an order by ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT id, scope_id, amount, state, created_at, updated_at FROM orders WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var order domain.Order
	var state string
	var createdAt, updatedAt int64

	err := row.Scan(&order.ID, &order.ScopeID, &order.Amount, &state, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}

	order.State = domain.OrderState(state)
	order.CreatedAt = time.Unix(createdAt, 0)
	order.UpdatedAt = time.Unix(updatedAt, 0)
	return &order, nil
}

// PutOrder inserts or replaces an order.
func (s *SQLiteStore) PutOrder(ctx context.Context, order *domain.Order) error {
	query := `
	INSERT INTO orders (id, scope_id, amount, state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		amount = excluded.amount,
		state = excluded.state,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.ScopeID, order.Amount, string(order.State),
		order.CreatedAt.Unix(), order.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// UpdateOrderState sets an order's state.
func (s *SQLiteStore) UpdateOrderState(ctx context.Context, id string, state domain.OrderState) error {
	query := `UPDATE orders SET state = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, string(state), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("order %s not found", id)
	}
	return nil
}

// UpdateOrderAmount sets an order's outstanding body.
func (s *SQLiteStore) UpdateOrderAmount(ctx context.Context, id string, amount float64) error {
	query := `UPDATE orders SET amount = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, amount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update order amount: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("order %s not found", id)
	}
	return nil
}

// DeleteOrder removes an order.
func (s *SQLiteStore) DeleteOrder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("order %s not found", id)
	}
	return nil
}

// GetAggregate returns the named running total, 0 if never written.
func (s *SQLiteStore) GetAggregate(ctx context.Context, name string) (float64, error) {
	var value float64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM aggregates WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan aggregate %s: %w", name, err)
	}
	return value, nil
}

// AddToAggregate adds delta to the named running total.
func (s *SQLiteStore) AddToAggregate(ctx context.Context, name string, delta float64) error {
	query := `
	INSERT INTO aggregates (name, value) VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET value = aggregates.value + excluded.value`

	if _, err := s.db.ExecContext(ctx, query, name, delta); err != nil {
		return fmt.Errorf("add to aggregate %s: %w", name, err)
	}
	return nil
}
