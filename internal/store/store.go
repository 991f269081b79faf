// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vkoval/lendops/internal/domain"
)

// ErrAlreadyUndone is returned by ClaimUndone when the record was already
// claimed by another path. Exactly one claimant ever wins.
var ErrAlreadyUndone = errors.New("operation already undone")

// OperationLog is the append-only persistence of operation records. Records
// are never mutated by the undo engine beyond the one-way is_undone flip;
// Delete and UpdatePayload exist for the separate admin correction flow,
// which the engine merely tolerates.
type OperationLog interface {
	// AppendOperation durably writes a new record and returns nil only when
	// the write succeeded.
	AppendOperation(ctx context.Context, rec *domain.OperationRecord) error

	// GetOperation retrieves a record by ID, or (nil, nil) if absent.
	GetOperation(ctx context.Context, id string) (*domain.OperationRecord, error)

	// ListOperationsByDate returns all records created on the given UTC day,
	// ordered ascending by created_at.
	ListOperationsByDate(ctx context.Context, day time.Time) ([]*domain.OperationRecord, error)

	// LatestActiveOperation returns the most recent non-undone, non-undo-kind
	// record in the scope, or (nil, nil) if none exists.
	LatestActiveOperation(ctx context.Context, scopeID int64) (*domain.OperationRecord, error)

	// ClaimUndone atomically flips is_undone false→true. Returns
	// ErrAlreadyUndone if the record was already claimed, so concurrent
	// claimants cannot both compensate one record.
	ClaimUndone(ctx context.Context, id string) error

	// DeleteOperation removes a record (admin correction path).
	DeleteOperation(ctx context.Context, id string) error

	// UpdateOperationPayload replaces a record's payload (admin correction path).
	UpdateOperationPayload(ctx context.Context, id string, payload domain.Payload) error
}

// Ledger is the current financial/order state the compensations act on.
type Ledger interface {
	// GetOrder retrieves an order by ID, or (nil, nil) if absent.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// PutOrder inserts or replaces an order.
	PutOrder(ctx context.Context, order *domain.Order) error

	// UpdateOrderState sets an order's state.
	UpdateOrderState(ctx context.Context, id string, state domain.OrderState) error

	// UpdateOrderAmount sets an order's outstanding body.
	UpdateOrderAmount(ctx context.Context, id string, amount float64) error

	// DeleteOrder removes an order.
	DeleteOrder(ctx context.Context, id string) error

	// GetAggregate returns the named running total (0 if never written).
	GetAggregate(ctx context.Context, name string) (float64, error)

	// AddToAggregate adds delta to the named running total.
	AddToAggregate(ctx context.Context, name string, delta float64) error
}

// Repository is the full persistence surface backing the back office.
type Repository interface {
	OperationLog
	Ledger

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
