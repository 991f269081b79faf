package undo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vkoval/lendops/internal/domain"
	"github.com/vkoval/lendops/internal/store"
)

// AggregateCheck names an aggregate a compensation touched and the value it
// must hold afterwards. The consistency verifier re-reads and compares.
type AggregateCheck struct {
	Name string
	Want float64
}

// Effect describes what a compensation did. Unsupported means the kind is not
// recognized by this build: the record is still marked undone so the log stays
// consistent, but no state was touched.
type Effect struct {
	Applied     bool
	Unsupported bool
	Checks      []AggregateCheck
}

// Strategy is the kind-specific inverse of one operation. Callers guarantee
// at-most-once invocation per record via the is_undone claim.
type Strategy func(ctx context.Context, rec *domain.OperationRecord) (Effect, error)

// Registry maps operation kinds to their compensating strategies.
type Registry struct {
	ledger store.Ledger
	arms   map[domain.OperationKind]Strategy
}

// NewRegistry builds the registry with one arm per known operation kind.
func NewRegistry(ledger store.Ledger) *Registry {
	r := &Registry{
		ledger: ledger,
		arms:   make(map[domain.OperationKind]Strategy),
	}
	r.arms[domain.KindInterest] = r.compensateInterest
	r.arms[domain.KindPrincipalReduction] = r.compensatePrincipalReduction
	r.arms[domain.KindExpense] = r.compensateExpense
	r.arms[domain.KindOrderCreated] = r.compensateOrderCreated
	r.arms[domain.KindOrderCompleted] = r.compensateOrderClosed
	r.arms[domain.KindOrderBreachEnd] = r.compensateOrderClosed
	r.arms[domain.KindOrderStateChange] = r.compensateOrderStateChange
	return r
}

// Register overrides or adds the strategy for a kind.
func (r *Registry) Register(kind domain.OperationKind, s Strategy) {
	r.arms[kind] = s
}

// Compensate runs the inverse of the record's operation. An unrecognized kind
// yields an explicit Unsupported effect; the caller still marks the record
// undone but no state is touched.
func (r *Registry) Compensate(ctx context.Context, rec *domain.OperationRecord) (Effect, error) {
	arm, ok := r.arms[rec.Kind]
	if !ok {
		slog.Warn("No undo strategy for operation kind, marking undone without rollback",
			"record_id", rec.ID, "kind", rec.Kind)
		return Effect{Unsupported: true}, nil
	}
	return arm(ctx, rec)
}

type aggDelta struct {
	name  string
	delta float64
}

// applyDeltas applies each aggregate delta and records the expected resulting
// value for the verifier.
func (r *Registry) applyDeltas(ctx context.Context, deltas []aggDelta) ([]AggregateCheck, error) {
	checks := make([]AggregateCheck, 0, len(deltas))
	for _, d := range deltas {
		before, err := r.ledger.GetAggregate(ctx, d.name)
		if err != nil {
			return nil, &StorageError{Op: fmt.Sprintf("read aggregate %s", d.name), Err: err}
		}
		if err := r.ledger.AddToAggregate(ctx, d.name, d.delta); err != nil {
			return nil, &StorageError{Op: fmt.Sprintf("adjust aggregate %s", d.name), Err: err}
		}
		checks = append(checks, AggregateCheck{Name: d.name, Want: before + d.delta})
	}
	return checks, nil
}

func (r *Registry) compensateInterest(ctx context.Context, rec *domain.OperationRecord) (Effect, error) {
	p, ok := rec.Payload.(domain.InterestPayload)
	if !ok {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: "payload is not an interest payload"}
	}

	checks, err := r.applyDeltas(ctx, []aggDelta{
		{domain.AggInterestTotal, -p.Amount},
		{domain.AggLiquidFunds, -p.Amount},
	})
	if err != nil {
		return Effect{}, err
	}
	return Effect{Applied: true, Checks: checks}, nil
}

func (r *Registry) compensatePrincipalReduction(ctx context.Context, rec *domain.OperationRecord) (Effect, error) {
	p, ok := rec.Payload.(domain.PrincipalReductionPayload)
	if !ok {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: "payload is not a principal reduction payload"}
	}

	order, err := r.ledger.GetOrder(ctx, p.OrderID)
	if err != nil {
		return Effect{}, &StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: fmt.Sprintf("order %s no longer exists", p.OrderID)}
	}

	if err := r.ledger.UpdateOrderAmount(ctx, p.OrderID, p.OldAmount); err != nil {
		return Effect{}, &StorageError{Op: "restore order amount", Err: err}
	}

	repaid := p.OldAmount - p.NewAmount
	checks, err := r.applyDeltas(ctx, []aggDelta{
		{domain.AggLiquidFunds, -repaid},
	})
	if err != nil {
		return Effect{}, err
	}
	return Effect{Applied: true, Checks: checks}, nil
}

func (r *Registry) compensateExpense(ctx context.Context, rec *domain.OperationRecord) (Effect, error) {
	p, ok := rec.Payload.(domain.ExpensePayload)
	if !ok {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: "payload is not an expense payload"}
	}

	checks, err := r.applyDeltas(ctx, []aggDelta{
		{domain.AggExpenseTotal, -p.Amount},
		{domain.AggLiquidFunds, p.Amount},
	})
	if err != nil {
		return Effect{}, err
	}
	return Effect{Applied: true, Checks: checks}, nil
}

func (r *Registry) compensateOrderCreated(ctx context.Context, rec *domain.OperationRecord) (Effect, error) {
	p, ok := rec.Payload.(domain.OrderCreatedPayload)
	if !ok {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: "payload is not an order creation payload"}
	}

	order, err := r.ledger.GetOrder(ctx, p.OrderID)
	if err != nil {
		return Effect{}, &StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: fmt.Sprintf("order %s no longer exists", p.OrderID)}
	}

	if err := r.ledger.DeleteOrder(ctx, p.OrderID); err != nil {
		return Effect{}, &StorageError{Op: "delete order", Err: err}
	}

	checks, err := r.applyDeltas(ctx, []aggDelta{
		{domain.AggOrdersCreatedCount, -1},
		{domain.AggOrdersCreatedAmount, -p.Amount},
		{domain.AggLiquidFunds, p.Amount},
		{domain.AggValidCount, -1},
	})
	if err != nil {
		return Effect{}, err
	}
	return Effect{Applied: true, Checks: checks}, nil
}

// compensateOrderClosed reverses order completion and breach settlement; the
// two kinds share an inverse shape, differing only in payload type.
func (r *Registry) compensateOrderClosed(ctx context.Context, rec *domain.OperationRecord) (Effect, error) {
	var orderID string
	var oldState domain.OrderState
	var income float64

	switch p := rec.Payload.(type) {
	case domain.OrderCompletedPayload:
		orderID, oldState, income = p.OrderID, p.OldState, p.Income
	case domain.OrderBreachEndPayload:
		orderID, oldState, income = p.OrderID, p.OldState, p.Income
	default:
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: "payload is not an order closing payload"}
	}

	order, err := r.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return Effect{}, &StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: fmt.Sprintf("order %s no longer exists", orderID)}
	}

	if err := r.ledger.UpdateOrderState(ctx, orderID, oldState); err != nil {
		return Effect{}, &StorageError{Op: "restore order state", Err: err}
	}

	deltas := []aggDelta{
		{domain.AggIncomeTotal, -income},
		{domain.AggLiquidFunds, -income},
		{domain.AggCompletedCount, -1},
	}
	if bucket := domain.BucketFor(oldState); bucket != "" {
		deltas = append(deltas, aggDelta{bucket, 1})
	}
	checks, err := r.applyDeltas(ctx, deltas)
	if err != nil {
		return Effect{}, err
	}
	return Effect{Applied: true, Checks: checks}, nil
}

func (r *Registry) compensateOrderStateChange(ctx context.Context, rec *domain.OperationRecord) (Effect, error) {
	p, ok := rec.Payload.(domain.OrderStateChangePayload)
	if !ok {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: "payload is not a state change payload"}
	}

	order, err := r.ledger.GetOrder(ctx, p.OrderID)
	if err != nil {
		return Effect{}, &StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: fmt.Sprintf("order %s no longer exists", p.OrderID)}
	}

	if err := r.ledger.UpdateOrderState(ctx, p.OrderID, p.OldState); err != nil {
		return Effect{}, &StorageError{Op: "restore order state", Err: err}
	}

	// Move the unit back between buckets exactly as the forward change
	// moved it, e.g. breach → valid for an overdue → normal reversal.
	var deltas []aggDelta
	if bucket := domain.BucketFor(p.NewState); bucket != "" {
		deltas = append(deltas, aggDelta{bucket, -1})
	}
	if bucket := domain.BucketFor(p.OldState); bucket != "" {
		deltas = append(deltas, aggDelta{bucket, 1})
	}
	checks, err := r.applyDeltas(ctx, deltas)
	if err != nil {
		return Effect{}, err
	}
	return Effect{Applied: true, Checks: checks}, nil
}
