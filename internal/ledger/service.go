// Package ledger performs the forward domain mutations of the back office
// and appends the matching operation records the undo engine feeds on.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vkoval/lendops/internal/domain"
	"github.com/vkoval/lendops/internal/notify"
	"github.com/vkoval/lendops/internal/store"
	"github.com/vkoval/lendops/internal/undo"
)

// Service applies mutations, logs them, and resets the actor's
// consecutive-undo counter on every success.
type Service struct {
	repo     store.Repository
	sessions *undo.SessionTracker
	sink     notify.Sink
}

// NewService wires the mutation service.
func NewService(repo store.Repository, sessions *undo.SessionTracker, sink notify.Sink) *Service {
	return &Service{repo: repo, sessions: sessions, sink: sink}
}

// appendRecord logs a completed mutation. The mutation itself already
// happened, so a failed append is a recoverable inconsistency: it is surfaced
// to the admin channel and returned, never retried automatically.
func (s *Service) appendRecord(ctx context.Context, actorID, scopeID int64, payload domain.Payload) (*domain.OperationRecord, error) {
	rec := &domain.OperationRecord{
		ID:        domain.NewRecordID(),
		ActorID:   actorID,
		ScopeID:   scopeID,
		Kind:      payload.Kind(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AppendOperation(ctx, rec); err != nil {
		text := fmt.Sprintf("mutation %s by %d applied but not logged: %v", rec.Kind, actorID, err)
		if sendErr := s.sink.Send(ctx, notify.Summary{Event: "append_failed", Text: text, At: time.Now().UTC()}); sendErr != nil {
			slog.Warn("Failed to notify about append failure", "error", sendErr)
		}
		return nil, &undo.StorageError{Op: "append operation", Err: err}
	}
	s.sessions.Reset(actorID, scopeID)
	return rec, nil
}

// PostInterest records interest received on an order.
func (s *Service) PostInterest(ctx context.Context, actorID, scopeID int64, orderID string, amount float64) (*domain.OperationRecord, error) {
	if amount <= 0 {
		return nil, &undo.ValidationError{Msg: "interest amount must be positive"}
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, &undo.StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return nil, &undo.ValidationError{Msg: fmt.Sprintf("order %s does not exist", orderID)}
	}

	if err := s.addToAggregates(ctx,
		agg{domain.AggInterestTotal, amount},
		agg{domain.AggLiquidFunds, amount},
	); err != nil {
		return nil, err
	}
	return s.appendRecord(ctx, actorID, scopeID, domain.InterestPayload{OrderID: orderID, Amount: amount})
}

// ReducePrincipal records a partial repayment of an order's body.
func (s *Service) ReducePrincipal(ctx context.Context, actorID, scopeID int64, orderID string, newAmount float64) (*domain.OperationRecord, error) {
	if newAmount < 0 {
		return nil, &undo.ValidationError{Msg: "new amount must not be negative"}
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, &undo.StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return nil, &undo.ValidationError{Msg: fmt.Sprintf("order %s does not exist", orderID)}
	}
	if newAmount >= order.Amount {
		return nil, &undo.ValidationError{Msg: "new amount must be below the current body"}
	}

	if err := s.repo.UpdateOrderAmount(ctx, orderID, newAmount); err != nil {
		return nil, &undo.StorageError{Op: "update order amount", Err: err}
	}
	if err := s.addToAggregates(ctx, agg{domain.AggLiquidFunds, order.Amount - newAmount}); err != nil {
		return nil, err
	}
	return s.appendRecord(ctx, actorID, scopeID, domain.PrincipalReductionPayload{
		OrderID:   orderID,
		OldAmount: order.Amount,
		NewAmount: newAmount,
	})
}

// AddExpense records a ledger deduction.
func (s *Service) AddExpense(ctx context.Context, actorID, scopeID int64, amount float64, description string) (*domain.OperationRecord, error) {
	if amount <= 0 {
		return nil, &undo.ValidationError{Msg: "expense amount must be positive"}
	}

	if err := s.addToAggregates(ctx,
		agg{domain.AggExpenseTotal, amount},
		agg{domain.AggLiquidFunds, -amount},
	); err != nil {
		return nil, err
	}
	return s.appendRecord(ctx, actorID, scopeID, domain.ExpensePayload{Amount: amount, Description: description})
}

// CreateOrder opens a new lending order and pays the body out.
func (s *Service) CreateOrder(ctx context.Context, actorID, scopeID int64, amount float64) (*domain.Order, *domain.OperationRecord, error) {
	if amount <= 0 {
		return nil, nil, &undo.ValidationError{Msg: "order amount must be positive"}
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:        domain.NewRecordID(),
		ScopeID:   scopeID,
		Amount:    amount,
		State:     domain.OrderStateNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.PutOrder(ctx, order); err != nil {
		return nil, nil, &undo.StorageError{Op: "create order", Err: err}
	}

	if err := s.addToAggregates(ctx,
		agg{domain.AggOrdersCreatedCount, 1},
		agg{domain.AggOrdersCreatedAmount, amount},
		agg{domain.AggLiquidFunds, -amount},
		agg{domain.AggValidCount, 1},
	); err != nil {
		return nil, nil, err
	}

	rec, err := s.appendRecord(ctx, actorID, scopeID, domain.OrderCreatedPayload{OrderID: order.ID, Amount: amount})
	if err != nil {
		return nil, nil, err
	}
	return order, rec, nil
}

// ChangeOrderState moves an order between states and the matching aggregate
// buckets, e.g. normal → overdue moves one unit valid → breach.
func (s *Service) ChangeOrderState(ctx context.Context, actorID, scopeID int64, orderID string, newState domain.OrderState) (*domain.OperationRecord, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, &undo.StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return nil, &undo.ValidationError{Msg: fmt.Sprintf("order %s does not exist", orderID)}
	}
	if order.State == newState {
		return nil, &undo.ValidationError{Msg: fmt.Sprintf("order %s is already %s", orderID, newState)}
	}

	if err := s.repo.UpdateOrderState(ctx, orderID, newState); err != nil {
		return nil, &undo.StorageError{Op: "update order state", Err: err}
	}

	var deltas []agg
	if bucket := domain.BucketFor(order.State); bucket != "" {
		deltas = append(deltas, agg{bucket, -1})
	}
	if bucket := domain.BucketFor(newState); bucket != "" {
		deltas = append(deltas, agg{bucket, 1})
	}
	if err := s.addToAggregates(ctx, deltas...); err != nil {
		return nil, err
	}
	return s.appendRecord(ctx, actorID, scopeID, domain.OrderStateChangePayload{
		OrderID:  orderID,
		OldState: order.State,
		NewState: newState,
	})
}

// CompleteOrder closes an order normally and recognizes its income.
func (s *Service) CompleteOrder(ctx context.Context, actorID, scopeID int64, orderID string, income float64) (*domain.OperationRecord, error) {
	return s.closeOrder(ctx, actorID, scopeID, orderID, income, domain.OrderStateCompleted)
}

// EndBreach settles a breached order and recognizes its income.
func (s *Service) EndBreach(ctx context.Context, actorID, scopeID int64, orderID string, income float64) (*domain.OperationRecord, error) {
	return s.closeOrder(ctx, actorID, scopeID, orderID, income, domain.OrderStateBreachEnded)
}

func (s *Service) closeOrder(ctx context.Context, actorID, scopeID int64, orderID string, income float64, final domain.OrderState) (*domain.OperationRecord, error) {
	if income < 0 {
		return nil, &undo.ValidationError{Msg: "income must not be negative"}
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, &undo.StorageError{Op: "read order", Err: err}
	}
	if order == nil {
		return nil, &undo.ValidationError{Msg: fmt.Sprintf("order %s does not exist", orderID)}
	}
	if order.State == domain.OrderStateCompleted || order.State == domain.OrderStateBreachEnded {
		return nil, &undo.ValidationError{Msg: fmt.Sprintf("order %s is already closed", orderID)}
	}

	oldState := order.State
	if err := s.repo.UpdateOrderState(ctx, orderID, final); err != nil {
		return nil, &undo.StorageError{Op: "update order state", Err: err}
	}

	deltas := []agg{
		{domain.AggIncomeTotal, income},
		{domain.AggLiquidFunds, income},
		{domain.AggCompletedCount, 1},
	}
	if bucket := domain.BucketFor(oldState); bucket != "" {
		deltas = append(deltas, agg{bucket, -1})
	}
	if err := s.addToAggregates(ctx, deltas...); err != nil {
		return nil, err
	}

	var payload domain.Payload
	if final == domain.OrderStateCompleted {
		payload = domain.OrderCompletedPayload{OrderID: orderID, OldState: oldState, Income: income}
	} else {
		payload = domain.OrderBreachEndPayload{OrderID: orderID, OldState: oldState, Income: income}
	}
	return s.appendRecord(ctx, actorID, scopeID, payload)
}

type agg struct {
	name  string
	delta float64
}

func (s *Service) addToAggregates(ctx context.Context, deltas ...agg) error {
	for _, d := range deltas {
		if err := s.repo.AddToAggregate(ctx, d.name, d.delta); err != nil {
			return &undo.StorageError{Op: fmt.Sprintf("adjust aggregate %s", d.name), Err: err}
		}
	}
	return nil
}
