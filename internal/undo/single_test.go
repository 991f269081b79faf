package undo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vkoval/lendops/internal/domain"
)

func TestUndoLastNothingToUndo(t *testing.T) {
	e := newEnv(t)

	_, err := e.single.UndoLast(context.Background(), 1, 1)
	if !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Expected ErrNothingToUndo, got %v", err)
	}
}

func TestUndoLastInterestConservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Totals before the interest was posted.
	const interestBefore, liquidBefore = 700.0, 4500.0
	e.seedAggregate(t, domain.AggInterestTotal, interestBefore)
	e.seedAggregate(t, domain.AggLiquidFunds, liquidBefore)

	// The forward posting of interest(500.00) and its record.
	e.seedAggregate(t, domain.AggInterestTotal, 500)
	e.seedAggregate(t, domain.AggLiquidFunds, 500)
	rec := e.append(t, 1, 1, domain.InterestPayload{OrderID: "O1", Amount: 500}, time.Now().UTC())

	outcome, err := e.single.UndoLast(ctx, 1, 1)
	if err != nil {
		t.Fatalf("UndoLast failed: %v", err)
	}
	if !outcome.Applied || outcome.Unsupported {
		t.Errorf("Expected applied outcome, got %+v", outcome)
	}
	if len(outcome.Violations) != 0 {
		t.Errorf("Expected no violations, got %v", outcome.Violations)
	}
	if outcome.RecordID != rec.ID {
		t.Errorf("Expected record %s undone, got %s", rec.ID, outcome.RecordID)
	}

	if got := e.aggregate(t, domain.AggInterestTotal); abs(got-interestBefore) > 0.01 {
		t.Errorf("Interest total not conserved: want %v, got %v", interestBefore, got)
	}
	if got := e.aggregate(t, domain.AggLiquidFunds); abs(got-liquidBefore) > 0.01 {
		t.Errorf("Liquid funds not conserved: want %v, got %v", liquidBefore, got)
	}

	// The log only ever grows: original flagged, undo record appended.
	original, err := e.repo.GetOperation(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if !original.IsUndone {
		t.Error("Original record must be flagged undone")
	}
	undoRec, err := e.repo.GetOperation(ctx, outcome.UndoRecordID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if undoRec == nil || undoRec.Kind != domain.KindUndo {
		t.Fatalf("Expected undo record, got %+v", undoRec)
	}
	if p := undoRec.Payload.(domain.UndoPayload); p.OriginalID != rec.ID {
		t.Errorf("Undo record references %s, want %s", p.OriginalID, rec.ID)
	}
}

func TestUndoLastOrderCreated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Forward: order O1 created with amount 10000.
	now := time.Now().UTC()
	order := &domain.Order{ID: "O1", ScopeID: 1, Amount: 10000, State: domain.OrderStateNormal, CreatedAt: now, UpdatedAt: now}
	e.putOrder(t, order)
	e.seedAggregate(t, domain.AggOrdersCreatedCount, 1)
	e.seedAggregate(t, domain.AggOrdersCreatedAmount, 10000)
	e.seedAggregate(t, domain.AggLiquidFunds, -10000)
	e.seedAggregate(t, domain.AggValidCount, 1)
	e.append(t, 1, 1, domain.OrderCreatedPayload{OrderID: "O1", Amount: 10000}, now)

	outcome, err := e.single.UndoLast(ctx, 1, 1)
	if err != nil {
		t.Fatalf("UndoLast failed: %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("Expected applied outcome, got %+v", outcome)
	}
	if len(outcome.Violations) != 0 {
		t.Errorf("Expected no violations, got %v", outcome.Violations)
	}

	got, err := e.repo.GetOrder(ctx, "O1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got != nil {
		t.Error("Order O1 must no longer exist after undo")
	}
	if v := e.aggregate(t, domain.AggOrdersCreatedAmount); abs(v) > 0.01 {
		t.Errorf("Creation amount not reverted: %v", v)
	}
	if v := e.aggregate(t, domain.AggOrdersCreatedCount); v != 0 {
		t.Errorf("Creation count not reverted: %v", v)
	}
	if v := e.aggregate(t, domain.AggValidCount); v != 0 {
		t.Errorf("Valid bucket not reverted: %v", v)
	}
}

func TestUndoLastConsecutiveCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		e.seedAggregate(t, domain.AggExpenseTotal, 10)
		e.seedAggregate(t, domain.AggLiquidFunds, -10)
		e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, base.Add(time.Duration(i)*time.Second))
	}

	for i := 0; i < 3; i++ {
		if _, err := e.single.UndoLast(ctx, 1, 1); err != nil {
			t.Fatalf("Undo %d failed: %v", i+1, err)
		}
	}

	_, err := e.single.UndoLast(ctx, 1, 1)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("4th consecutive undo: expected ErrLimitExceeded, got %v", err)
	}

	// A new mutation by the actor resets the counter.
	e.sessions.Reset(1, 1)
	if _, err := e.single.UndoLast(ctx, 1, 1); err != nil {
		t.Errorf("Undo after reset failed: %v", err)
	}
}

func TestUndoLastCapIsPerScope(t *testing.T) {
	e := newEnv(t)
	base := time.Now().UTC()

	e.sessions.Increment(1, 1)
	e.sessions.Increment(1, 1)
	e.sessions.Increment(1, 1)

	// Same actor, different scope: unaffected by the exhausted counter.
	e.seedAggregate(t, domain.AggExpenseTotal, 10)
	e.seedAggregate(t, domain.AggLiquidFunds, -10)
	e.append(t, 1, 99, domain.ExpensePayload{Amount: 10}, base)

	if _, err := e.single.UndoLast(context.Background(), 1, 99); err != nil {
		t.Errorf("Undo in fresh scope failed: %v", err)
	}
}

func TestUndoLastStrategyFailureLeavesRecordActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Principal reduction referencing an order that no longer exists.
	rec := e.append(t, 1, 1, domain.PrincipalReductionPayload{OrderID: "gone", OldAmount: 100, NewAmount: 50}, time.Now().UTC())

	_, err := e.single.UndoLast(ctx, 1, 1)
	var undoErr *UndoError
	if !errors.As(err, &undoErr) {
		t.Fatalf("Expected UndoError, got %v", err)
	}

	got, err := e.repo.GetOperation(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if got.IsUndone {
		t.Error("Failed compensation must leave the record active")
	}
	if count := e.sessions.Count(1, 1); count != 0 {
		t.Errorf("Failed undo must not consume the counter, got %d", count)
	}

	// Admins received the diagnostic.
	found := false
	for _, event := range e.sink.events() {
		if event == "undo_failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected undo_failed notification, got %v", e.sink.events())
	}
}

func TestUndoLastUnsupportedKindMarksUndoneWithoutRollback(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.seedAggregate(t, domain.AggLiquidFunds, 1000)
	rec := e.append(t, 1, 1, domain.UnknownPayload{RawKind: "bonus_accrual", Raw: []byte(`{"n":1}`)}, time.Now().UTC())

	outcome, err := e.single.UndoLast(ctx, 1, 1)
	if err != nil {
		t.Fatalf("UndoLast failed: %v", err)
	}
	if !outcome.Unsupported || outcome.Applied {
		t.Errorf("Expected unsupported outcome, got %+v", outcome)
	}

	got, err := e.repo.GetOperation(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if !got.IsUndone {
		t.Error("Unsupported kind must still be marked undone")
	}
	if v := e.aggregate(t, domain.AggLiquidFunds); v != 1000 {
		t.Errorf("Unsupported kind must not touch state, liquid funds now %v", v)
	}

	found := false
	for _, event := range e.sink.events() {
		if event == "undo_unsupported_kind" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected distinct unsupported-kind notification, got %v", e.sink.events())
	}
}

func TestUndoLastSkipsUndoneAndUndoRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	base := time.Now().UTC()

	e.seedAggregate(t, domain.AggExpenseTotal, 10)
	e.seedAggregate(t, domain.AggLiquidFunds, -10)
	expense := e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, base)

	if _, err := e.single.UndoLast(ctx, 1, 1); err != nil {
		t.Fatalf("UndoLast failed: %v", err)
	}

	// The expense is undone and the only remaining record is the undo
	// itself, which is never eligible.
	_, err := e.single.UndoLast(ctx, 1, 1)
	if !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Expected ErrNothingToUndo, got %v", err)
	}

	got, err := e.repo.GetOperation(ctx, expense.ID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if !got.IsUndone {
		t.Error("Expense must stay undone")
	}
	if v := e.aggregate(t, domain.AggExpenseTotal); abs(v) > 0.01 {
		t.Errorf("Second undo attempt must not mutate state, expense total %v", v)
	}
}

func TestUndoLastAlreadyClaimedRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec := e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, time.Now().UTC())
	if err := e.repo.ClaimUndone(ctx, rec.ID); err != nil {
		t.Fatalf("ClaimUndone failed: %v", err)
	}

	_, err := e.single.UndoLast(ctx, 1, 1)
	if !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Expected ErrNothingToUndo for fully claimed scope, got %v", err)
	}
}
