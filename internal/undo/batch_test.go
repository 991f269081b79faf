package undo

import (
	"context"
	"testing"
	"time"

	"github.com/vkoval/lendops/internal/domain"
)

func TestBatchPreviewCountsEligible(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	first := e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, day.Add(9*time.Hour))
	e.append(t, 2, 2, domain.ExpensePayload{Amount: 20}, day.Add(10*time.Hour))
	e.append(t, 1, 1, domain.UndoPayload{OriginalID: first.ID}, day.Add(11*time.Hour))
	if err := e.repo.ClaimUndone(ctx, first.ID); err != nil {
		t.Fatalf("ClaimUndone failed: %v", err)
	}

	count, err := e.batch.Preview(ctx, day)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	// The undone expense and the undo record are both ineligible.
	if count != 1 {
		t.Errorf("Expected 1 eligible record, got %d", count)
	}
}

func TestBatchExecuteVisitsInReverseOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	var visited []string
	e.registry.Register(domain.KindExpense, func(_ context.Context, rec *domain.OperationRecord) (Effect, error) {
		visited = append(visited, rec.ID)
		return Effect{Applied: true}, nil
	})

	r1 := e.append(t, 1, 1, domain.ExpensePayload{Amount: 1}, day.Add(9*time.Hour))
	r2 := e.append(t, 2, 2, domain.ExpensePayload{Amount: 2}, day.Add(12*time.Hour))
	r3 := e.append(t, 3, 3, domain.ExpensePayload{Amount: 3}, day.Add(15*time.Hour))

	result, err := e.batch.Execute(ctx, day)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Total != 3 || result.SuccessCount != 3 {
		t.Fatalf("Unexpected result: %+v", result)
	}

	want := []string{r3.ID, r2.ID, r1.ID}
	if len(visited) != len(want) {
		t.Fatalf("Expected %d visits, got %d", len(want), len(visited))
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("Visit %d: expected %s, got %s", i, want[i], visited[i])
		}
	}
}

func TestBatchExecutePartialFailureAccounting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	e.registry.Register("flaky", func(_ context.Context, rec *domain.OperationRecord) (Effect, error) {
		return Effect{}, &UndoError{RecordID: rec.ID, Reason: "injected failure"}
	})

	for i := 0; i < 2; i++ {
		e.seedAggregate(t, domain.AggExpenseTotal, 10)
		e.seedAggregate(t, domain.AggLiquidFunds, -10)
		e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, day.Add(time.Duration(i)*time.Hour))
	}
	flaky1 := e.append(t, 1, 1, domain.UnknownPayload{RawKind: "flaky", Raw: []byte(`{}`)}, day.Add(5*time.Hour))
	flaky2 := e.append(t, 1, 1, domain.UnknownPayload{RawKind: "flaky", Raw: []byte(`{}`)}, day.Add(6*time.Hour))

	result, err := e.batch.Execute(ctx, day)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Total != 4 {
		t.Errorf("Expected total 4, got %d", result.Total)
	}
	if result.SuccessCount+result.FailCount != result.Total {
		t.Errorf("success+fail must equal total: %+v", result)
	}
	if result.FailCount != 2 {
		t.Errorf("Expected 2 failures, got %d", result.FailCount)
	}
	if len(result.Errors) != 2 {
		t.Errorf("Expected 2 error strings, got %v", result.Errors)
	}

	// Failed items stay active and can be retried.
	for _, id := range []string{flaky1.ID, flaky2.ID} {
		rec, err := e.repo.GetOperation(ctx, id)
		if err != nil {
			t.Fatalf("GetOperation failed: %v", err)
		}
		if rec.IsUndone {
			t.Errorf("Failed item %s must stay active", id)
		}
	}
}

func TestBatchExecuteUnwindsDependentsFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	// Forward: O1 created (amount 10000, normal), then moved normal → overdue.
	order := &domain.Order{ID: "O1", ScopeID: 1, Amount: 10000, State: domain.OrderStateOverdue, CreatedAt: day, UpdatedAt: day}
	e.putOrder(t, order)
	e.seedAggregate(t, domain.AggOrdersCreatedCount, 1)
	e.seedAggregate(t, domain.AggOrdersCreatedAmount, 10000)
	e.seedAggregate(t, domain.AggLiquidFunds, -10000)
	e.seedAggregate(t, domain.AggBreachCount, 1)

	e.append(t, 1, 1, domain.OrderCreatedPayload{OrderID: "O1", Amount: 10000}, day.Add(9*time.Hour))
	e.append(t, 1, 1, domain.OrderStateChangePayload{
		OrderID:  "O1",
		OldState: domain.OrderStateNormal,
		NewState: domain.OrderStateOverdue,
	}, day.Add(14*time.Hour))

	result, err := e.batch.Execute(ctx, day)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// The state change must be compensated before the creation; the reverse
	// order would find O1 already deleted and fail.
	if result.FailCount != 0 || result.SuccessCount != 2 {
		t.Fatalf("Expected 2 clean compensations, got %+v", result)
	}

	got, err := e.repo.GetOrder(ctx, "O1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got != nil {
		t.Error("O1 must be deleted after the day is restored")
	}
	if v := e.aggregate(t, domain.AggBreachCount); v != 0 {
		t.Errorf("Breach bucket not unwound: %v", v)
	}
	if v := e.aggregate(t, domain.AggValidCount); v != 0 {
		t.Errorf("Valid bucket not unwound: %v", v)
	}
	if v := e.aggregate(t, domain.AggOrdersCreatedAmount); abs(v) > 0.01 {
		t.Errorf("Creation amount not unwound: %v", v)
	}
}

func TestBatchExecuteDoubleInterestConservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	// interest(O2, 250.00) posted twice by mistake.
	e.seedAggregate(t, domain.AggInterestTotal, 500)
	e.seedAggregate(t, domain.AggLiquidFunds, 500)
	r1 := e.append(t, 1, 1, domain.InterestPayload{OrderID: "O2", Amount: 250}, day.Add(10*time.Hour))
	r2 := e.append(t, 1, 1, domain.InterestPayload{OrderID: "O2", Amount: 250}, day.Add(10*time.Hour+time.Minute))

	result, err := e.batch.Execute(ctx, day)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.SuccessCount != 2 || result.FailCount != 0 {
		t.Fatalf("Unexpected result: %+v", result)
	}

	if v := e.aggregate(t, domain.AggInterestTotal); abs(v) > 0.01 {
		t.Errorf("Interest total not back to pre-apply value: %v", v)
	}
	for _, id := range []string{r1.ID, r2.ID} {
		rec, err := e.repo.GetOperation(ctx, id)
		if err != nil {
			t.Fatalf("GetOperation failed: %v", err)
		}
		if !rec.IsUndone {
			t.Errorf("Record %s must be undone", id)
		}
	}
}

func TestBatchExecuteIsResumable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	e.seedAggregate(t, domain.AggExpenseTotal, 30)
	e.seedAggregate(t, domain.AggLiquidFunds, -30)
	done := e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, day.Add(9*time.Hour))
	e.append(t, 1, 1, domain.ExpensePayload{Amount: 20}, day.Add(10*time.Hour))

	// Simulate an earlier interrupted run that already handled the first
	// record: compensated and claimed.
	e.seedAggregate(t, domain.AggExpenseTotal, -10)
	e.seedAggregate(t, domain.AggLiquidFunds, 10)
	if err := e.repo.ClaimUndone(ctx, done.ID); err != nil {
		t.Fatalf("ClaimUndone failed: %v", err)
	}

	result, err := e.batch.Execute(ctx, day)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// Only the remaining record is attempted; the claimed one is skipped.
	if result.Total != 1 || result.SuccessCount != 1 {
		t.Fatalf("Unexpected result: %+v", result)
	}
	if v := e.aggregate(t, domain.AggExpenseTotal); abs(v) > 0.01 {
		t.Errorf("Expense total not fully unwound: %v", v)
	}
}

func TestBatchExecuteIgnoresUndoCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	// More records than the single-undo cap allows consecutively.
	for i := 0; i < 5; i++ {
		e.seedAggregate(t, domain.AggExpenseTotal, 10)
		e.seedAggregate(t, domain.AggLiquidFunds, -10)
		e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, day.Add(time.Duration(i)*time.Hour))
	}

	result, err := e.batch.Execute(ctx, day)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.SuccessCount != 5 {
		t.Errorf("Batch restore must not be capped: %+v", result)
	}
}

func TestBatchExecuteNotifiesAdmins(t *testing.T) {
	e := newEnv(t)
	day := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	e.seedAggregate(t, domain.AggExpenseTotal, 10)
	e.seedAggregate(t, domain.AggLiquidFunds, -10)
	e.append(t, 1, 1, domain.ExpensePayload{Amount: 10}, day.Add(9*time.Hour))

	if _, err := e.batch.Execute(context.Background(), day); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	found := false
	for _, event := range e.sink.events() {
		if event == "batch_restore" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected batch_restore notification, got %v", e.sink.events())
	}
}
