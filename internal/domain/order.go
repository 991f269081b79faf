package domain

import "time"

// OrderState tracks where an order sits in its lifecycle.
type OrderState string

const (
	// OrderStateNormal is the initial state of a freshly created order.
	OrderStateNormal OrderState = "normal"
	// OrderStateOverdue marks an order past its due date.
	OrderStateOverdue OrderState = "overdue"
	// OrderStateCompleted marks an order repaid in full.
	OrderStateCompleted OrderState = "completed"
	// OrderStateBreachEnded marks a breached order that was settled.
	OrderStateBreachEnded OrderState = "breach_ended"
)

// Order is a live lending order. Amount is the outstanding body.
type Order struct {
	ID        string     `json:"id"`
	ScopeID   int64      `json:"scope_id"`
	Amount    float64    `json:"amount"`
	State     OrderState `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Aggregate names for the running ledger totals. Monetary aggregates are
// compared with a 0.01 epsilon by the consistency verifier.
const (
	AggInterestTotal       = "interest_total"
	AggLiquidFunds         = "liquid_funds"
	AggExpenseTotal        = "expense_total"
	AggOrdersCreatedCount  = "orders_created_count"
	AggOrdersCreatedAmount = "orders_created_amount"
	AggIncomeTotal         = "income_total"
	AggCompletedCount      = "completed_count"
	AggValidCount          = "valid_count"
	AggBreachCount         = "breach_count"
)

// BucketFor maps an order state to the aggregate bucket counting it, or ""
// if the state is not bucketed (terminal states carry their own counters).
func BucketFor(state OrderState) string {
	switch state {
	case OrderStateNormal:
		return AggValidCount
	case OrderStateOverdue:
		return AggBreachCount
	default:
		return ""
	}
}
