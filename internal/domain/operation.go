// Package domain contains core domain types for the lendops back office.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies the type of a logged domain mutation. Every kind
// has exactly one payload schema; no two kinds share one.
type OperationKind string

const (
	KindInterest           OperationKind = "interest"
	KindPrincipalReduction OperationKind = "principal_reduction"
	KindExpense            OperationKind = "expense"
	KindOrderCreated       OperationKind = "order_created"
	KindOrderCompleted     OperationKind = "order_completed"
	KindOrderBreachEnd     OperationKind = "order_breach_end"
	KindOrderStateChange   OperationKind = "order_state_change"
	KindUndo               OperationKind = "undo"
)

// Payload is the kind-specific body of an operation record.
// The concrete type is fully determined by the record's Kind.
type Payload interface {
	Kind() OperationKind
}

// InterestPayload records an interest posting against an order.
type InterestPayload struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

func (InterestPayload) Kind() OperationKind { return KindInterest }

// PrincipalReductionPayload records a partial repayment of an order's body.
type PrincipalReductionPayload struct {
	OrderID   string  `json:"order_id"`
	OldAmount float64 `json:"old_amount"`
	NewAmount float64 `json:"new_amount"`
}

func (PrincipalReductionPayload) Kind() OperationKind { return KindPrincipalReduction }

// ExpensePayload records a ledger deduction.
type ExpensePayload struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
}

func (ExpensePayload) Kind() OperationKind { return KindExpense }

// OrderCreatedPayload records the creation of a new order.
type OrderCreatedPayload struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

func (OrderCreatedPayload) Kind() OperationKind { return KindOrderCreated }

// OrderCompletedPayload records an order closing normally, with the income
// recognized at completion time.
type OrderCompletedPayload struct {
	OrderID  string     `json:"order_id"`
	OldState OrderState `json:"old_state"`
	Income   float64    `json:"income"`
}

func (OrderCompletedPayload) Kind() OperationKind { return KindOrderCompleted }

// OrderBreachEndPayload records a breached order being settled, with the
// income recognized at settlement time.
type OrderBreachEndPayload struct {
	OrderID  string     `json:"order_id"`
	OldState OrderState `json:"old_state"`
	Income   float64    `json:"income"`
}

func (OrderBreachEndPayload) Kind() OperationKind { return KindOrderBreachEnd }

// OrderStateChangePayload records an order moving between states, e.g. from
// normal to overdue. The aggregate bucket move is derived from the two states.
type OrderStateChangePayload struct {
	OrderID  string     `json:"order_id"`
	OldState OrderState `json:"old_state"`
	NewState OrderState `json:"new_state"`
}

func (OrderStateChangePayload) Kind() OperationKind { return KindOrderStateChange }

// UndoPayload records the compensation of an earlier record. Undo records are
// themselves never eligible for undo.
type UndoPayload struct {
	OriginalID string `json:"original_id"`
}

func (UndoPayload) Kind() OperationKind { return KindUndo }

// UnknownPayload carries the raw body of a kind this build does not
// recognize. It survives decode/encode untouched so newer writers and older
// readers can share one log.
type UnknownPayload struct {
	RawKind OperationKind
	Raw     json.RawMessage
}

func (p UnknownPayload) Kind() OperationKind { return p.RawKind }

// OperationRecord is one immutable entry in the operation log.
type OperationRecord struct {
	ID        string        `json:"id"`
	ActorID   int64         `json:"actor_id"`
	ScopeID   int64         `json:"scope_id"`
	Kind      OperationKind `json:"kind"`
	Payload   Payload       `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
	IsUndone  bool          `json:"is_undone"`
}

// NewRecordID returns a fresh operation record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if u, ok := p.(UnknownPayload); ok {
		return u.Raw, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload body according to kind.
// A kind this build does not recognize decodes to UnknownPayload with the
// raw bytes preserved.
func DecodePayload(kind OperationKind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindInterest:
		var v InterestPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindPrincipalReduction:
		var v PrincipalReductionPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindExpense:
		var v ExpensePayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderCreated:
		var v OrderCreatedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderCompleted:
		var v OrderCompletedPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderBreachEnd:
		var v OrderBreachEndPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindOrderStateChange:
		var v OrderStateChangePayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindUndo:
		var v UndoPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownPayload{RawKind: kind, Raw: raw}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	return p, nil
}
