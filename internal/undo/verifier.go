package undo

import (
	"context"
	"fmt"
	"math"

	"github.com/vkoval/lendops/internal/store"
)

// epsilon is the tolerance for monetary aggregate comparison.
const epsilon = 0.01

// Verifier re-reads the aggregates a compensation touched and confirms each
// holds the value it held before the original mutation. Purely advisory: it
// never reverses or retries a compensation, only reports.
type Verifier struct {
	ledger store.Ledger
}

// NewVerifier creates a consistency verifier over the ledger.
func NewVerifier(ledger store.Ledger) *Verifier {
	return &Verifier{ledger: ledger}
}

// Verify returns one violation string per aggregate that does not match its
// expected post-compensation value within epsilon. An empty slice means the
// compensation restored the prior totals.
func (v *Verifier) Verify(ctx context.Context, checks []AggregateCheck) ([]string, error) {
	var violations []string
	for _, c := range checks {
		got, err := v.ledger.GetAggregate(ctx, c.Name)
		if err != nil {
			return nil, &StorageError{Op: fmt.Sprintf("verify aggregate %s", c.Name), Err: err}
		}
		if math.Abs(got-c.Want) > epsilon {
			violations = append(violations,
				fmt.Sprintf("aggregate %s: expected %.2f, found %.2f", c.Name, c.Want, got))
		}
	}
	return violations, nil
}
