package undo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vkoval/lendops/internal/domain"
	"github.com/vkoval/lendops/internal/notify"
	"github.com/vkoval/lendops/internal/store"
)

// maxBatchErrors caps how many per-item error strings a BatchResult carries.
const maxBatchErrors = 10

// BatchResult summarizes one best-effort restore run.
type BatchResult struct {
	Total        int      `json:"total"`
	SuccessCount int      `json:"success_count"`
	FailCount    int      `json:"fail_count"`
	Errors       []string `json:"errors,omitempty"`
	Violations   int      `json:"violations"`
}

// BatchCoordinator rolls an entire day back: every non-undone record of the
// date, across all actors and scopes, in strictly descending created_at
// order, so dependent mutations unwind before the mutations they built on.
// The per-actor consecutive-undo cap does not apply here.
type BatchCoordinator struct {
	repo     store.Repository
	registry *Registry
	verifier *Verifier
	dates    *DateLock
	sink     notify.Sink
}

// NewBatchCoordinator wires the day-restore coordinator.
func NewBatchCoordinator(repo store.Repository, registry *Registry, verifier *Verifier, dates *DateLock, sink notify.Sink) *BatchCoordinator {
	return &BatchCoordinator{
		repo:     repo,
		registry: registry,
		verifier: verifier,
		dates:    dates,
		sink:     sink,
	}
}

// Preview returns how many records Execute would attempt for the date.
// Restore is irreversible in bulk, so callers confirm with this count first.
func (c *BatchCoordinator) Preview(ctx context.Context, day time.Time) (int, error) {
	recs, err := c.repo.ListOperationsByDate(ctx, day)
	if err != nil {
		return 0, &StorageError{Op: "list operations by date", Err: err}
	}

	eligible := 0
	for _, rec := range recs {
		if eligibleForRestore(rec) {
			eligible++
		}
	}
	return eligible, nil
}

// Execute compensates every eligible record of the date, best-effort: a
// failing item is recorded and the run continues. Already-undone records are
// skipped, which makes an interrupted run resumable by re-invoking on the
// same date. Cancellation stops issuing new compensations between items;
// applied ones stay applied.
func (c *BatchCoordinator) Execute(ctx context.Context, day time.Time) (*BatchResult, error) {
	release := c.dates.Acquire(day)
	defer release()

	recs, err := c.repo.ListOperationsByDate(ctx, day)
	if err != nil {
		return nil, &StorageError{Op: "list operations by date", Err: err}
	}

	result := &BatchResult{}
	// ListOperationsByDate is ascending; walk it back to front.
	for i := len(recs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			slog.Warn("Batch restore cancelled, stopping", "date", day.Format("2006-01-02"),
				"processed", result.SuccessCount+result.FailCount)
			break
		}

		rec := recs[i]
		if !eligibleForRestore(rec) {
			continue
		}

		result.Total++
		violations, err := c.restoreOne(ctx, rec)
		if err != nil {
			result.FailCount++
			if len(result.Errors) < maxBatchErrors {
				result.Errors = append(result.Errors, err.Error())
			}
			slog.Error("Batch restore item failed", "record_id", rec.ID, "kind", rec.Kind, "error", err)
			continue
		}
		result.SuccessCount++
		result.Violations += len(violations)
		for _, v := range violations {
			slog.Warn("Consistency violation after batch compensation", "record_id", rec.ID, "violation", v)
		}
	}

	c.notifyResult(ctx, day, result)
	return result, nil
}

// restoreOne compensates a single record: compensate, then claim, verify and
// append the undo record, mirroring the single-undo ordering.
func (c *BatchCoordinator) restoreOne(ctx context.Context, rec *domain.OperationRecord) ([]string, error) {
	effect, err := c.registry.Compensate(ctx, rec)
	if err != nil {
		return nil, err
	}

	if err := c.repo.ClaimUndone(ctx, rec.ID); err != nil {
		if err == store.ErrAlreadyUndone {
			return nil, err
		}
		return nil, &StorageError{Op: "claim operation", Err: err}
	}

	var violations []string
	if effect.Applied {
		violations, err = c.verifier.Verify(ctx, effect.Checks)
		if err != nil {
			violations = append(violations, fmt.Sprintf("verification failed: %v", err))
		}
	}

	undoRec := &domain.OperationRecord{
		ID:        domain.NewRecordID(),
		ActorID:   rec.ActorID,
		ScopeID:   rec.ScopeID,
		Kind:      domain.KindUndo,
		Payload:   domain.UndoPayload{OriginalID: rec.ID},
		CreatedAt: time.Now().UTC(),
	}
	if err := c.repo.AppendOperation(ctx, undoRec); err != nil {
		return violations, &StorageError{Op: "append undo record", Err: err}
	}
	return violations, nil
}

func eligibleForRestore(rec *domain.OperationRecord) bool {
	return !rec.IsUndone && rec.Kind != domain.KindUndo
}

func (c *BatchCoordinator) notifyResult(ctx context.Context, day time.Time, result *BatchResult) {
	text := fmt.Sprintf("restore %s: total=%d success=%d failed=%d violations=%d",
		day.Format("2006-01-02"), result.Total, result.SuccessCount, result.FailCount, result.Violations)
	for _, e := range result.Errors {
		text += "\n- " + e
	}
	summary := notify.Summary{Event: "batch_restore", Text: text, At: time.Now().UTC()}
	if err := c.sink.Send(ctx, summary); err != nil {
		slog.Warn("Failed to send batch restore notification", "error", err)
	}
}
