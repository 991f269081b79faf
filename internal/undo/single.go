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

// Outcome reports what a single undo did.
type Outcome struct {
	RecordID     string               `json:"record_id"`
	Kind         domain.OperationKind `json:"kind"`
	Applied      bool                 `json:"applied"`
	Unsupported  bool                 `json:"unsupported"`
	Violations   []string             `json:"violations,omitempty"`
	UndoRecordID string               `json:"undo_record_id"`
}

// SingleCoordinator implements "undo my last action" for one actor/scope.
// Authorization happens at the dispatch boundary before any call lands here.
type SingleCoordinator struct {
	repo     store.Repository
	registry *Registry
	verifier *Verifier
	sessions *SessionTracker
	dates    *DateLock
	sink     notify.Sink
}

// NewSingleCoordinator wires the single-undo coordinator.
func NewSingleCoordinator(repo store.Repository, registry *Registry, verifier *Verifier, sessions *SessionTracker, dates *DateLock, sink notify.Sink) *SingleCoordinator {
	return &SingleCoordinator{
		repo:     repo,
		registry: registry,
		verifier: verifier,
		sessions: sessions,
		dates:    dates,
		sink:     sink,
	}
}

// Sessions exposes the tracker so mutation handlers can reset counters.
func (c *SingleCoordinator) Sessions() *SessionTracker {
	return c.sessions
}

// UndoLast compensates the most recent non-undone record in the scope.
// The record is claimed undone only after its compensation succeeds, so a
// failed strategy leaves the record active and the session counter unchanged.
func (c *SingleCoordinator) UndoLast(ctx context.Context, actorID, scopeID int64) (*Outcome, error) {
	if !c.sessions.Allowed(actorID, scopeID) {
		return nil, ErrLimitExceeded
	}

	rec, err := c.repo.LatestActiveOperation(ctx, scopeID)
	if err != nil {
		return nil, &StorageError{Op: "find latest operation", Err: err}
	}
	if rec == nil {
		return nil, ErrNothingToUndo
	}

	// Serialize against a batch restore walking the same day.
	release := c.dates.Acquire(rec.CreatedAt)
	defer release()

	// Re-read under the lock; a batch restore may have claimed it meanwhile.
	rec, err = c.repo.GetOperation(ctx, rec.ID)
	if err != nil {
		return nil, &StorageError{Op: "read operation", Err: err}
	}
	if rec == nil || rec.IsUndone {
		return nil, store.ErrAlreadyUndone
	}

	effect, err := c.registry.Compensate(ctx, rec)
	if err != nil {
		c.notify(ctx, "undo_failed",
			fmt.Sprintf("undo of %s (%s) failed: %v", rec.ID, rec.Kind, err))
		return nil, err
	}

	if err := c.repo.ClaimUndone(ctx, rec.ID); err != nil {
		c.notify(ctx, "undo_claim_failed",
			fmt.Sprintf("undo of %s (%s): compensation applied but claim failed: %v", rec.ID, rec.Kind, err))
		if err == store.ErrAlreadyUndone {
			return nil, err
		}
		return nil, &StorageError{Op: "claim operation", Err: err}
	}

	outcome := &Outcome{
		RecordID:    rec.ID,
		Kind:        rec.Kind,
		Applied:     effect.Applied,
		Unsupported: effect.Unsupported,
	}

	if effect.Applied {
		violations, err := c.verifier.Verify(ctx, effect.Checks)
		if err != nil {
			// The compensation stands; report the check failure instead.
			violations = append(violations, fmt.Sprintf("verification failed: %v", err))
		}
		outcome.Violations = violations
	}

	undoRec := &domain.OperationRecord{
		ID:        domain.NewRecordID(),
		ActorID:   actorID,
		ScopeID:   scopeID,
		Kind:      domain.KindUndo,
		Payload:   domain.UndoPayload{OriginalID: rec.ID},
		CreatedAt: time.Now().UTC(),
	}
	if err := c.repo.AppendOperation(ctx, undoRec); err != nil {
		// The compensation is applied and the record claimed; a missing undo
		// record is a recoverable inconsistency the admins must resolve.
		c.notify(ctx, "undo_log_failed",
			fmt.Sprintf("undo of %s applied but logging the undo record failed: %v", rec.ID, err))
		return nil, &StorageError{Op: "append undo record", Err: err}
	}
	outcome.UndoRecordID = undoRec.ID

	c.sessions.Increment(actorID, scopeID)

	event := "undo_applied"
	text := fmt.Sprintf("undone %s (%s), violations: %d", rec.ID, rec.Kind, len(outcome.Violations))
	if effect.Unsupported {
		event = "undo_unsupported_kind"
		text = fmt.Sprintf("marked %s (%s) undone without rollback: kind not supported by this build", rec.ID, rec.Kind)
	}
	c.notify(ctx, event, text)

	return outcome, nil
}

func (c *SingleCoordinator) notify(ctx context.Context, event, text string) {
	summary := notify.Summary{Event: event, Text: text, At: time.Now().UTC()}
	if err := c.sink.Send(ctx, summary); err != nil {
		slog.Warn("Failed to send undo notification", "event", event, "error", err)
	}
}
