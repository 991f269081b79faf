package undo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vkoval/lendops/internal/domain"
	"github.com/vkoval/lendops/internal/notify"
	"github.com/vkoval/lendops/internal/store"
)

// captureSink records every summary for assertions.
type captureSink struct {
	mu        sync.Mutex
	summaries []notify.Summary
}

func (c *captureSink) Send(_ context.Context, s notify.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, s)
	return nil
}

func (c *captureSink) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]string, len(c.summaries))
	for i, s := range c.summaries {
		events[i] = s.Event
	}
	return events
}

type env struct {
	repo     store.Repository
	registry *Registry
	verifier *Verifier
	sessions *SessionTracker
	sink     *captureSink
	single   *SingleCoordinator
	batch    *BatchCoordinator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})

	e := &env{
		repo:     repo,
		registry: NewRegistry(repo),
		verifier: NewVerifier(repo),
		sessions: NewSessionTracker(3),
		sink:     &captureSink{},
	}
	dates := NewDateLock()
	e.single = NewSingleCoordinator(repo, e.registry, e.verifier, e.sessions, dates, e.sink)
	e.batch = NewBatchCoordinator(repo, e.registry, e.verifier, dates, e.sink)
	return e
}

func (e *env) append(t *testing.T, actor, scope int64, payload domain.Payload, at time.Time) *domain.OperationRecord {
	t.Helper()
	rec := &domain.OperationRecord{
		ID:        domain.NewRecordID(),
		ActorID:   actor,
		ScopeID:   scope,
		Kind:      payload.Kind(),
		Payload:   payload,
		CreatedAt: at,
	}
	if err := e.repo.AppendOperation(context.Background(), rec); err != nil {
		t.Fatalf("AppendOperation failed: %v", err)
	}
	return rec
}

func (e *env) seedAggregate(t *testing.T, name string, value float64) {
	t.Helper()
	if err := e.repo.AddToAggregate(context.Background(), name, value); err != nil {
		t.Fatalf("Failed to seed aggregate %s: %v", name, err)
	}
}

func (e *env) aggregate(t *testing.T, name string) float64 {
	t.Helper()
	v, err := e.repo.GetAggregate(context.Background(), name)
	if err != nil {
		t.Fatalf("Failed to read aggregate %s: %v", name, err)
	}
	return v
}

func (e *env) putOrder(t *testing.T, order *domain.Order) {
	t.Helper()
	if err := e.repo.PutOrder(context.Background(), order); err != nil {
		t.Fatalf("PutOrder failed: %v", err)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
