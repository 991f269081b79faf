// Package notify delivers structured outcome summaries to admin recipients.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Summary is one structured outcome message for the admin channel.
type Summary struct {
	Event string    `json:"event"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Sink receives outcome summaries. Delivery failures must never fail the
// undo or restore that produced the summary; callers log and move on.
type Sink interface {
	Send(ctx context.Context, s Summary) error
}

// LogSink writes summaries to the structured log. Used standalone in
// development and as a safety net inside Multi.
type LogSink struct{}

// Send logs the summary.
func (LogSink) Send(_ context.Context, s Summary) error {
	slog.Info("Admin notification", "event", s.Event, "text", s.Text)
	return nil
}

// Multi fans a summary out to every sink, logging individual failures.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks into one.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Send delivers to all sinks; it never returns an error because notification
// failure is never allowed to fail the operation being reported.
func (m *Multi) Send(ctx context.Context, s Summary) error {
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, s); err != nil {
			slog.Warn("Failed to deliver admin notification", "event", s.Event, "error", err)
		}
	}
	return nil
}
