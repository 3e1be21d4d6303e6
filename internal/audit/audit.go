// Package audit records append-only compliance events for ticket mutations.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// DefaultTimeout bounds how long Record waits on a sink.
const DefaultTimeout = 2 * time.Second

// Recorder is the engine-facing, fire-and-forget front of a Sink: it stamps
// ids and timestamps and never lets a sink failure reach the caller. A sink
// slower than the timeout, or than the caller's context, is left to finish on
// its own.
type Recorder struct {
	sink    Sink
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock stamps events from now instead of time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTimeout caps the wait on each sink write.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder wraps sink. A nil sink drops events after logging them at debug.
func NewRecorder(sink Sink, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{sink: sink, logger: logger, now: time.Now, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores event, logging rather than returning any failure. It returns
// once the sink is done, the timeout passes, or ctx ends, whichever is first.
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if r.sink == nil {
		r.logger.Debug("audit event dropped", zap.String("event_type", string(event.EventType)))
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	done := make(chan struct{})
	go func() {
		defer cancel()
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("audit sink panicked", zap.Any("panic", rec), zap.Int64("ticket_id", event.TicketID))
			}
		}()
		if err := r.sink.Record(writeCtx, event); err != nil {
			r.logger.Warn("audit sink failed",
				zap.Error(err),
				zap.Int64("ticket_id", event.TicketID),
				zap.String("event_type", string(event.EventType)))
		}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.Warn("audit sink timed out",
			zap.Int64("ticket_id", event.TicketID),
			zap.String("event_type", string(event.EventType)))
	case <-ctx.Done():
		r.logger.Warn("audit write abandoned by caller",
			zap.Int64("ticket_id", event.TicketID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(ctx.Err()))
	}
}

// LogSink writes audit events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a sink over logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, e domain.AuditEvent) error {
	s.logger.Info(string(e.EventType),
		zap.String("audit_id", e.ID),
		zap.Int64("tenant_id", e.TenantID),
		zap.Int64("ticket_id", e.TicketID),
		zap.Int64("actor_id", e.ActorID),
		zap.String("assignment_type", string(e.AssignmentType)),
		zap.String("reason", e.Reason),
		zap.Any("before", e.Before),
		zap.Any("after", e.After),
		zap.Bool("success", e.Success),
		zap.String("error_code", e.ErrorCode),
		zap.Time("timestamp", e.Timestamp))
	return nil
}

// Store is the persistence the StoreSink writes through.
type Store interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
}

// StoreSink appends events to the audit table.
type StoreSink struct {
	store Store
}

// NewStoreSink builds a sink over a repository.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Record(ctx context.Context, e domain.AuditEvent) error {
	return s.store.Create(ctx, &e)
}

// MultiSink fans events out to several sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e domain.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
