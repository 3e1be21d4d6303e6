package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

type captureSink struct {
	events []domain.AuditEvent
	err    error
}

func (c *captureSink) Record(_ context.Context, e domain.AuditEvent) error {
	c.events = append(c.events, e)
	return c.err
}

type panicSink struct{}

func (panicSink) Record(context.Context, domain.AuditEvent) error { panic("sink down") }

func TestRecorderStampsEvent(t *testing.T) {
	sink := &captureSink{}
	r := NewRecorder(sink, zap.NewNop())

	r.Record(context.Background(), domain.AuditEvent{TicketID: 5, EventType: domain.AuditTicketAssigned})

	require.Len(t, sink.events, 1)
	assert.NotEmpty(t, sink.events[0].ID)
	assert.False(t, sink.events[0].Timestamp.IsZero())
}

type blockingSink struct {
	release chan struct{}
	written chan domain.AuditEvent
}

func (b *blockingSink) Record(_ context.Context, e domain.AuditEvent) error {
	<-b.release
	b.written <- e
	return nil
}

func TestRecorderUsesInjectedClock(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sink := &captureSink{}
	r := NewRecorder(sink, zap.NewNop(), WithClock(func() time.Time { return at }))

	r.Record(context.Background(), domain.AuditEvent{TicketID: 5})
	preset := at.Add(-time.Hour)
	r.Record(context.Background(), domain.AuditEvent{TicketID: 5, Timestamp: preset})

	require.Len(t, sink.events, 2)
	assert.Equal(t, at, sink.events[0].Timestamp)
	assert.Equal(t, preset, sink.events[1].Timestamp)
}

func TestRecorderDoesNotWaitOnStalledSink(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		ctx     func() (context.Context, context.CancelFunc)
	}{
		{
			name:    "recorder timeout",
			timeout: 50 * time.Millisecond,
			ctx:     func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
		},
		{
			name:    "caller deadline",
			timeout: time.Minute,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &blockingSink{release: make(chan struct{}), written: make(chan domain.AuditEvent, 1)}
			r := NewRecorder(sink, zap.NewNop(), WithTimeout(tt.timeout))
			ctx, cancel := tt.ctx()
			defer cancel()

			start := time.Now()
			r.Record(ctx, domain.AuditEvent{TicketID: 3})
			assert.Less(t, time.Since(start), time.Second)

			// the write still lands once the sink recovers
			close(sink.release)
			select {
			case e := <-sink.written:
				assert.Equal(t, int64(3), e.TicketID)
			case <-time.After(time.Second):
				t.Fatal("stalled write never completed")
			}
		})
	}
}

func TestRecorderSwallowsSinkFailures(t *testing.T) {
	failing := &captureSink{err: errors.New("db down")}
	ok := &captureSink{}

	r := NewRecorder(MultiSink{failing, ok}, zap.NewNop())
	assert.NotPanics(t, func() {
		r.Record(context.Background(), domain.AuditEvent{TicketID: 1})
	})
	assert.Len(t, ok.events, 1)

	r = NewRecorder(panicSink{}, zap.NewNop())
	assert.NotPanics(t, func() {
		r.Record(context.Background(), domain.AuditEvent{TicketID: 1})
	})
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	err := MultiSink{&captureSink{err: errors.New("a")}, &captureSink{err: errors.New("b")}}.
		Record(context.Background(), domain.AuditEvent{})
	assert.ErrorContains(t, err, "a")
	assert.ErrorContains(t, err, "b")
}
