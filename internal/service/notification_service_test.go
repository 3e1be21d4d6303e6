package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
)

type webhookRecorder struct {
	mu       sync.Mutex
	received []Notification
	status   int
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var n Notification
	_ = json.NewDecoder(r.Body).Decode(&n)
	w.mu.Lock()
	w.received = append(w.received, n)
	status := w.status
	w.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	rw.WriteHeader(status)
}

func (w *webhookRecorder) Received() []Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Notification(nil), w.received...)
}

func newWebhook(t *testing.T, status int) (*webhookRecorder, string) {
	t.Helper()
	rec := &webhookRecorder{status: status}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	return rec, srv.URL
}

func TestNotifyPostsToWebhook(t *testing.T) {
	rec, url := newWebhook(t, 0)
	svc := NewNotificationService(nil, zap.NewNop(), config.NotificationConfig{WebhookURL: url, TimeoutSeconds: 2})

	err := svc.Notify(context.Background(), Notification{Recipient: "ops@example.com", Subject: "T00007 escalated", TicketID: 7})
	require.NoError(t, err)

	got := rec.Received()
	require.Len(t, got, 1)
	assert.Equal(t, "T00007 escalated", got[0].Subject)
	assert.Equal(t, int64(7), got[0].TicketID)
}

func TestNotifyWebhookFailure(t *testing.T) {
	_, url := newWebhook(t, http.StatusBadGateway)
	svc := NewNotificationService(nil, zap.NewNop(), config.NotificationConfig{WebhookURL: url, TimeoutSeconds: 2})

	err := svc.Notify(context.Background(), Notification{Subject: "x", TicketID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNotifyWithoutWebhookIsNoop(t *testing.T) {
	svc := NewNotificationService(nil, nil, config.NotificationConfig{EmailFrom: "noreply@example.com"})
	assert.NoError(t, svc.Notify(context.Background(), Notification{Recipient: "a@example.com", Subject: "x"}))
}

func TestRegisterHandlersForwardsEvents(t *testing.T) {
	rec, url := newWebhook(t, 0)
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	svc := NewNotificationService(dispatcher, zap.NewNop(), config.NotificationConfig{WebhookURL: url, TimeoutSeconds: 2})
	svc.RegisterHandlers()
	ctx := context.Background()
	actor := &domain.Actor{ID: 1, TenantID: 1}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketAssigned, 3, actor, at, events.TicketAssignedPayload{
		Current:        domain.Assignee{Kind: domain.AssigneePerson, ID: 4, Name: "ana"},
		AssignmentType: domain.AssignmentIndividual,
		Email:          "ana@example.com",
	})))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketStatusChanged, 3, actor, at, events.TicketStatusChangedPayload{
		OldStatus: domain.TicketStatusNew,
		NewStatus: domain.TicketStatusAssigned,
	})))
	require.NoError(t, dispatcher.Publish(ctx, events.New(events.EventTicketEscalated, 3, actor, at, events.TicketEscalatedPayload{})))

	got := rec.Received()
	require.Len(t, got, 2, "escalations are notified by the engine, not the subscription")
	assert.Equal(t, events.EventTicketAssigned, got[0].EventType)
	assert.Equal(t, "ana@example.com", got[0].Recipient)
	assert.Contains(t, got[0].Body, "person ana")
	assert.Equal(t, "Ticket 3 is now ASSIGNED", got[1].Subject)
}
