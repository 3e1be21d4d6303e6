package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/events"
)

// Notification is a single outbound message about a ticket.
type Notification struct {
	Recipient string           `json:"recipient,omitempty"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
	TicketID  int64            `json:"ticket_id"`
	EventType events.EventType `json:"event_type"`
}

// Notifier delivers notifications. Callers treat delivery failures as
// non-fatal.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notify"),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events. Escalations notify directly from the
// engine and are not handled here.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketAutoCreated, n.handleTicketAutoCreated)
}

// Notify sends n by email (when it has a recipient) and to the webhook (when
// one is configured).
func (n *NotificationService) Notify(ctx context.Context, msg Notification) error {
	n.sendEmail(ctx, msg)
	return n.sendWebhook(ctx, msg)
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return nil
	}
	return n.Notify(ctx, Notification{
		Subject:   fmt.Sprintf("Ticket %d is now %s", event.TicketID, p.NewStatus),
		Body:      fmt.Sprintf("Status changed from %s to %s.", p.OldStatus, p.NewStatus),
		TicketID:  event.TicketID,
		EventType: event.Type,
	})
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return nil
	}
	return n.Notify(ctx, Notification{
		Recipient: p.Email,
		Subject:   fmt.Sprintf("Ticket %d assigned", event.TicketID),
		Body:      fmt.Sprintf("Assigned to %s %s (%s).", strings.ToLower(string(p.Current.Kind)), p.Current.Name, p.AssignmentType),
		TicketID:  event.TicketID,
		EventType: event.Type,
	})
}

func (n *NotificationService) handleTicketAutoCreated(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.TicketAutoCreatedPayload)
	if !ok {
		return nil
	}
	return n.Notify(ctx, Notification{
		Subject:   fmt.Sprintf("Ticket %s opened for %s finding", p.Number, p.Severity),
		Body:      fmt.Sprintf("Finding %q at site %d opened ticket %s.", p.FindingType, p.SiteID, p.Number),
		TicketID:  event.TicketID,
		EventType: event.Type,
	})
}

func (n *NotificationService) sendEmail(_ context.Context, msg Notification) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" || strings.TrimSpace(msg.Recipient) == "" {
		return
	}
	n.logger.Info("email notification",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("to", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.Int64("ticket_id", msg.TicketID),
		zap.String("event_type", string(msg.EventType)))
}

func (n *NotificationService) sendWebhook(ctx context.Context, msg Notification) error {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	agent := fiber.Post(url).JSON(msg).Timeout(n.cfg.Timeout())
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook %s: %w", url, errs[0])
	}
	if code >= fiber.StatusBadRequest {
		return fmt.Errorf("webhook %s: status %d: %s", url, code, strings.TrimSpace(string(body)))
	}
	n.logger.Debug("webhook delivered",
		zap.Int64("ticket_id", msg.TicketID),
		zap.String("event_type", string(msg.EventType)),
		zap.Int("status", code))
	return nil
}
