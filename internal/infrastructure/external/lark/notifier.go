package lark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/application/dispatcher"
	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/domain/event"
)

// NotifierName is the dispatcher handler name of the notifier
const NotifierName = "lark-notifier"

// Notifier delivers notification events to their recipients over Lark
type Notifier struct {
	sender port.MessageSender
	actors port.ActorRepository
	logger *zap.Logger
}

// NewNotifier creates a notifier. A nil sender logs messages instead of
// sending them.
func NewNotifier(sender port.MessageSender, actors port.ActorRepository, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		actors: actors,
		logger: logger,
	}
}

// Register subscribes the notifier to every notification event type
func (n *Notifier) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll(event.NotificationTypes(), NotifierName, n.Handle)
}

// Handle sends one message per recipient. A recipient without a Lark
// account is skipped; delivery failures are logged and returned together.
func (n *Notifier) Handle(ctx context.Context, evt *event.Event) error {
	text := n.compose(ctx, evt)

	var errs []error
	for _, id := range evt.Recipients {
		actor, err := n.actors.GetByID(ctx, id)
		if err != nil {
			n.logger.Error("Failed to load recipient", zap.String("actor_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if actor == nil || actor.LarkOpenID == "" {
			n.logger.Info("Recipient has no Lark account, skipping",
				zap.String("actor_id", id),
				zap.String("invoice_id", evt.InvoiceID))
			continue
		}

		if n.sender == nil {
			n.logger.Info("Notification",
				zap.String("event_type", evt.Type.String()),
				zap.String("actor_id", id),
				zap.String("text", text))
			continue
		}

		if err := n.sender.SendMessage(ctx, actor.LarkOpenID, text); err != nil {
			n.logger.Error("Failed to deliver notification",
				zap.String("event_type", evt.Type.String()),
				zap.String("invoice_id", evt.InvoiceID),
				zap.String("actor_id", id),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("notify %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) compose(ctx context.Context, evt *event.Event) string {
	by := evt.GetPayloadString(event.KeyActorID)
	if by != "" {
		if actor, err := n.actors.GetByID(ctx, by); err == nil && actor != nil {
			by = actor.DisplayName()
		}
	}

	var verb string
	switch evt.Type {
	case event.TypeInvoiceFinanceRejected:
		verb = "was rejected by finance"
	case event.TypeInvoicePMRejected:
		verb = "was rejected by the project manager"
	case event.TypeInvoicePMApproved:
		verb = "was approved by the project manager and is ready for payment"
	default:
		verb = "changed: " + evt.Type.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s %s", evt.InvoiceID, verb)
	if by != "" {
		fmt.Fprintf(&b, " (%s)", by)
	}
	if notes := evt.GetPayloadString(event.KeyNotes); notes != "" {
		fmt.Fprintf(&b, ".\nNotes: %s", notes)
	}
	return b.String()
}
