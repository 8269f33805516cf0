package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frahmantamala/payout-engine/internal/core/events"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender is the part of the SendGrid client the notifier uses.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

var _ Sender = (*sendgrid.Client)(nil)

type Config struct {
	APIKey       string
	FromAddress  string
	FromName     string
	AdminAddress string
}

// Notifier emails batch summaries to the admin mailbox and payment-action requests to
// customers. Delivery is fire-and-forget; failures are logged only.
type Notifier struct {
	sender Sender
	cfg    Config
	logger *slog.Logger
}

// NewNotifier returns nil when no API key is configured, which Subscribe treats as disabled.
func NewNotifier(cfg Config, logger *slog.Logger) *Notifier {
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Info("notification delivery disabled: no SendGrid API key configured")
		return nil
	}
	return NewNotifierWithSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func NewNotifierWithSender(sender Sender, cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, cfg: cfg, logger: logger}
}

type subscriber interface {
	Subscribe(eventType string, handler events.Handler)
}

func (n *Notifier) Subscribe(bus subscriber) {
	if n == nil {
		return
	}
	bus.Subscribe(events.EventTypeBatchFinalized, n.HandleBatchFinalized)
	bus.Subscribe(events.EventTypeRetryRequiresAction, n.HandleRetryRequiresAction)
	bus.Subscribe(events.EventTypeSubscriptionPastDue, n.HandleSubscriptionPastDue)
}

func (n *Notifier) HandleBatchFinalized(ctx context.Context, event events.Event) error {
	ev, ok := event.(*events.BatchFinalizedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if n.cfg.AdminAddress == "" {
		return nil
	}

	subject := fmt.Sprintf("Payout batch %q finished: %s", ev.BatchName, ev.Status)
	body := fmt.Sprintf("Batch #%d (%s) finished with status %s.\n\nPaid: %d\nFailed: %d\nSkipped: %d\n",
		ev.BatchID, ev.BatchName, ev.Status, ev.Successful, ev.Failed, ev.Skipped)
	return n.send(ctx, mail.NewEmail("Payouts", n.cfg.AdminAddress), subject, body)
}

func (n *Notifier) HandleRetryRequiresAction(ctx context.Context, event events.Event) error {
	ev, ok := event.(*events.RetryEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if ev.CustomerEmail == "" {
		n.logger.Warn("customer has no email for payment action notice", "customer_id", ev.CustomerID, "retry_id", ev.RetryID)
		return nil
	}

	body := fmt.Sprintf("We could not complete a payment of $%s for your subscription because your bank "+
		"requires you to confirm it. Please sign in and confirm the payment to keep your service active.\n",
		formatCents(ev.AmountMinor))
	return n.send(ctx, mail.NewEmail("", ev.CustomerEmail), "Action needed to complete your payment", body)
}

func (n *Notifier) HandleSubscriptionPastDue(ctx context.Context, event events.Event) error {
	ev, ok := event.(*events.RetryEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if n.cfg.AdminAddress == "" {
		return nil
	}

	subject := fmt.Sprintf("Subscription past due for customer #%d", ev.CustomerID)
	body := fmt.Sprintf("All retries for payment #%d ($%s) failed after %d attempts. The subscription is now PAST_DUE.\n",
		ev.PaymentID, formatCents(ev.AmountMinor), ev.RetryCount)
	return n.send(ctx, mail.NewEmail("Payouts", n.cfg.AdminAddress), subject, body)
}

func (n *Notifier) send(ctx context.Context, to *mail.Email, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromAddress)
	msg := mail.NewSingleEmail(from, subject, to, body, "")

	resp, err := n.sender.Send(msg)
	if err != nil {
		return fmt.Errorf("sending SendGrid email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendGrid API returned error status code= %d, body= %s", resp.StatusCode, resp.Body)
	}

	n.logger.Debug("notification sent", "subject", subject)
	return nil
}

func formatCents(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
