package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/payout-engine/internal/core/events"
	"github.com/frahmantamala/payout-engine/internal/notification"
	"github.com/frahmantamala/payout-engine/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish sample payout events through the event bus to exercise subscribers such as notifications`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a sample payout event",
	Long: `Publish a sample batch.finalized, retry.requires_action or subscription.past_due event
with the configured notifier subscribed, then wait for delivery.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishSampleEvent(args[0])
	},
}

var (
	eventRecipient string
	eventEntityID  int64
)

func sampleEvent(eventType string) (events.Event, error) {
	switch eventType {
	case events.EventTypeBatchFinalized:
		return events.NewBatchFinalizedEvent(eventEntityID, "Sample payout batch", "PARTIALLY_COMPLETED", 3, 1, 0), nil
	case events.EventTypeRetryRequiresAction, events.EventTypeSubscriptionPastDue:
		return events.NewRetryEvent(eventType, eventEntityID, eventEntityID, 1, eventRecipient, 9900, 1), nil
	}
	return nil, fmt.Errorf("unsupported event type %q", eventType)
}

func publishSampleEvent(eventType string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	initLogger(cfg)
	log := logger.LoggerWrapper()

	event, err := sampleEvent(eventType)
	if err != nil {
		return err
	}

	bus := events.NewEventBus(log)
	bus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		log.Info("cli handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})
	notification.NewNotifier(notification.Config{
		APIKey:       cfg.Notification.SendGridAPIKey,
		FromAddress:  cfg.Notification.FromAddress,
		FromName:     cfg.Notification.FromName,
		AdminAddress: cfg.Notification.AdminAddress,
	}, log).Subscribe(bus)

	log.Info("publishing sample event", "event_type", eventType, "event_id", event.EventID())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if err := bus.Wait(ctx); err != nil {
		return fmt.Errorf("wait for handlers: %w", err)
	}

	log.Info("sample event delivered")
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventRecipient, "recipient", "customer@example.com", "customer email for retry events")
	publishEventCmd.Flags().Int64Var(&eventEntityID, "id", 1, "batch or retry id carried by the event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
