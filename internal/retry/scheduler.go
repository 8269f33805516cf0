package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/billing"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/events"
	"github.com/frahmantamala/payout-engine/internal/paymentgateway"
	"github.com/google/uuid"
)

const (
	DefaultRetryDelay = 72 * time.Hour
	DefaultBatchSize  = 100
	DefaultClaimLease = 15 * time.Minute
)

type Config struct {
	RetryDelay time.Duration
	BatchSize  int
	// ClaimLease is how long a PENDING retry stays leased to the sweep that claimed it.
	ClaimLease time.Duration
}

type SweepResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type attemptOutcome string

const (
	outcomeSucceeded      attemptOutcome = "succeeded"
	outcomeDeclined       attemptOutcome = "declined"
	outcomeRequiresAction attemptOutcome = "requires_action"
	outcomeNoBilling      attemptOutcome = "no_billing_identity"
	outcomeError          attemptOutcome = "error"
	outcomeSkipped        attemptOutcome = "skipped"
)

// Scheduler re-attempts failed subscription charges. Each due retry is claimed, charged and
// closed on its own, so one retry's failure never stops the rest of a sweep.
type Scheduler struct {
	repo      Repository
	charger   Charger
	publisher events.Publisher
	metrics   Metrics
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newToken  func() string
}

func NewScheduler(repo Repository, charger Charger, publisher events.Publisher, metrics Metrics, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Scheduler{
		repo:      repo,
		charger:   charger,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newToken:  uuid.NewString,
	}
}

// Start sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	s.logger.Info("retry scheduler started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunSweep(ctx); err != nil {
			s.logger.Error("retry sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunSweep(ctx context.Context) (*SweepResult, error) {
	if s.charger == nil {
		return nil, ErrNoCharger
	}
	started := s.now()
	due, err := s.repo.DueRetries(ctx, started, started.Add(-s.cfg.ClaimLease), s.cfg.BatchSize)
	if err != nil {
		return nil, internal.NewInternalError("failed to load due retries", err)
	}

	result := &SweepResult{Total: len(due)}
	for i := range due {
		if ctx.Err() != nil {
			s.logger.Warn("retry sweep interrupted", "remaining", len(due)-i, "error", ctx.Err())
			result.Skipped += len(due) - i
			break
		}

		outcome := s.attempt(ctx, &due[i])
		s.metrics.RetryAttempt(string(outcome))
		switch outcome {
		case outcomeSucceeded:
			result.Succeeded++
		case outcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	s.logger.Info("retry sweep finished",
		"total", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

func (s *Scheduler) attempt(ctx context.Context, r *paymentmodel.Retry) attemptOutcome {
	log := s.logger.With("retry_id", r.ID, "payment_id", r.PaymentID, "retry_count", r.RetryCount)

	token := s.newToken()
	now := s.now()
	claimed, err := s.repo.ClaimRetry(ctx, r.ID, token, now, now.Add(-s.cfg.ClaimLease))
	if err != nil {
		log.Error("failed to claim retry", "error", err)
		return outcomeSkipped
	}
	if !claimed {
		log.Debug("retry claimed by another sweep")
		return outcomeSkipped
	}
	if r.Status == paymentmodel.RetryStatusPending {
		// the charge reuses the idempotency key, so a takeover never charges twice
		log.Warn("taking over stale retry claim", "claimed_at", r.ClaimedAt)
	}
	r.Status = paymentmodel.RetryStatusPending
	r.ClaimToken = &token

	// once claimed the retry must be closed even if the sweep is cancelled
	ctx = context.WithoutCancel(ctx)

	p, err := s.repo.GetPayment(ctx, r.PaymentID)
	if err != nil {
		return s.abort(ctx, log, r, fmt.Errorf("load payment: %w", err))
	}

	customer, err := s.customerFor(ctx, p)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return s.noBillingIdentity(ctx, log, r)
		}
		return s.abort(ctx, log, r, fmt.Errorf("load customer: %w", err))
	}
	if !customer.HasBillingIdentity() {
		return s.noBillingIdentity(ctx, log, r)
	}

	req := paymentgateway.ChargeRequest{
		AmountMinorUnits:  p.AmountMinorUnits(),
		CustomerBillingID: *customer.StripeCustomerID,
		IdempotencyKey:    fmt.Sprintf("retry-%d", r.ID),
		Description:       fmt.Sprintf("Retry %d for payment #%d", r.RetryCount, p.ID),
	}
	if customer.DefaultPaymentMethodID != nil {
		req.PaymentMethodID = *customer.DefaultPaymentMethodID
	}

	res, err := s.charger.CreateChargeAttempt(ctx, req)
	if err != nil {
		var decline *paymentgateway.DeclineError
		if errors.As(err, &decline) {
			return s.declined(ctx, log, r, p, customer, decline.Error(), decline.ChargeID)
		}
		return s.abort(ctx, log, r, err)
	}

	switch res.Status {
	case paymentgateway.ChargeSucceeded:
		return s.succeeded(ctx, log, r, p, customer, res.ID)
	case paymentgateway.ChargeRequiresAction:
		return s.requiresAction(ctx, log, r, p, customer, res.ID)
	default:
		return s.declined(ctx, log, r, p, customer, "charge ended with status "+res.RawStatus, res.ID)
	}
}

func (s *Scheduler) customerFor(ctx context.Context, p *paymentmodel.Payment) (*billing.Customer, error) {
	if p.CustomerID == nil {
		return nil, ErrCustomerNotFound
	}
	return s.repo.GetCustomer(ctx, *p.CustomerID)
}

func (s *Scheduler) succeeded(ctx context.Context, log *slog.Logger, r *paymentmodel.Retry, p *paymentmodel.Payment, customer *billing.Customer, intentID string) attemptOutcome {
	now := s.now()
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		if err := s.complete(ctx, tx, r, paymentmodel.RetryStatusSuccess, &intentID, nil, now); err != nil {
			return err
		}

		note := fmt.Sprintf("Charge recovered by retry %d (payment intent %s)", r.RetryCount, intentID)
		recovered, err := tx.RecoverPayment(ctx, p.ID, intentID, note, now)
		if err != nil {
			return fmt.Errorf("recover payment: %w", err)
		}
		if !recovered {
			log.Warn("payment was no longer FAILED when its retry succeeded", "payment_status", p.Status)
		}

		entries := []audit.Entry{{
			Type:       auditmodel.EventRetrySucceeded,
			EntityType: auditmodel.EntityRetry,
			EntityID:   r.ID,
			Message:    "Retry charge succeeded",
			Details:    map[string]interface{}{"payment_id": p.ID, "payment_intent_id": intentID, "retry_count": r.RetryCount},
		}}
		if p.SubscriptionID != nil {
			if err := tx.SetSubscriptionStatus(ctx, *p.SubscriptionID, billing.SubscriptionActive, now); err != nil {
				return fmt.Errorf("reactivate subscription: %w", err)
			}
			entries = append(entries, subscriptionEntry(*p.SubscriptionID, billing.SubscriptionActive, r))
		}
		return tx.RecordAudit(ctx, entries...)
	})
	if err != nil {
		log.Error("failed to record successful retry", "error", err)
		return outcomeError
	}

	log.Info("retry charge succeeded", "payment_intent_id", intentID)
	s.publish(ctx, events.NewRetryEvent(events.EventTypeRetrySucceeded, r.ID, p.ID, customer.ID, customer.Email, p.AmountMinorUnits(), r.RetryCount))
	return outcomeSucceeded
}

// requiresAction closes the retry without a successor; the customer must act first.
func (s *Scheduler) requiresAction(ctx context.Context, log *slog.Logger, r *paymentmodel.Retry, p *paymentmodel.Payment, customer *billing.Customer, intentID string) attemptOutcome {
	msg := MessageRequiresAction
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		if err := s.complete(ctx, tx, r, paymentmodel.RetryStatusFailed, &intentID, &msg, s.now()); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, failedEntry(r, msg))
	})
	if err != nil {
		log.Error("failed to record retry requiring action", "error", err)
		return outcomeError
	}

	log.Warn("retry charge requires customer action", "payment_intent_id", intentID)
	s.publish(ctx, events.NewRetryEvent(events.EventTypeRetryRequiresAction, r.ID, p.ID, customer.ID, customer.Email, p.AmountMinorUnits(), r.RetryCount))
	return outcomeRequiresAction
}

// declined closes the retry and either schedules its successor or, once the chain is
// exhausted, marks the subscription PAST_DUE.
func (s *Scheduler) declined(ctx context.Context, log *slog.Logger, r *paymentmodel.Retry, p *paymentmodel.Payment, customer *billing.Customer, reason, intentID string) attemptOutcome {
	now := s.now()
	var intent *string
	if intentID != "" {
		intent = &intentID
	}

	var successor *paymentmodel.Retry
	pastDue := false
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		if err := s.complete(ctx, tx, r, paymentmodel.RetryStatusFailed, intent, &reason, now); err != nil {
			return err
		}
		entries := []audit.Entry{failedEntry(r, reason)}

		switch {
		case r.CanSchedule():
			successor = r.Successor(now, s.cfg.RetryDelay)
			if err := tx.CreateRetry(ctx, successor); err != nil {
				return fmt.Errorf("create successor retry: %w", err)
			}
			entries = append(entries, scheduledEntry(successor))
		case p.SubscriptionID != nil:
			if err := tx.SetSubscriptionStatus(ctx, *p.SubscriptionID, billing.SubscriptionPastDue, now); err != nil {
				return fmt.Errorf("mark subscription past due: %w", err)
			}
			pastDue = true
			entries = append(entries, subscriptionEntry(*p.SubscriptionID, billing.SubscriptionPastDue, r))
		}
		return tx.RecordAudit(ctx, entries...)
	})
	if err != nil {
		log.Error("failed to record declined retry", "error", err)
		return outcomeError
	}

	if successor != nil {
		log.Info("retry charge declined, successor scheduled",
			"reason", reason,
			"successor_id", successor.ID,
			"next_retry_date", successor.NextRetryDate)
	} else {
		log.Warn("retry chain exhausted", "reason", reason, "subscription_past_due", pastDue)
	}
	if pastDue {
		s.publish(ctx, events.NewRetryEvent(events.EventTypeSubscriptionPastDue, r.ID, p.ID, customer.ID, customer.Email, p.AmountMinorUnits(), r.RetryCount))
	}
	return outcomeDeclined
}

func (s *Scheduler) noBillingIdentity(ctx context.Context, log *slog.Logger, r *paymentmodel.Retry) attemptOutcome {
	if s.fail(ctx, log, r, MessageNoBillingIdentity) {
		log.Warn("retry failed: customer has no billing identity")
	}
	return outcomeNoBilling
}

// abort closes the retry after an unexpected error. No successor is created.
func (s *Scheduler) abort(ctx context.Context, log *slog.Logger, r *paymentmodel.Retry, cause error) attemptOutcome {
	if s.fail(ctx, log, r, cause.Error()) {
		log.Error("retry attempt errored", "error", cause)
	}
	return outcomeError
}

func (s *Scheduler) fail(ctx context.Context, log *slog.Logger, r *paymentmodel.Retry, msg string) bool {
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		if err := s.complete(ctx, tx, r, paymentmodel.RetryStatusFailed, nil, &msg, s.now()); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, failedEntry(r, msg))
	})
	if err != nil {
		log.Error("failed to close retry", "message", msg, "error", err)
		return false
	}
	return true
}

func (s *Scheduler) complete(ctx context.Context, tx Repository, r *paymentmodel.Retry, status paymentmodel.RetryStatus, intentID, msg *string, at time.Time) error {
	if err := r.Status.TransitionTo(status); err != nil {
		return err
	}
	token := ""
	if r.ClaimToken != nil {
		token = *r.ClaimToken
	}
	ok, err := tx.CompleteRetry(ctx, Completion{
		RetryID:               r.ID,
		ClaimToken:            token,
		Status:                status,
		StripePaymentIntentID: intentID,
		ErrorMessage:          msg,
		At:                    at,
	})
	if err != nil {
		return fmt.Errorf("complete retry: %w", err)
	}
	if !ok {
		return fmt.Errorf("retry %d is no longer PENDING under this sweep's claim", r.ID)
	}
	r.Status = status
	return nil
}

// ScheduleRetry opens the first retry for a failed service charge.
func (s *Scheduler) ScheduleRetry(ctx context.Context, actorID, paymentID int64) (*paymentmodel.Retry, error) {
	var created *paymentmodel.Retry
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Type != paymentmodel.TypeService || p.Status != paymentmodel.StatusFailed {
			return ErrNotRetryable.WithDetails(map[string]interface{}{"type": p.Type, "status": p.Status})
		}
		open, err := tx.HasOpenRetry(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("check open retries: %w", err)
		}
		if open {
			return ErrRetryAlreadyOpen
		}

		created = &paymentmodel.Retry{
			PaymentID:     paymentID,
			Status:        paymentmodel.RetryStatusScheduled,
			NextRetryDate: s.now().Add(s.cfg.RetryDelay),
		}
		if err := tx.CreateRetry(ctx, created); err != nil {
			return fmt.Errorf("create retry: %w", err)
		}
		entry := scheduledEntry(created)
		entry.ActorID = audit.Actor(actorID)
		return tx.RecordAudit(ctx, entry)
	})
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			return nil, appErr
		}
		s.logger.Error("failed to schedule retry", "payment_id", paymentID, "error", err)
		return nil, internal.NewInternalError("failed to schedule retry", err)
	}

	s.logger.Info("retry scheduled", "retry_id", created.ID, "payment_id", paymentID, "next_retry_date", created.NextRetryDate)
	return created, nil
}

func (s *Scheduler) ListRetries(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	retries, total, err := s.repo.ListRetries(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list retries", "error", err)
		return nil, internal.NewInternalError("failed to list retries", err)
	}
	return &ListResult{Retries: retries, TotalCount: total}, nil
}

func (s *Scheduler) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("failed to publish event", "event_type", ev.EventType(), "error", err)
	}
}

func failedEntry(r *paymentmodel.Retry, msg string) audit.Entry {
	return audit.Entry{
		Type:       auditmodel.EventRetryFailed,
		EntityType: auditmodel.EntityRetry,
		EntityID:   r.ID,
		Message:    "Retry failed: " + msg,
		Details:    map[string]interface{}{"payment_id": r.PaymentID, "retry_count": r.RetryCount},
	}
}

func scheduledEntry(r *paymentmodel.Retry) audit.Entry {
	return audit.Entry{
		Type:       auditmodel.EventRetryScheduled,
		EntityType: auditmodel.EntityRetry,
		EntityID:   r.ID,
		Message:    fmt.Sprintf("Retry %d scheduled for %s", r.RetryCount, r.NextRetryDate.Format(time.RFC3339)),
		Details:    map[string]interface{}{"payment_id": r.PaymentID, "retry_count": r.RetryCount},
	}
}

func subscriptionEntry(subscriptionID int64, status billing.SubscriptionStatus, r *paymentmodel.Retry) audit.Entry {
	return audit.Entry{
		Type:       auditmodel.EventSubscriptionStatus,
		EntityType: auditmodel.EntitySubscription,
		EntityID:   subscriptionID,
		Message:    "Subscription marked " + string(status),
		Details:    map[string]interface{}{"retry_id": r.ID, "payment_id": r.PaymentID},
	}
}
