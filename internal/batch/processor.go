package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"github.com/frahmantamala/payout-engine/internal/core/events"
	"github.com/frahmantamala/payout-engine/internal/payment"
	"github.com/google/uuid"
)

const DefaultClaimLease = 10 * time.Minute

// Processor executes scheduled batches one member payment at a time. Each payment is claimed
// before its rail is called, so concurrent runs against the same batch never dispatch twice.
type Processor struct {
	repo       Repository
	router     *payment.Router
	rail       Rail
	publisher  events.Publisher
	metrics    Metrics
	claimLease time.Duration
	logger     *slog.Logger
	now        func() time.Time
	newToken   func() string
}

func NewProcessor(repo Repository, router *payment.Router, rail Rail, publisher events.Publisher, metrics Metrics, claimLease time.Duration, logger *slog.Logger) *Processor {
	if claimLease <= 0 {
		claimLease = DefaultClaimLease
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Processor{
		repo:       repo,
		router:     router,
		rail:       rail,
		publisher:  publisher,
		metrics:    metrics,
		claimLease: claimLease,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newToken:   uuid.NewString,
	}
}

// ProcessBatch runs every APPROVED member of the batch through the router and its rail.
// Per-payment failures are reported in the result; only loading the batch, its status guard
// and data-layer faults fail the call.
func (p *Processor) ProcessBatch(ctx context.Context, actorID, batchID int64, requested paymentmodel.Method) (*ProcessResult, error) {
	if err := requested.Validate(); err != nil {
		return nil, internal.NewValidationFieldError("payment_method", err.Error(), internal.ErrCodeInvalidMethod)
	}

	b, err := p.repo.GetBatchWithPayments(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !b.Status.IsProcessable() {
		return nil, ErrNotProcessable.WithDetails(map[string]interface{}{"status": b.Status})
	}

	if err := p.enterProcessing(ctx, actorID, b); err != nil {
		return nil, err
	}

	log := p.logger.With("batch_id", b.ID, "method", requested)
	log.Info("processing batch", "members", len(b.Payments), "actor_id", actorID)

	result := &ProcessResult{
		BatchID: b.ID,
		Status:  paymentmodel.BatchStatusProcessing,
		Results: ProcessResults{Processed: []PaymentOutcome{}, Errors: []PaymentError{}},
	}

	for i := range b.Payments {
		pm := &b.Payments[i]
		if pm.Status == paymentmodel.StatusPaid {
			continue
		}
		if ctx.Err() != nil {
			// members not reached stay APPROVED for a later run but are still reported
			log.Warn("batch run interrupted, payment left for a later run", "payment_id", pm.ID, "error", ctx.Err())
			result.Results.add(PaymentOutcome{
				PaymentID: pm.ID,
				Outcome:   OutcomeSkipped,
				Reason:    "interrupted: " + ctx.Err().Error(),
			})
			continue
		}
		if pm.Status != paymentmodel.StatusApproved {
			result.Results.add(PaymentOutcome{
				PaymentID: pm.ID,
				Outcome:   OutcomeSkipped,
				Reason:    "status is " + string(pm.Status),
			})
			continue
		}

		outcome, err := p.processPayment(ctx, actorID, b, pm, requested)
		if err != nil {
			log.Error("batch run aborted by data error", "payment_id", pm.ID, "error", err)
			return nil, internal.NewInternalError("failed to process batch", err)
		}
		result.Results.add(outcome)
	}

	status, err := p.finalize(context.WithoutCancel(ctx), actorID, b, result.Results)
	if err != nil {
		log.Error("failed to finalize batch", "error", err)
		return nil, internal.NewInternalError("failed to finalize batch", err)
	}
	result.Status = status

	log.Info("batch run finished",
		"status", status,
		"successful", result.Results.Successful,
		"failed", result.Results.Failed,
		"skipped", result.Results.Skipped)
	return result, nil
}

func (r *ProcessResults) add(o PaymentOutcome) {
	r.Processed = append(r.Processed, o)
	switch o.Outcome {
	case OutcomePaid:
		r.Successful++
	case OutcomeFailed:
		r.Failed++
		r.Errors = append(r.Errors, PaymentError{PaymentID: o.PaymentID, Error: o.Reason})
	case OutcomeSkipped:
		r.Skipped++
	}
}

// enterProcessing moves SCHEDULED to PROCESSING, or re-enters a batch already PROCESSING.
func (p *Processor) enterProcessing(ctx context.Context, actorID int64, b *paymentmodel.Batch) error {
	now := p.now()
	return p.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.TransitionBatch(ctx, b.ID, StatusChange{
			From:          []paymentmodel.BatchStatus{paymentmodel.BatchStatusScheduled},
			To:            paymentmodel.BatchStatusProcessing,
			ProcessedDate: &now,
			At:            now,
		})
		if err != nil {
			return fmt.Errorf("start batch: %w", err)
		}
		if ok {
			b.Status = paymentmodel.BatchStatusProcessing
			return tx.RecordAudit(ctx, audit.Entry{
				Type:       auditmodel.EventBatchStatusChanged,
				EntityType: auditmodel.EntityBatch,
				EntityID:   b.ID,
				ActorID:    audit.Actor(actorID),
				Message:    "Batch processing started",
				Details: map[string]interface{}{
					"from": paymentmodel.BatchStatusScheduled,
					"to":   paymentmodel.BatchStatusProcessing,
				},
			})
		}

		ok, err = tx.TransitionBatch(ctx, b.ID, StatusChange{
			From:          []paymentmodel.BatchStatus{paymentmodel.BatchStatusProcessing},
			To:            paymentmodel.BatchStatusProcessing,
			ProcessedDate: &now,
			At:            now,
		})
		if err != nil {
			return fmt.Errorf("resume batch: %w", err)
		}
		if !ok {
			// finalized by another run since it was loaded
			return ErrNotProcessable
		}
		b.Status = paymentmodel.BatchStatusProcessing
		return nil
	})
}

func (p *Processor) processPayment(ctx context.Context, actorID int64, b *paymentmodel.Batch, pm *paymentmodel.Payment, requested paymentmodel.Method) (PaymentOutcome, error) {
	token := p.newToken()
	now := p.now()
	claimed, err := p.repo.ClaimPayment(ctx, b.ID, pm.ID, token, now, now.Add(-p.claimLease))
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("claim payment %d: %w", pm.ID, err)
	}
	if !claimed {
		return PaymentOutcome{
			PaymentID: pm.ID,
			Outcome:   OutcomeSkipped,
			Reason:    "payment is being processed by another run or is no longer approved",
		}, nil
	}

	profile, err := p.recipientProfile(ctx, pm)
	if err != nil {
		if !errors.Is(err, ErrRecipientNotFound) {
			p.release(ctx, pm.ID, token)
			return PaymentOutcome{}, err
		}
		return p.fail(ctx, actorID, b, pm, token, requested, err.Error())
	}

	decision, err := p.router.Route(pm, profile, requested)
	if err != nil {
		return p.fail(ctx, actorID, b, pm, token, requested, err.Error())
	}

	var transferID *string
	if decision.Action == payment.ActionExternalTransfer {
		if p.rail == nil {
			return p.fail(ctx, actorID, b, pm, token, requested, "transfer rail is not configured")
		}
		res, err := p.rail.CreateTransfer(ctx, *decision.Transfer)
		if err != nil {
			if ctx.Err() != nil {
				// the idempotency key makes a later run safe whether or not the transfer landed
				p.release(ctx, pm.ID, token)
				return PaymentOutcome{PaymentID: pm.ID, Outcome: OutcomeSkipped, Reason: "interrupted: " + ctx.Err().Error()}, nil
			}
			return p.fail(ctx, actorID, b, pm, token, requested, "transfer failed: "+err.Error())
		}
		transferID = &res.ID
	}

	return p.pay(ctx, actorID, b, pm, token, decision, transferID)
}

func (p *Processor) recipientProfile(ctx context.Context, pm *paymentmodel.Payment) (recipient.Profile, error) {
	if err := pm.ValidateRecipient(); err != nil {
		return recipient.Profile{}, ErrRecipientNotFound.WithCause(err)
	}
	switch pm.Type {
	case paymentmodel.TypeEarnings:
		e, err := p.repo.GetEmployee(ctx, *pm.EmployeeID)
		if err != nil {
			return recipient.Profile{}, err
		}
		return e.Profile(), nil
	case paymentmodel.TypeReferral:
		r, err := p.repo.GetReferrer(ctx, *pm.ReferrerID)
		if err != nil {
			return recipient.Profile{}, err
		}
		return r.Profile(), nil
	}
	// the router rejects everything that is not a disbursement
	return recipient.Profile{}, nil
}

func (p *Processor) pay(ctx context.Context, actorID int64, b *paymentmodel.Batch, pm *paymentmodel.Payment, token string, decision *payment.Decision, transferID *string) (PaymentOutcome, error) {
	correlationID := ""
	if transferID != nil {
		correlationID = *transferID
	}
	method := decision.Method
	note := decision.SettlementNote(correlationID)

	settled, err := p.settle(ctx, pm, Settlement{
		PaymentID:        pm.ID,
		ClaimToken:       token,
		Status:           paymentmodel.StatusPaid,
		Method:           &method,
		Note:             note,
		StripeTransferID: transferID,
	}, audit.Entry{
		Type:       auditmodel.EventPaymentProcessed,
		EntityType: auditmodel.EntityPayment,
		EntityID:   pm.ID,
		ActorID:    audit.Actor(actorID),
		Message:    note,
		Details: map[string]interface{}{
			"batch_id":       b.ID,
			"method":         method,
			"action":         decision.Action,
			"amount_minor":   pm.AmountMinorUnits(),
			"correlation_id": correlationID,
		},
	})
	if err != nil {
		return PaymentOutcome{}, err
	}
	if !settled {
		return p.lostClaim(pm), nil
	}

	p.metrics.PaymentProcessed(string(method), string(OutcomePaid))
	p.publish(ctx, events.NewPaymentProcessedEvent(pm.ID, b.ID, string(method), pm.AmountMinorUnits(), correlationID))
	p.logger.Info("payment paid", "batch_id", b.ID, "payment_id", pm.ID, "rail", method, "correlation_id", correlationID)

	return PaymentOutcome{
		PaymentID:     pm.ID,
		Outcome:       OutcomePaid,
		Method:        string(method),
		CorrelationID: correlationID,
	}, nil
}

func (p *Processor) fail(ctx context.Context, actorID int64, b *paymentmodel.Batch, pm *paymentmodel.Payment, token string, requested paymentmodel.Method, reason string) (PaymentOutcome, error) {
	settled, err := p.settle(ctx, pm, Settlement{
		PaymentID:  pm.ID,
		ClaimToken: token,
		Status:     paymentmodel.StatusFailed,
		Note:       "Payment failed: " + reason,
	}, audit.Entry{
		Type:       auditmodel.EventPaymentFailed,
		EntityType: auditmodel.EntityPayment,
		EntityID:   pm.ID,
		ActorID:    audit.Actor(actorID),
		Message:    "Payment failed: " + reason,
		Details: map[string]interface{}{
			"batch_id": b.ID,
			"method":   requested,
			"reason":   reason,
		},
	})
	if err != nil {
		return PaymentOutcome{}, err
	}
	if !settled {
		return p.lostClaim(pm), nil
	}

	p.metrics.PaymentProcessed(string(requested), string(OutcomeFailed))
	p.publish(ctx, events.NewPaymentFailedEvent(pm.ID, b.ID, string(requested), reason))
	p.logger.Warn("payment failed", "batch_id", b.ID, "payment_id", pm.ID, "rail", requested, "reason", reason)

	return PaymentOutcome{
		PaymentID: pm.ID,
		Outcome:   OutcomeFailed,
		Method:    string(requested),
		Reason:    reason,
	}, nil
}

// settle records the outcome in its own transaction, detached from the caller's cancellation
// so a transfer that already happened is never left unrecorded.
func (p *Processor) settle(ctx context.Context, pm *paymentmodel.Payment, s Settlement, entry audit.Entry) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	s.At = p.now()

	settled := false
	err := p.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.SettlePayment(ctx, s)
		if err != nil {
			return fmt.Errorf("settle payment %d: %w", pm.ID, err)
		}
		if !ok {
			return nil
		}
		if s.Status == paymentmodel.StatusPaid && pm.ServiceID != nil {
			if err := tx.MarkServicePaid(ctx, *pm.ServiceID, s.At); err != nil {
				return fmt.Errorf("mark service %d paid: %w", *pm.ServiceID, err)
			}
		}
		settled = true
		return tx.RecordAudit(ctx, entry)
	})
	if err != nil {
		return false, err
	}
	return settled, nil
}

func (p *Processor) lostClaim(pm *paymentmodel.Payment) PaymentOutcome {
	p.logger.Warn("payment claim expired before settlement", "payment_id", pm.ID)
	return PaymentOutcome{
		PaymentID: pm.ID,
		Outcome:   OutcomeSkipped,
		Reason:    "claim expired before the outcome was recorded",
	}
}

func (p *Processor) release(ctx context.Context, paymentID int64, token string) {
	if err := p.repo.ReleaseClaim(context.WithoutCancel(ctx), paymentID, token); err != nil {
		p.logger.Error("failed to release payment claim", "payment_id", paymentID, "error", err)
	}
}

// finalize derives the terminal status from the members' current statuses. Members still
// APPROVED belong to a concurrent or interrupted run, and the batch stays PROCESSING for it.
func (p *Processor) finalize(ctx context.Context, actorID int64, b *paymentmodel.Batch, results ProcessResults) (paymentmodel.BatchStatus, error) {
	counts, err := p.repo.MemberStatusCounts(ctx, b.ID)
	if err != nil {
		return "", fmt.Errorf("count members: %w", err)
	}
	if counts[paymentmodel.StatusApproved] > 0 {
		return paymentmodel.BatchStatusProcessing, nil
	}

	paid, failed := counts[paymentmodel.StatusPaid], counts[paymentmodel.StatusFailed]
	final := paymentmodel.TerminalBatchStatus(paid, failed)
	now := p.now()

	finalized := false
	err = p.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.TransitionBatch(ctx, b.ID, StatusChange{
			From:          final.SourceStatuses(),
			To:            final,
			CompletedDate: &now,
			At:            now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		finalized = true
		return tx.RecordAudit(ctx, audit.Entry{
			Type:       auditmodel.EventBatchFinalized,
			EntityType: auditmodel.EntityBatch,
			EntityID:   b.ID,
			ActorID:    audit.Actor(actorID),
			Message:    fmt.Sprintf("Batch finished as %s: %d paid, %d failed", final, paid, failed),
			Details: map[string]interface{}{
				"status": final,
				"paid":   paid,
				"failed": failed,
			},
		})
	})
	if err != nil {
		return "", err
	}

	if !finalized {
		current, err := p.repo.GetBatch(ctx, b.ID)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}

	p.metrics.BatchFinalized(string(final))
	p.publish(ctx, events.NewBatchFinalizedEvent(b.ID, b.Name, string(final), results.Successful, results.Failed, results.Skipped))
	return final, nil
}

func (p *Processor) publish(ctx context.Context, ev events.Event) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.logger.Error("failed to publish event", "event_type", ev.EventType(), "error", err)
	}
}

type noopMetrics struct{}

func (noopMetrics) PaymentProcessed(string, string) {}
func (noopMetrics) BatchFinalized(string)           {}
