package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/frahmantamala/payout-engine/internal/payment"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/transfer"
)

type Config struct {
	SecretKey string
	// APIURL points the client at another Stripe-compatible endpoint when set.
	APIURL            string
	MaxNetworkRetries int64
	// TransientAttempts bounds our own retries of 5xx, 429 and network failures.
	TransientAttempts uint
	RetryDelay        time.Duration
	HTTPTimeout       time.Duration
}

// Client is the Stripe rail: transfers to connected accounts and confirmed payment intents.
type Client struct {
	transfers      transfer.Client
	paymentIntents paymentintent.Client
	attempts       uint
	delay          time.Duration
	logger         *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.TransientAttempts == 0 {
		cfg.TransientAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.HTTPTimeout},
		LeveledLogger:     &leveledLogger{logger: logger.With("component", "stripe")},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &Client{
		transfers:      transfer.Client{B: backend, Key: cfg.SecretKey},
		paymentIntents: paymentintent.Client{B: backend, Key: cfg.SecretKey},
		attempts:       cfg.TransientAttempts,
		delay:          cfg.RetryDelay,
		logger:         logger,
	}
}

// CreateTransfer moves funds to a connected account. The idempotency key makes replays after
// a transient failure, or after a crash between transfer and record, land on the same transfer.
func (c *Client) CreateTransfer(ctx context.Context, req payment.TransferRequest) (*TransferResult, error) {
	if req.AmountMinorUnits <= 0 {
		return nil, errors.New("transfer amount must be greater than 0")
	}
	if req.DestinationAccountID == "" {
		return nil, errors.New("transfer destination is required")
	}

	tr, err := retry.DoWithData(func() (*stripe.Transfer, error) {
		params := &stripe.TransferParams{
			Amount:      stripe.Int64(req.AmountMinorUnits),
			Currency:    stripe.String(string(stripe.CurrencyUSD)),
			Destination: stripe.String(req.DestinationAccountID),
			Description: stripe.String(req.Description),
			Metadata: map[string]string{
				"payment_id": fmt.Sprintf("%d", req.PaymentID),
			},
		}
		params.Context = ctx
		params.SetIdempotencyKey(req.IdempotencyKey)
		return c.transfers.New(params)
	}, c.retryOptions(ctx, "transfer", req.IdempotencyKey)...)
	if err != nil {
		c.logger.Error("stripe transfer failed",
			"payment_id", req.PaymentID,
			"destination", req.DestinationAccountID,
			"error", err)
		return nil, describe(err)
	}

	c.logger.Info("stripe transfer created",
		"payment_id", req.PaymentID,
		"transfer_id", tr.ID,
		"amount_minor", req.AmountMinorUnits)
	return &TransferResult{ID: tr.ID, Status: "created"}, nil
}

// CreateChargeAttempt confirms an off-session payment intent against the customer's saved
// payment method. Card refusals come back as *DeclineError.
func (c *Client) CreateChargeAttempt(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid charge request: %w", err)
	}

	pi, err := retry.DoWithData(func() (*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{
			Amount:     stripe.Int64(req.AmountMinorUnits),
			Currency:   stripe.String(string(stripe.CurrencyUSD)),
			Customer:   stripe.String(req.CustomerBillingID),
			Confirm:    stripe.Bool(true),
			OffSession: stripe.Bool(true),
		}
		if req.PaymentMethodID != "" {
			params.PaymentMethod = stripe.String(req.PaymentMethodID)
		}
		if req.Description != "" {
			params.Description = stripe.String(req.Description)
		}
		params.Context = ctx
		params.SetIdempotencyKey(req.IdempotencyKey)
		return c.paymentIntents.New(params)
	}, c.retryOptions(ctx, "payment_intent", req.IdempotencyKey)...)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			decline := &DeclineError{
				Code:        string(stripeErr.Code),
				DeclineCode: string(stripeErr.DeclineCode),
				Message:     stripeErr.Msg,
			}
			if stripeErr.PaymentIntent != nil {
				decline.ChargeID = stripeErr.PaymentIntent.ID
			}
			c.logger.Warn("stripe charge declined",
				"customer", req.CustomerBillingID,
				"code", decline.Code,
				"decline_code", decline.DeclineCode)
			return nil, decline
		}
		c.logger.Error("stripe charge failed", "customer", req.CustomerBillingID, "error", err)
		return nil, describe(err)
	}

	result := &ChargeResult{ID: pi.ID, RawStatus: string(pi.Status)}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = ChargeSucceeded
	case stripe.PaymentIntentStatusRequiresAction:
		result.Status = ChargeRequiresAction
	default:
		result.Status = ChargeOther
	}

	c.logger.Info("stripe charge attempted",
		"customer", req.CustomerBillingID,
		"payment_intent_id", pi.ID,
		"status", pi.Status)
	return result, nil
}

func (c *Client) retryOptions(ctx context.Context, op, key string) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying stripe call",
				"operation", op,
				"idempotency_key", key,
				"attempt", n+1,
				"error", err)
		}),
	}
}

// isTransient reports whether replaying the same idempotent request may succeed.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	// anything that never produced a Stripe response is a network failure
	return true
}

func describe(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code != "" {
			return fmt.Errorf("stripe %s (%s): %s", stripeErr.Type, stripeErr.Code, stripeErr.Msg)
		}
		return fmt.Errorf("stripe %s: %s", stripeErr.Type, stripeErr.Msg)
	}
	return fmt.Errorf("stripe request failed: %w", err)
}

// leveledLogger routes stripe-go's own logging into slog.
type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
