// Package processor drives the merchant payment lifecycle from Przelewy24
// gateway signals.
//
// The processor never owns payment state: it requests named transitions
// through the Payment interface and leaves the decision to the host's state
// machine. A transition that is not currently permitted is an expected
// outcome (duplicate or out-of-order notification delivery), not an error.
package processor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/alovak/p24flow/internal/money"
	"github.com/alovak/p24flow/internal/sign"
	"github.com/alovak/p24flow/p24"
)

// Transition names the processor requests on the host payment.
const (
	TransitionConfirmPrepared = "confirm_prepared"
	TransitionConfirmPayment  = "confirm_payment"
	TransitionConfirmRefund   = "confirm_refund"
	TransitionFail            = "fail"
)

// Order exposes the buyer info the gateway needs at registration.
type Order interface {
	BuyerEmail() string
}

// Payment is the narrow view of the host payment object the processor works
// against. The processor never inspects state-machine internals beyond
// requesting named transitions.
type Payment interface {
	ID() string
	Currency() string
	Description() string
	AmountRequired() decimal.Decimal
	AmountPaid() decimal.Decimal
	AmountLocked() decimal.Decimal
	AmountRefunded() decimal.Decimal
	ExternalID() string
	SetExternalID(id string)

	// AttemptTransition requests a named lifecycle transition. It returns
	// (true, nil) when the transition ran, (false, nil) when the host state
	// machine does not currently permit it, and a non-nil error only on hard
	// failure.
	AttemptTransition(name string) (bool, error)

	Order() Order
}

// Config holds the gateway credentials and the merchant callback URL
// templates. Templates may contain a {payment_id} placeholder.
type Config struct {
	Gateway         p24.Config
	URLReturn       string
	URLStatus       string
	RefundURLStatus string
}

// Processor reconciles local payment state with the gateway, via verified
// push notifications or explicit status queries. A Processor is stateless
// across calls and safe for concurrent use on unrelated payments.
type Processor struct {
	client *p24.Client
	cfg    Config
	logger *slog.Logger
}

// New returns a processor. When client is nil one is built from
// cfg.Gateway.
func New(logger *slog.Logger, cfg Config, client *p24.Client) *Processor {
	if client == nil {
		client = p24.New(cfg.Gateway, nil)
	}

	return &Processor{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "p24")),
	}
}

// TransactionIntent tells the host how to send the buyer to the paywall.
type TransactionIntent struct {
	RedirectURL string
	Method      string
}

// PrepareTransaction registers the payment with the gateway and returns the
// paywall redirect. A registration failure aborts the checkout attempt.
func (p *Processor) PrepareTransaction(ctx context.Context, payment Payment) (TransactionIntent, error) {
	token, err := p.client.RegisterTransaction(ctx, p24.RegisterTransaction{
		SessionID:   payment.ID(),
		Amount:      payment.AmountRequired(),
		Currency:    payment.Currency(),
		Description: payment.Description(),
		Email:       payment.Order().BuyerEmail(),
		URLReturn:   resolveURL(p.cfg.URLReturn, payment.ID()),
		URLStatus:   resolveURL(p.cfg.URLStatus, payment.ID()),
	})
	if err != nil {
		return TransactionIntent{}, fmt.Errorf("registering transaction: %w", err)
	}

	return TransactionIntent{
		RedirectURL: p.client.RedirectURL(token),
		Method:      http.MethodGet,
	}, nil
}

// VerifyNotification authenticates an inbound notification: the signature
// must be present, all signed fields must be present, and the recomputed
// signature must match in constant time. Passing verification only
// authenticates the sender; settlement still requires HandleNotification's
// gateway verify call.
func (p *Processor) VerifyNotification(n p24.Notification) error {
	if n.Sign == "" {
		return fmt.Errorf("%w: missing sign", p24.ErrInvalidCallback)
	}

	if missing := n.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("%w: missing required callback fields: %s",
			p24.ErrInvalidCallback, strings.Join(missing, ", "))
	}

	expected := n.ExpectedSign(p.cfg.Gateway.CRCKey)
	if !sign.Equal(expected, n.Sign) {
		p.logger.Error("notification signature mismatch",
			slog.String("session_id", n.SessionID),
			slog.String("received", n.Sign),
			slog.String("expected", expected),
		)
		return fmt.Errorf("%w: signature mismatch", p24.ErrInvalidCallback)
	}

	return nil
}

// HandleNotification processes a verified push notification:
//
//  1. authenticate the notification; a failure propagates without touching
//     the payment,
//  2. record the gateway order id as the payment's external id, even if the
//     verify below fails, so the payment stays traceable,
//  3. verify the transaction with the gateway (mandatory, otherwise funds
//     stay in the advance-payment state),
//  4. request the confirm_payment transition; not-permitted is a no-op
//     because the gateway redelivers notifications and duplicates are
//     expected.
//
// A gateway verification failure propagates as ErrCommunication and leaves
// the payment state to the host: redelivery by the gateway is the retry
// mechanism, so nothing is retried here.
func (p *Processor) HandleNotification(ctx context.Context, payment Payment, n p24.Notification) error {
	if err := p.VerifyNotification(n); err != nil {
		return err
	}

	if n.OrderID != 0 {
		payment.SetExternalID(strconv.FormatInt(n.OrderID, 10))
	}

	amount := money.FromLowestUnit(n.Amount)
	if _, err := p.client.VerifyTransaction(ctx, n.SessionID, n.OrderID, amount, n.Currency); err != nil {
		return fmt.Errorf("verifying transaction %s: %w", n.SessionID, err)
	}

	ok, err := payment.AttemptTransition(TransitionConfirmPayment)
	if err != nil {
		return fmt.Errorf("confirming payment %s: %w", payment.ID(), err)
	}
	if !ok {
		p.logger.Debug("confirm_payment not permitted, skipping",
			slog.String("payment_id", payment.ID()),
			slog.String("session_id", n.SessionID),
		)
	}

	return nil
}

// FetchStatus queries the gateway for the transaction status (pull path) and
// returns the transition the host should attempt, or "" when no payment has
// been made yet. The host applies the transition; the processor never forces
// one.
func (p *Processor) FetchStatus(ctx context.Context, payment Payment) (string, error) {
	info, err := p.client.TransactionBySessionID(ctx, payment.ID())
	if err != nil {
		return "", fmt.Errorf("fetching transaction status: %w", err)
	}

	switch info.Status {
	case p24.StatusNoPayment:
		return "", nil
	case p24.StatusAdvancePayment:
		return TransitionConfirmPrepared, nil
	case p24.StatusPaymentMade:
		return TransitionConfirmPayment, nil
	case p24.StatusPaymentReturned:
		return TransitionConfirmRefund, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction status %d", p24.ErrCommunication, info.Status)
	}
}

// StartRefund submits a single-item refund batch against the payment's
// gateway order id and returns the amount refunded. A zero amount defaults
// to the amount already paid. Request and batch identifiers are freshly
// generated on every call and never reused, so each attempt is uniquely
// identifiable to the gateway.
func (p *Processor) StartRefund(ctx context.Context, payment Payment, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsZero() {
		amount = payment.AmountPaid()
	}

	amountInt, err := money.ToLowestUnit(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("encoding refund amount: %w", err)
	}

	orderID, err := strconv.ParseInt(payment.ExternalID(), 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payment %s has no gateway order id: %w", payment.ID(), err)
	}

	urlStatus := ""
	if p.cfg.RefundURLStatus != "" {
		urlStatus = resolveURL(p.cfg.RefundURLStatus, payment.ID())
	}

	_, err = p.client.Refund(ctx, uuid.NewString(), uuid.NewString(), urlStatus, []p24.RefundItem{{
		OrderID:   orderID,
		SessionID: payment.ID(),
		Amount:    amountInt,
	}})
	if err != nil {
		return decimal.Zero, fmt.Errorf("requesting refund: %w", err)
	}

	return amount, nil
}

// Charge is not supported: Przelewy24 has no pre-authorization flow. The
// call fails fast without touching the network.
func (p *Processor) Charge(context.Context, Payment, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("charge: %w", p24.ErrNotSupported)
}

// ReleaseLock is not supported: Przelewy24 has no pre-authorization flow.
// The call fails fast without touching the network.
func (p *Processor) ReleaseLock(context.Context, Payment) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("release lock: %w", p24.ErrNotSupported)
}

func resolveURL(template, paymentID string) string {
	return strings.ReplaceAll(template, "{payment_id}", paymentID)
}
