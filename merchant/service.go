package merchant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"github.com/alovak/p24flow/merchant/models"
	"github.com/alovak/p24flow/p24"
	"github.com/alovak/p24flow/processor"
)

// reconcileConcurrency bounds the pull-path sweep. Unrelated payments are
// safe to reconcile concurrently.
const reconcileConcurrency = 8

// Service orchestrates the payment repository and the gateway processor.
type Service struct {
	repo   *Repository
	proc   *processor.Processor
	logger *slog.Logger
}

func NewService(logger *slog.Logger, repo *Repository, proc *processor.Processor) *Service {
	return &Service{
		repo:   repo,
		proc:   proc,
		logger: logger.With(slog.String("component", "merchant")),
	}
}

// CreatePayment is the input for Service.CreatePayment.
type CreatePayment struct {
	OrderID     string          `json:"order_id"`
	Email       string          `json:"email"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// CreatePayment stores a new payment, registers it with the gateway and
// returns the payment together with the paywall redirect URL. A gateway
// registration failure aborts the checkout attempt.
func (s *Service) CreatePayment(ctx context.Context, req CreatePayment) (*models.Payment, string, error) {
	payment := &models.Payment{
		ID:             uuid.NewString(),
		OrderID:        req.OrderID,
		Email:          req.Email,
		Description:    req.Description,
		Currency:       req.Currency,
		AmountRequired: req.Amount,
		Status:         models.StatusNew,
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, "", fmt.Errorf("creating payment: %w", err)
	}

	intent, err := s.proc.PrepareTransaction(ctx, hostPayment{payment})
	if err != nil {
		return nil, "", fmt.Errorf("preparing transaction: %w", err)
	}

	if payment.AttemptTransition(processor.TransitionConfirmPrepared) {
		if err := s.repo.UpdatePayment(ctx, payment); err != nil {
			return nil, "", fmt.Errorf("updating payment: %w", err)
		}
	}

	return payment, intent.RedirectURL, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("finding payment: %w", err)
	}
	return payment, nil
}

// HandleNotification runs the push path for one gateway notification. The
// payment record is persisted even when the gateway verify fails, so a
// recorded external id survives for manual reconciliation; the error still
// propagates so the gateway redelivers.
func (s *Service) HandleNotification(ctx context.Context, paymentID string, n p24.Notification) error {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("finding payment: %w", err)
	}

	handleErr := s.proc.HandleNotification(ctx, hostPayment{payment}, n)

	if err := s.repo.UpdatePayment(ctx, payment); err != nil {
		s.logger.Error("persisting payment after notification",
			slog.String("payment_id", payment.ID), slog.Any("err", err))
	}

	return handleErr
}

// Reconcile runs the pull path for one payment and applies the resulting
// transition when the payment's state machine permits it. It returns the
// transition that ran, or "" when nothing changed.
func (s *Service) Reconcile(ctx context.Context, paymentID string) (string, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("finding payment: %w", err)
	}
	return s.reconcile(ctx, payment)
}

func (s *Service) reconcile(ctx context.Context, payment *models.Payment) (string, error) {
	transition, err := s.proc.FetchStatus(ctx, hostPayment{payment})
	if err != nil {
		return "", err
	}
	if transition == "" {
		return "", nil
	}

	if !payment.AttemptTransition(transition) {
		return "", nil
	}
	if err := s.repo.UpdatePayment(ctx, payment); err != nil {
		return "", fmt.Errorf("updating payment: %w", err)
	}
	return transition, nil
}

// ReconcilePending sweeps every new or prepared payment through the pull
// path with bounded concurrency. Per-payment failures are logged and do not
// stop the sweep.
func (s *Service) ReconcilePending(ctx context.Context) error {
	pending, err := s.repo.ListByStatus(ctx, models.StatusNew, models.StatusPrepared)
	if err != nil {
		return fmt.Errorf("listing pending payments: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)

	for _, payment := range pending {
		payment := payment
		g.Go(func() error {
			if _, err := s.reconcile(ctx, payment); err != nil {
				s.logger.Error("reconciling payment",
					slog.String("payment_id", payment.ID), slog.Any("err", err))
			}
			return nil
		})
	}

	return g.Wait()
}

// StartRefund refunds the given amount, or the full amount paid when amount
// is zero, and returns the amount refunded. The refund settles
// asynchronously; the payment moves to refunded via the pull path or the
// refund notification.
func (s *Service) StartRefund(ctx context.Context, paymentID string, amount decimal.Decimal) (decimal.Decimal, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("finding payment: %w", err)
	}

	refunded, err := s.proc.StartRefund(ctx, hostPayment{payment}, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("starting refund: %w", err)
	}

	return refunded, nil
}

// hostPayment adapts a models.Payment to the processor's Payment interface.
type hostPayment struct {
	rec *models.Payment
}

func (h hostPayment) ID() string                      { return h.rec.ID }
func (h hostPayment) Currency() string                { return h.rec.Currency }
func (h hostPayment) Description() string             { return h.rec.Description }
func (h hostPayment) AmountRequired() decimal.Decimal { return h.rec.AmountRequired }
func (h hostPayment) AmountPaid() decimal.Decimal     { return h.rec.AmountPaid }
func (h hostPayment) AmountLocked() decimal.Decimal   { return decimal.Zero }
func (h hostPayment) AmountRefunded() decimal.Decimal { return h.rec.AmountRefunded }
func (h hostPayment) ExternalID() string              { return h.rec.ExternalID }
func (h hostPayment) SetExternalID(id string)         { h.rec.ExternalID = id }
func (h hostPayment) Order() processor.Order          { return buyer{email: h.rec.Email} }

func (h hostPayment) AttemptTransition(name string) (bool, error) {
	return h.rec.AttemptTransition(name), nil
}

type buyer struct {
	email string
}

func (b buyer) BuyerEmail() string { return b.email }
