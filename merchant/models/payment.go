package models

import (
	"github.com/shopspring/decimal"

	"github.com/alovak/p24flow/processor"
)

// Status of a payment in the merchant lifecycle.
type Status string

const (
	StatusNew      Status = "new"
	StatusPrepared Status = "prepared"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Payment is the merchant-side payment record. Its ID doubles as the gateway
// session id; ExternalID holds the gateway order id once a notification has
// been received.
type Payment struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Email          string          `json:"email"`
	Description    string          `json:"description"`
	Currency       string          `json:"currency"`
	AmountRequired decimal.Decimal `json:"amount_required"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	AmountRefunded decimal.Decimal `json:"amount_refunded"`
	Status         Status          `json:"status"`
	ExternalID     string          `json:"external_id,omitempty"`
}

// AttemptTransition applies a named lifecycle transition when the guard
// table permits it and reports whether it ran. The table is deliberately a
// plain switch; the processor only depends on the capability, so any state
// machine implementation could stand in here.
func (p *Payment) AttemptTransition(name string) bool {
	switch name {
	case processor.TransitionConfirmPrepared:
		if p.Status == StatusNew {
			p.Status = StatusPrepared
			return true
		}
	case processor.TransitionConfirmPayment:
		if p.Status == StatusPrepared {
			p.Status = StatusPaid
			p.AmountPaid = p.AmountRequired
			return true
		}
	case processor.TransitionConfirmRefund:
		if p.Status == StatusPaid {
			p.Status = StatusRefunded
			p.AmountRefunded = p.AmountPaid
			return true
		}
	case processor.TransitionFail:
		if p.Status == StatusNew || p.Status == StatusPrepared {
			p.Status = StatusFailed
			return true
		}
	}

	return false
}
