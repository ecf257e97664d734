package merchant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/alovak/p24flow/merchant/models"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// Repository stores payments either in memory or in Postgres (see
// schema.sql). The in-memory backend serves tests; the db backend is
// selected by passing a *sql.DB.
type Repository struct {
	mu       sync.RWMutex
	payments []*models.Payment

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{payments: make([]*models.Payment, 0)}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, p := range r.payments {
			if p.ID == payment.ID {
				return fmt.Errorf("payment %s exists: %w", payment.ID, ErrConflict)
			}
		}
		r.payments = append(r.payments, payment)
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO merchant.payments(payment_id, order_id, email, description, currency,
                                      amount_required, amount_paid, amount_refunded, status, external_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `, payment.ID, payment.OrderID, payment.Email, payment.Description, payment.Currency,
		payment.AmountRequired, payment.AmountPaid, payment.AmountRefunded, string(payment.Status), payment.ExternalID)
	if isUniqueViolation(err) {
		return fmt.Errorf("payment %s exists: %w", payment.ID, ErrConflict)
	}
	return err
}

func (r *Repository) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, p := range r.payments {
			if p.ID == paymentID {
				return p, nil
			}
		}
		return nil, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
        SELECT payment_id, order_id, email, description, currency,
               amount_required, amount_paid, amount_refunded, status, external_id
          FROM merchant.payments WHERE payment_id=$1
    `, paymentID)

	return scanPayment(row)
}

// ListByStatus returns payments in any of the given statuses, for the pull
// reconciliation sweep.
func (r *Repository) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.Payment, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Payment
		for _, p := range r.payments {
			for _, s := range statuses {
				if p.Status == s {
					out = append(out, p)
					break
				}
			}
		}
		return out, nil
	}

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT payment_id, order_id, email, description, currency,
               amount_required, amount_paid, amount_refunded, status, external_id
          FROM merchant.payments WHERE status = ANY($1) ORDER BY created_at
    `, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePayment persists status, external id and amount mutations.
func (r *Repository) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	if r.db == nil {
		// The in-memory backend shares the *models.Payment pointer, so the
		// mutation is already visible; only confirm the record exists.
		_, err := r.GetPayment(ctx, payment.ID)
		return err
	}

	res, err := r.db.ExecContext(ctx, `
        UPDATE merchant.payments
           SET status=$2, external_id=$3, amount_paid=$4, amount_refunded=$5, updated_at=now()
         WHERE payment_id=$1
    `, payment.ID, string(payment.Status), payment.ExternalID, payment.AmountPaid, payment.AmountRefunded)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping reports storage readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var status string
	err := row.Scan(&p.ID, &p.OrderID, &p.Email, &p.Description, &p.Currency,
		&p.AmountRequired, &p.AmountPaid, &p.AmountRefunded, &status, &p.ExternalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Status = models.Status(status)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
