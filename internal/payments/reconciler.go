package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/internal/months"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
)

// MonthResolver maps dates to month rows.
type MonthResolver interface {
	Resolve(ctx context.Context, date time.Time) (months.Month, error)
}

// LedgerPort is the accrual ledger as used by Reconciler.
type LedgerPort interface {
	Lock(ctx context.Context, keys ...accruals.Key) (func(), error)
	Find(ctx context.Context, key accruals.Key) (*accruals.Record, error)
	CreditPayment(ctx context.Context, rec *accruals.Record, amount decimal.Decimal) error
}

// RepositoryPort stores payments.
type RepositoryPort interface {
	Find(ctx context.Context, id int64) (Payment, error)
	Insert(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder counts reconciled payments.
type MetricsRecorder interface {
	RecordPayment(outcome string, credited bool)
}

// Reconciler records payments and keeps the clinic ledger's paid total in step.
type Reconciler struct {
	months   MonthResolver
	ledger   LedgerPort
	repo     RepositoryPort
	audit    AuditPort
	metrics  MetricsRecorder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewReconciler builds a Reconciler. audit and metrics may be nil.
func NewReconciler(monthsResolver MonthResolver, ledger LedgerPort, repo RepositoryPort, audit AuditPort, metrics MetricsRecorder, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		months:   monthsResolver,
		ledger:   ledger,
		repo:     repo,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		validate: shared.NewValidator(),
	}
}

// Process records or amends a payment. For clinic-scoped payments the clinic
// row of the payment month is credited with the change in amount; the credit
// stands even if storing the payment then fails. Without a clinic row the
// payment is stored with no ledger effect.
func (r *Reconciler) Process(ctx context.Context, in Input) (pay Payment, err error) {
	credited := false
	defer func() {
		if r.metrics == nil {
			return
		}
		outcome := "recorded"
		if _, ok := shared.AsValidationErrors(err); ok {
			outcome = "rejected"
		} else if err != nil {
			outcome = "failed"
		}
		r.metrics.RecordPayment(outcome, credited)
	}()

	errs, err := shared.ValidateStruct(r.validate, in)
	if err != nil {
		return Payment{}, err
	}
	if !in.Amount.IsPositive() {
		errs.Add("amount", "must be greater than 0")
	} else if !in.Amount.Equal(in.Amount.Round(moneyScale)) {
		errs.Add("amount", "must have at most 2 decimal places")
	}
	if errs.Any() {
		return Payment{}, errs
	}
	date, err := months.ParseDate(in.Date)
	if err != nil {
		return Payment{}, shared.ValidationErrors{"date": "must be a date formatted as " + months.DateLayout}
	}

	previous := decimal.Zero
	var existing Payment
	if in.ID != 0 {
		existing, err = r.repo.Find(ctx, in.ID)
		if err != nil {
			return Payment{}, err
		}
		previous = existing.Amount
	}

	month, err := r.months.Resolve(ctx, date)
	if err != nil {
		return Payment{}, err
	}
	pay = Payment{
		ID:        in.ID,
		Date:      date,
		ClinicID:  in.ClinicID,
		Amount:    in.Amount,
		MonthID:   month.ID,
		Title:     Title(in.Amount, date),
		Note:      in.Note,
		CreatedAt: existing.CreatedAt,
	}

	if pay.ClinicID != 0 {
		credited, err = r.credit(ctx, accruals.ClinicKey(pay.ClinicID, pay.MonthID), pay.Amount.Sub(previous))
		if err != nil {
			return Payment{}, err
		}
	}

	action := "payment.recorded"
	if pay.ID == 0 {
		err = r.repo.Insert(ctx, &pay)
	} else {
		action = "payment.amended"
		err = r.repo.Update(ctx, &pay)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: save: %w", err)
	}

	r.record(ctx, action, pay, previous)
	r.logger.Info("payment reconciled",
		slog.Int64("payment_id", pay.ID),
		slog.Int64("clinic_id", pay.ClinicID),
		slog.Int64("month_id", pay.MonthID),
		slog.String("amount", pay.Amount.String()),
		slog.Bool("ledger_credited", credited))
	return pay, nil
}

// credit applies delta to the clinic row under its lock. A missing row or a
// rejected ledger write leaves the payment unaffected.
func (r *Reconciler) credit(ctx context.Context, key accruals.Key, delta decimal.Decimal) (bool, error) {
	release, err := r.ledger.Lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer release()

	row, err := r.ledger.Find(ctx, key)
	if errors.Is(err, accruals.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if delta.IsZero() {
		return false, nil
	}
	if err := r.ledger.CreditPayment(ctx, row, delta); err != nil {
		if errs, ok := shared.AsValidationErrors(err); ok {
			r.logger.Warn("ledger credit rejected", slog.Int64("accrual_id", row.ID), slog.String("errors", errs.Summary()))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Reconciler) record(ctx context.Context, action string, pay Payment, previous decimal.Decimal) {
	if r.audit == nil {
		return
	}
	err := r.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "payment",
		EntityID: strconv.FormatInt(pay.ID, 10),
		Meta: map[string]any{
			"clinic_id": pay.ClinicID,
			"month_id":  pay.MonthID,
			"amount":    pay.Amount.String(),
			"previous":  previous.String(),
		},
	})
	if err != nil {
		r.logger.Warn("audit payment", slog.Int64("payment_id", pay.ID), slog.Any("error", err))
	}
}
