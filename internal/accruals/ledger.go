package accruals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-billing/internal/shared"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
)

// RepositoryPort abstracts row storage used by Ledger.
type RepositoryPort interface {
	Find(ctx context.Context, key Key) (Record, error)
	Insert(ctx context.Context, rec Record) (int64, error)
	Update(ctx context.Context, rec Record) error
}

// Ledger owns the lifecycle of accrual rows: creation with a tariff snapshot,
// counter updates and payment credits.
type Ledger struct {
	repo   RepositoryPort
	locker shared.Locker
	logger *slog.Logger
}

// NewLedger builds a Ledger. A nil locker falls back to an in-process mutex.
func NewLedger(repo RepositoryPort, locker shared.Locker, logger *slog.Logger) *Ledger {
	if locker == nil {
		locker = shared.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, locker: locker, logger: logger}
}

// Lock serializes mutations of the given rows until release is called.
func (l *Ledger) Lock(ctx context.Context, keys ...Key) (func(), error) {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.LockKey())
	}
	return shared.AcquireAll(ctx, l.locker, names...)
}

// Find returns the row for key or ErrNotFound.
func (l *Ledger) Find(ctx context.Context, key Key) (*Record, error) {
	rec, err := l.repo.Find(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accruals: find %s: %w", key, err)
	}
	rec.persisted = rec.Accruing()
	return &rec, nil
}

// FetchOrCreate returns the row for key, creating it from seed when absent.
// A new row snapshots the seed contract and accrues its salary on creation.
// Existing rows keep their snapshot whatever the seed says.
func (l *Ledger) FetchOrCreate(ctx context.Context, key Key, seed Seed) (*Record, error) {
	rec, err := l.Find(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	rec = newRecord(key, seed)
	err = l.Persist(ctx, rec)
	if errors.Is(err, ErrConflict) {
		return l.Find(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	l.logger.Info("accrual row created",
		slog.Int64("accrual_id", rec.ID),
		slog.String("subject", string(key.Subject)),
		slog.Int64("subject_id", key.SubjectID),
		slog.Int64("clinic_id", key.ClinicID),
		slog.Int64("month_id", key.MonthID))
	return rec, nil
}

func newRecord(key Key, seed Seed) *Record {
	c := seed.Contract
	rec := &Record{
		Subject:         key.Subject,
		SubjectID:       key.SubjectID,
		ClinicID:        key.ClinicID,
		MonthID:         key.MonthID,
		ClinicAccrualID: seed.ClinicAccrualID,
		Title:           seed.Title,
		FixedTariffID:   c.FixedTariffID,
		FloatTariffID:   c.FloatTariffID,
		ChiefTariffID:   c.ChiefTariffID,
		Salary:          c.Salary,
		BloodPrice:      c.BloodPrice,
		SmearPrice:      c.SmearPrice,
	}
	if key.Subject == tariffs.SubjectDoctor {
		rec.DoctorID = key.SubjectID
	}
	return rec
}

// ApplyDelta adds amount to one counter of rec in memory.
func (l *Ledger) ApplyDelta(rec *Record, field Field, amount decimal.Decimal) error {
	return rec.Apply(field, amount)
}

// Persist accrues the change of the summed fields since the last write into
// TotalSum, recomputes TotalLeft and writes the row. When validation fails the
// returned error is a shared.ValidationErrors and rec is left untouched.
func (l *Ledger) Persist(ctx context.Context, rec *Record) error {
	next := *rec
	next.TotalSum = rec.TotalSum.Add(rec.Accruing().Sub(rec.persisted))
	next.TotalLeft = next.TotalSum.Sub(next.TotalPaid)

	if errs := next.Validate(); errs.Any() {
		return errs
	}

	if next.ID == 0 {
		id, err := l.repo.Insert(ctx, next)
		if errors.Is(err, ErrConflict) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("accruals: insert %s: %w", next.Key(), err)
		}
		next.ID = id
	} else if err := l.repo.Update(ctx, next); err != nil {
		return fmt.Errorf("accruals: update %d: %w", next.ID, err)
	}

	next.persisted = next.Accruing()
	*rec = next
	return nil
}

// CreditPayment adds amount to TotalPaid and persists. A negative amount
// reverses an earlier credit.
func (l *Ledger) CreditPayment(ctx context.Context, rec *Record, amount decimal.Decimal) error {
	next := *rec
	next.TotalPaid = rec.TotalPaid.Add(amount)
	if err := l.Persist(ctx, &next); err != nil {
		return err
	}
	*rec = next
	return nil
}
