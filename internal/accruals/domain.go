// Package accruals maintains the monthly per-clinic and per-doctor ledger rows.
package accruals

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/clinic-billing/internal/shared"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
)

var (
	// ErrNotFound indicates no ledger row exists for a key.
	ErrNotFound = errors.New("accruals: record not found")
	// ErrConflict indicates another writer inserted the same key first.
	ErrConflict = errors.New("accruals: record already exists")
	// ErrUnknownField is returned by Apply for fields it does not track.
	ErrUnknownField = errors.New("accruals: unknown field")
)

// Key is the natural key of a ledger row. Clinic rows use the clinic id as
// both SubjectID and ClinicID.
type Key struct {
	Subject   tariffs.Subject
	SubjectID int64
	ClinicID  int64
	MonthID   int64
}

// ClinicKey builds the key of a clinic row.
func ClinicKey(clinicID, monthID int64) Key {
	return Key{Subject: tariffs.SubjectClinic, SubjectID: clinicID, ClinicID: clinicID, MonthID: monthID}
}

// DoctorKey builds the key of a doctor row kept for one clinic.
func DoctorKey(doctorID, clinicID, monthID int64) Key {
	return Key{Subject: tariffs.SubjectDoctor, SubjectID: doctorID, ClinicID: clinicID, MonthID: monthID}
}

// LockKey is the distributed lock name guarding the row.
func (k Key) LockKey() string {
	return shared.LedgerLockKey(string(k.Subject), k.SubjectID, k.ClinicID, k.MonthID)
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d/clinic:%d/month:%d", k.Subject, k.SubjectID, k.ClinicID, k.MonthID)
}

// Field names a counter of a ledger row.
type Field string

const (
	FieldFixedQty Field = "fixed_tariff_qty"
	FieldFixedSum Field = "fixed_tariff_sum"
	FieldFloatQty Field = "float_tariff_qty"
	FieldFloatSum Field = "float_tariff_sum"
	FieldChiefQty Field = "chief_tariff_qty"
	FieldChiefSum Field = "chief_tariff_sum"
	FieldBloodQty Field = "blood_qty"
	FieldBloodSum Field = "blood_sum"
	FieldSmearQty Field = "smear_qty"
	FieldSmearSum Field = "smear_sum"
)

// Seed carries what a new row snapshots at creation.
type Seed struct {
	Contract        tariffs.Contract
	ClinicAccrualID int64
	Title           string
}

// Record is one monthly ledger row.
type Record struct {
	ID              int64           `json:"id"`
	Subject         tariffs.Subject `json:"subject"`
	SubjectID       int64           `json:"subject_id"`
	ClinicID        int64           `json:"clinic_id"`
	DoctorID        int64           `json:"doctor_id"`
	MonthID         int64           `json:"month_id"`
	ClinicAccrualID int64           `json:"clinic_accrual_id"`
	Title           string          `json:"title"`

	FixedTariffID int64           `json:"fixed_tariff_id"`
	FloatTariffID int64           `json:"float_tariff_id"`
	ChiefTariffID int64           `json:"chief_tariff_id"`
	Salary        decimal.Decimal `json:"salary"`
	BloodPrice    decimal.Decimal `json:"blood_price"`
	SmearPrice    decimal.Decimal `json:"smear_price"`

	FixedTariffQty int             `json:"fixed_tariff_qty"`
	FixedTariffSum decimal.Decimal `json:"fixed_tariff_sum"`
	FloatTariffQty int             `json:"float_tariff_qty"`
	FloatTariffSum decimal.Decimal `json:"float_tariff_sum"`
	ChiefTariffQty int             `json:"chief_tariff_qty"`
	ChiefTariffSum decimal.Decimal `json:"chief_tariff_sum"`
	BloodQty       int             `json:"blood_qty"`
	BloodSum       decimal.Decimal `json:"blood_sum"`
	SmearQty       int             `json:"smear_qty"`
	SmearSum       decimal.Decimal `json:"smear_sum"`

	TotalSum  decimal.Decimal `json:"total_sum"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	TotalLeft decimal.Decimal `json:"total_left"`

	// persisted is the accruing total as last written; the next persist
	// accrues the difference.
	persisted decimal.Decimal
}

// Key returns the natural key of the row.
func (r *Record) Key() Key {
	return Key{Subject: r.Subject, SubjectID: r.SubjectID, ClinicID: r.ClinicID, MonthID: r.MonthID}
}

// Accruing sums every field that contributes to TotalSum: the five tier sums
// and the salary snapshot.
func (r *Record) Accruing() decimal.Decimal {
	return r.FixedTariffSum.
		Add(r.FloatTariffSum).
		Add(r.ChiefTariffSum).
		Add(r.BloodSum).
		Add(r.SmearSum).
		Add(r.Salary)
}

// Apply adds amount to field. Quantity fields take the integer part.
func (r *Record) Apply(field Field, amount decimal.Decimal) error {
	qty := int(amount.IntPart())
	switch field {
	case FieldFixedQty:
		r.FixedTariffQty += qty
	case FieldFixedSum:
		r.FixedTariffSum = r.FixedTariffSum.Add(amount)
	case FieldFloatQty:
		r.FloatTariffQty += qty
	case FieldFloatSum:
		r.FloatTariffSum = r.FloatTariffSum.Add(amount)
	case FieldChiefQty:
		r.ChiefTariffQty += qty
	case FieldChiefSum:
		r.ChiefTariffSum = r.ChiefTariffSum.Add(amount)
	case FieldBloodQty:
		r.BloodQty += qty
	case FieldBloodSum:
		r.BloodSum = r.BloodSum.Add(amount)
	case FieldSmearQty:
		r.SmearQty += qty
	case FieldSmearSum:
		r.SmearSum = r.SmearSum.Add(amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}

// Validate checks the row before it is written.
func (r *Record) Validate() shared.ValidationErrors {
	errs := shared.ValidationErrors{}
	if !r.Subject.Valid() {
		errs.Add("subject", "must be clinic or doctor")
	}
	if r.SubjectID <= 0 {
		errs.Add("subject_id", "is required")
	}
	if r.ClinicID <= 0 {
		errs.Add("clinic_id", "is required")
	}
	if r.MonthID <= 0 {
		errs.Add("month_id", "is required")
	}
	if r.Subject == tariffs.SubjectDoctor && r.ClinicAccrualID <= 0 {
		errs.Add("clinic_accrual_id", "is required for doctor rows")
	}
	for field, qty := range map[string]int{
		string(FieldFixedQty): r.FixedTariffQty,
		string(FieldFloatQty): r.FloatTariffQty,
		string(FieldChiefQty): r.ChiefTariffQty,
		string(FieldBloodQty): r.BloodQty,
		string(FieldSmearQty): r.SmearQty,
	} {
		if qty < 0 {
			errs.Add(field, "must not be negative")
		}
	}
	return errs
}
