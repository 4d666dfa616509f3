// Package tariffs resolves tariff contracts and matches ordered services
// against tariff price lists.
package tariffs

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Subject names who a contract or ledger row belongs to.
type Subject string

const (
	SubjectClinic Subject = "clinic"
	SubjectDoctor Subject = "doctor"
)

// Valid reports whether s is a known subject.
func (s Subject) Valid() bool {
	return s == SubjectClinic || s == SubjectDoctor
}

// Measure is the unit of a price entry.
type Measure string

const (
	MeasureCurrency Measure = "currency"
	MeasurePercent  Measure = "percent"
)

// ErrNotFound indicates a missing contract or service.
var ErrNotFound = errors.New("tariffs: not found")

// Contract is a dated tariff assignment. Zero variant ids mean the variant is
// absent; doctors never carry a chief variant or blood/smear prices.
type Contract struct {
	ID            int64           `json:"id"`
	Subject       Subject         `json:"subject"`
	SubjectID     int64           `json:"subject_id"`
	Date          time.Time       `json:"date"`
	FixedTariffID int64           `json:"fixed_tariff_id"`
	FloatTariffID int64           `json:"float_tariff_id"`
	ChiefTariffID int64           `json:"chief_tariff_id"`
	Salary        decimal.Decimal `json:"salary"`
	BloodPrice    decimal.Decimal `json:"blood_price"`
	SmearPrice    decimal.Decimal `json:"smear_price"`
}

// PriceEntry prices one service group inside a tariff variant.
type PriceEntry struct {
	ID             int64           `json:"id"`
	TariffID       int64           `json:"tariff_id"`
	ServiceGroupID int64           `json:"service_group_id"`
	Measure        Measure         `json:"measure"`
	Price          decimal.Decimal `json:"price"`
}

// SpecialServices holds the catalogue ids of the material-draw services that
// are billed from contract prices instead of price lists. Zero means the
// catalogue lacks the service.
type SpecialServices struct {
	BloodID int64 `json:"blood_id"`
	SmearID int64 `json:"smear_id"`
}

// ServiceGroup links a catalogue service to its owning group. GroupID is zero
// for ungrouped services.
type ServiceGroup struct {
	ServiceID int64
	GroupID   int64
}
