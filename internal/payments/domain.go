// Package payments records clinic payments and credits them to the ledger.
package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/odyssey-erp/clinic-billing/internal/months"
)

// ErrNotFound indicates the amended payment does not exist.
var ErrNotFound = errors.New("payments: payment not found")

// Input records (ID == 0) or amends a payment. ClinicID zero means the
// payment is not scoped to a clinic.
type Input struct {
	ID       int64           `json:"-"`
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
	ClinicID int64           `json:"clinic_id" validate:"gte=0"`
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note" validate:"max=1000"`
}

// Payment is a stored payment.
type Payment struct {
	ID        int64           `json:"id"`
	Date      time.Time       `json:"date"`
	ClinicID  int64           `json:"clinic_id"`
	Amount    decimal.Decimal `json:"amount"`
	MonthID   int64           `json:"month_id"`
	Title     string          `json:"title"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// moneyScale matches the NUMERIC(14,2) money columns.
const moneyScale = 2

var titlePrinter = message.NewPrinter(language.English)

// Title renders "payment of 1,500.00 on 2024-05-10". Amounts are positive
// with at most two decimal places.
func Title(amount decimal.Decimal, date time.Time) string {
	fixed := amount.StringFixed(moneyScale)
	whole := amount.Truncate(0).IntPart()
	return titlePrinter.Sprintf("payment of %v%s on %s",
		number.Decimal(whole), fixed[len(fixed)-moneyScale-1:], date.Format(months.DateLayout))
}
