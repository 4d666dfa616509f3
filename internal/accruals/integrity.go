package accruals

import "github.com/shopspring/decimal"

// ImbalanceKind names which stored total disagrees with the row counters.
type ImbalanceKind string

const (
	ImbalanceTotalSum  ImbalanceKind = "total_sum"
	ImbalanceTotalLeft ImbalanceKind = "total_left"
)

// Imbalance reports one inconsistent total of a ledger row.
type Imbalance struct {
	AccrualID int64
	Key       Key
	Kind      ImbalanceKind
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func classify(base Imbalance, expectedSum, actualSum, expectedLeft, actualLeft decimal.Decimal) []Imbalance {
	var out []Imbalance
	if !expectedSum.Equal(actualSum) {
		im := base
		im.Kind, im.Expected, im.Actual = ImbalanceTotalSum, expectedSum, actualSum
		out = append(out, im)
	}
	if !expectedLeft.Equal(actualLeft) {
		im := base
		im.Kind, im.Expected, im.Actual = ImbalanceTotalLeft, expectedLeft, actualLeft
		out = append(out, im)
	}
	return out
}

// Check reports the inconsistencies of a single in-memory row.
func Check(rec Record) []Imbalance {
	base := Imbalance{AccrualID: rec.ID, Key: rec.Key()}
	return classify(base, rec.Accruing(), rec.TotalSum, rec.TotalSum.Sub(rec.TotalPaid), rec.TotalLeft)
}
