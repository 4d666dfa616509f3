package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
)

// ImbalanceSource lists ledger rows with inconsistent totals.
type ImbalanceSource interface {
	Imbalances(ctx context.Context, limit int) ([]accruals.Imbalance, error)
}

// LedgerCLI runs ledger checks from the command line.
type LedgerCLI struct {
	source ImbalanceSource
}

// NewLedgerCLI constructs a LedgerCLI.
func NewLedgerCLI(source ImbalanceSource) *LedgerCLI {
	return &LedgerCLI{source: source}
}

// CheckOptions defines flags for the ledger check command.
type CheckOptions struct {
	Limit      int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CheckSummary is the JSON form of a ledger check.
type CheckSummary struct {
	OK         bool           `json:"ok"`
	Imbalances []ImbalanceRow `json:"imbalances"`
}

// ImbalanceRow is one flagged ledger total.
type ImbalanceRow struct {
	AccrualID int64  `json:"accrual_id"`
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// CheckCommand prints ledger imbalances. It exits 0 when the ledger is
// consistent, 10 when imbalances were found and 1 on failure.
func (c *LedgerCLI) CheckCommand(ctx context.Context, opts CheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Limit <= 0 {
		opts.Limit = 500
	}
	found, err := c.source.Imbalances(ctx, opts.Limit)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger check: %v\n", err)
		return 1
	}
	summary := buildCheckSummary(found)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderCheckHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildCheckSummary(found []accruals.Imbalance) CheckSummary {
	rows := make([]ImbalanceRow, 0, len(found))
	for _, im := range found {
		rows = append(rows, ImbalanceRow{
			AccrualID: im.AccrualID,
			Key:       im.Key.String(),
			Kind:      string(im.Kind),
			Expected:  im.Expected.StringFixed(2),
			Actual:    im.Actual.StringFixed(2),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AccrualID == rows[j].AccrualID {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].AccrualID < rows[j].AccrualID
	})
	return CheckSummary{OK: len(rows) == 0, Imbalances: rows}
}

func renderCheckHuman(out io.Writer, summary CheckSummary) {
	if summary.OK {
		_, _ = fmt.Fprintln(out, "Ledger totals are consistent.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d imbalance(s) detected:\n", len(summary.Imbalances))
	for _, row := range summary.Imbalances {
		_, _ = fmt.Fprintf(out, " - accrual %d (%s) %s expected %s, stored %s\n",
			row.AccrualID, row.Key, row.Kind, row.Expected, row.Actual)
	}
}
