package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/jobs"
)

type stubSource struct {
	found []accruals.Imbalance
	err   error
}

func (s stubSource) Imbalances(context.Context, int) ([]accruals.Imbalance, error) {
	return s.found, s.err
}

func TestCheckCommandJSONReportsImbalances(t *testing.T) {
	source := stubSource{found: []accruals.Imbalance{
		{AccrualID: 9, Key: accruals.ClinicKey(1, 4), Kind: accruals.ImbalanceTotalSum, Expected: decimal.NewFromInt(910), Actual: decimal.NewFromInt(900)},
		{AccrualID: 3, Key: accruals.ClinicKey(2, 4), Kind: accruals.ImbalanceTotalLeft, Expected: decimal.NewFromInt(10), Actual: decimal.Zero},
	}}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := NewLedgerCLI(source).CheckCommand(context.Background(), CheckOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 10, code)
	require.Empty(t, stderr.String())

	var summary CheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Len(t, summary.Imbalances, 2)
	require.Equal(t, int64(3), summary.Imbalances[0].AccrualID)
	require.Equal(t, "910.00", summary.Imbalances[1].Expected)
}

func TestCheckCommandHumanConsistent(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := NewLedgerCLI(stubSource{}).CheckCommand(context.Background(), CheckOptions{Stdout: stdout})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "consistent")
}

func TestCheckCommandFailure(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := NewLedgerCLI(stubSource{err: errors.New("boom")}).CheckCommand(context.Background(), CheckOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "boom")
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskLedgerIntegrity)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerIntegrity, task.Type())

	_, err = BuildTask("unknown")
	require.Error(t, err)
}
