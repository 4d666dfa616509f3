package accruals_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/internal/accruals/accrualstest"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func clinicSeed() accruals.Seed {
	return accruals.Seed{Contract: tariffs.Contract{
		ID: 1, Subject: tariffs.SubjectClinic, SubjectID: 2,
		FixedTariffID: 10, FloatTariffID: 11, ChiefTariffID: 12,
		BloodPrice: dec("50"), SmearPrice: dec("40"),
	}}
}

func requireBalanced(t *testing.T, rec accruals.Record) {
	t.Helper()
	require.True(t, rec.TotalLeft.Equal(rec.TotalSum.Sub(rec.TotalPaid)), "total_left %s != %s - %s", rec.TotalLeft, rec.TotalSum, rec.TotalPaid)
	require.Empty(t, accruals.Check(rec))
}

func TestFetchOrCreateSnapshotsContract(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, nil, nil)
	ctx := context.Background()
	key := accruals.ClinicKey(2, 9)

	rec, err := ledger.FetchOrCreate(ctx, key, clinicSeed())
	require.NoError(t, err)
	require.NotZero(t, rec.ID)
	require.Equal(t, int64(12), rec.ChiefTariffID)
	require.True(t, rec.BloodPrice.Equal(dec("50")))
	require.Zero(t, rec.DoctorID)
	require.True(t, rec.TotalSum.IsZero())

	changed := clinicSeed()
	changed.Contract.FixedTariffID = 99
	again, err := ledger.FetchOrCreate(ctx, key, changed)
	require.NoError(t, err)
	require.Equal(t, rec.ID, again.ID)
	require.Equal(t, int64(10), again.FixedTariffID)
	require.Equal(t, 1, repo.Len())
}

func TestFetchOrCreateAccruesSalaryOnce(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, nil, nil)
	ctx := context.Background()
	seed := accruals.Seed{
		Contract:        tariffs.Contract{Subject: tariffs.SubjectDoctor, SubjectID: 3, FixedTariffID: 20, Salary: dec("500")},
		ClinicAccrualID: 1,
	}

	rec, err := ledger.FetchOrCreate(ctx, accruals.DoctorKey(3, 2, 9), seed)
	require.NoError(t, err)
	require.Equal(t, int64(3), rec.DoctorID)
	require.True(t, rec.TotalSum.Equal(dec("500")))
	requireBalanced(t, *rec)

	require.NoError(t, ledger.ApplyDelta(rec, accruals.FieldFixedSum, dec("150")))
	require.NoError(t, ledger.Persist(ctx, rec))
	require.True(t, rec.TotalSum.Equal(dec("650")))

	loaded, err := ledger.Find(ctx, accruals.DoctorKey(3, 2, 9))
	require.NoError(t, err)
	require.NoError(t, ledger.Persist(ctx, loaded))
	require.True(t, loaded.TotalSum.Equal(dec("650")))
	requireBalanced(t, *loaded)
}

func TestFetchOrCreateRereadsWinnerAfterRace(t *testing.T) {
	repo := accrualstest.New()
	repo.RaceOnInsert = true
	repo.Winner = accruals.Record{Subject: tariffs.SubjectClinic, SubjectID: 2, ClinicID: 2, MonthID: 9, FixedTariffID: 77}
	ledger := accruals.NewLedger(repo, nil, nil)

	rec, err := ledger.FetchOrCreate(context.Background(), accruals.ClinicKey(2, 9), clinicSeed())
	require.NoError(t, err)
	require.Equal(t, int64(77), rec.FixedTariffID)
	require.Equal(t, 1, repo.Len())
}

func TestDoctorRowRequiresClinicBackReference(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, nil, nil)

	_, err := ledger.FetchOrCreate(context.Background(), accruals.DoctorKey(3, 2, 9), accruals.Seed{})
	bag, ok := shared.AsValidationErrors(err)
	require.True(t, ok)
	require.Contains(t, bag, "clinic_accrual_id")
	require.Zero(t, repo.Len())
}

func TestAccumulatesOverManyOperations(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, nil, nil)
	ctx := context.Background()

	rec, err := ledger.FetchOrCreate(ctx, accruals.ClinicKey(2, 9), clinicSeed())
	require.NoError(t, err)

	prices := []string{"100", "250.50", "0", "49.99", "1000"}
	want := decimal.Zero
	for _, p := range prices {
		require.NoError(t, ledger.ApplyDelta(rec, accruals.FieldFloatQty, decimal.NewFromInt(1)))
		require.NoError(t, ledger.ApplyDelta(rec, accruals.FieldFloatSum, dec(p)))
		require.NoError(t, ledger.Persist(ctx, rec))
		want = want.Add(dec(p))
		requireBalanced(t, *rec)
	}
	require.Equal(t, len(prices), rec.FloatTariffQty)
	require.True(t, rec.FloatTariffSum.Equal(want))
	require.True(t, rec.TotalSum.Equal(want))

	stored, ok := repo.Get(accruals.ClinicKey(2, 9))
	require.True(t, ok)
	require.True(t, stored.TotalSum.Equal(want))
}

func TestPersistValidationFailureLeavesRecordUntouched(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, nil, nil)
	ctx := context.Background()

	rec, err := ledger.FetchOrCreate(ctx, accruals.ClinicKey(2, 9), clinicSeed())
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyDelta(rec, accruals.FieldBloodQty, decimal.NewFromInt(-1)))
	require.NoError(t, ledger.ApplyDelta(rec, accruals.FieldBloodSum, dec("50")))
	before := *rec

	err = ledger.Persist(ctx, rec)
	bag, ok := shared.AsValidationErrors(err)
	require.True(t, ok)
	require.Contains(t, bag, "blood_qty")
	require.Equal(t, before, *rec)
	require.Equal(t, 0, repo.Updates)
}

func TestPersistPropagatesStorageErrors(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, nil, nil)
	ctx := context.Background()

	rec, err := ledger.FetchOrCreate(ctx, accruals.ClinicKey(2, 9), clinicSeed())
	require.NoError(t, err)
	repo.UpdateErr[tariffs.SubjectClinic] = errors.New("disk full")

	require.NoError(t, ledger.ApplyDelta(rec, accruals.FieldSmearSum, dec("40")))
	err = ledger.Persist(ctx, rec)
	require.ErrorContains(t, err, "disk full")
	_, isBag := shared.AsValidationErrors(err)
	require.False(t, isBag)
	require.True(t, rec.TotalSum.IsZero())
}

func TestCreditPayment(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, nil, nil)
	ctx := context.Background()

	rec, err := ledger.FetchOrCreate(ctx, accruals.ClinicKey(2, 9), clinicSeed())
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyDelta(rec, accruals.FieldFixedSum, dec("300")))
	require.NoError(t, ledger.Persist(ctx, rec))

	require.NoError(t, ledger.CreditPayment(ctx, rec, dec("100")))
	require.NoError(t, ledger.CreditPayment(ctx, rec, dec("50")))
	require.True(t, rec.TotalPaid.Equal(dec("150")))
	require.True(t, rec.TotalLeft.Equal(dec("150")))
	require.True(t, rec.TotalSum.Equal(dec("300")))
	requireBalanced(t, *rec)
}

func TestApplyDeltaRejectsUnknownField(t *testing.T) {
	ledger := accruals.NewLedger(accrualstest.New(), nil, nil)
	err := ledger.ApplyDelta(&accruals.Record{}, accruals.Field("total_sum"), dec("1"))
	require.ErrorIs(t, err, accruals.ErrUnknownField)
}

func TestLockSerializesConcurrentUpdates(t *testing.T) {
	repo := accrualstest.New()
	ledger := accruals.NewLedger(repo, shared.NewKeyedMutex(), nil)
	ctx := context.Background()
	key := accruals.ClinicKey(2, 9)

	_, err := ledger.FetchOrCreate(ctx, key, clinicSeed())
	require.NoError(t, err)

	const workers = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := ledger.Lock(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			rec, err := ledger.Find(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			_ = ledger.ApplyDelta(rec, accruals.FieldFixedQty, decimal.NewFromInt(1))
			_ = ledger.ApplyDelta(rec, accruals.FieldFixedSum, dec("10"))
			errs <- ledger.Persist(ctx, rec)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, ok := repo.Get(key)
	require.True(t, ok)
	require.Equal(t, workers, stored.FixedTariffQty)
	require.True(t, stored.TotalSum.Equal(dec("250")))
	requireBalanced(t, stored)
}
