package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/internal/accruals/accrualstest"
	"github.com/odyssey-erp/clinic-billing/internal/months"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
)

const (
	clinicID int64 = 2
	monthID  int64 = 9
)

type fakeMonths struct{}

func (fakeMonths) Resolve(_ context.Context, date time.Time) (months.Month, error) {
	if date.Month() == time.May {
		return months.Month{ID: monthID, Month: "05", Year: "2024"}, nil
	}
	return months.Month{ID: monthID + 1, Month: date.Format("01"), Year: date.Format("2006")}, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	rows    map[int64]Payment
	nextID  int64
	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[int64]Payment{}}
}

func (f *fakeRepo) Find(_ context.Context, id int64) (Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) Insert(_ context.Context, p *Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.rows[p.ID] = *p
	return nil
}

func (f *fakeRepo) Update(_ context.Context, p *Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.rows[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	f.rows[p.ID] = *p
	return nil
}

type fakeMetrics struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeMetrics) RecordPayment(outcome string, credited bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := outcome
	if credited {
		s += "+credited"
	}
	f.calls = append(f.calls, s)
}

type fixture struct {
	rows    *accrualstest.Repository
	repo    *fakeRepo
	metrics *fakeMetrics
	rec     *Reconciler
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newFixture seeds a clinic row for May 2024 with 910 accrued.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	rows := accrualstest.New()
	rows.Put(accruals.Record{
		Subject: tariffs.SubjectClinic, SubjectID: clinicID, ClinicID: clinicID, MonthID: monthID,
		FixedTariffSum: dec("910"), TotalSum: dec("910"), TotalLeft: dec("910"),
	})
	f := &fixture{rows: rows, repo: newFakeRepo(), metrics: &fakeMetrics{}}
	f.rec = NewReconciler(fakeMonths{}, accruals.NewLedger(rows, nil, nil), f.repo, nil, f.metrics, nil)
	return f
}

func (f *fixture) clinicRow(t *testing.T) accruals.Record {
	t.Helper()
	rec, ok := f.rows.Get(accruals.ClinicKey(clinicID, monthID))
	require.True(t, ok)
	return rec
}

func TestRecordPaymentCreditsClinicRow(t *testing.T) {
	f := newFixture(t)

	pay, err := f.rec.Process(context.Background(), Input{Date: "2024-05-10", ClinicID: clinicID, Amount: dec("1500")})
	require.NoError(t, err)
	require.NotZero(t, pay.ID)
	require.Equal(t, "payment of 1,500.00 on 2024-05-10", pay.Title)
	require.Equal(t, monthID, pay.MonthID)

	row := f.clinicRow(t)
	require.True(t, row.TotalPaid.Equal(dec("1500")))
	require.True(t, row.TotalLeft.Equal(dec("-590")))
	require.True(t, row.TotalSum.Equal(dec("910")))
	require.Equal(t, []string{"recorded+credited"}, f.metrics.calls)
}

func TestAmendPaymentAppliesDifference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pay, err := f.rec.Process(ctx, Input{Date: "2024-05-10", ClinicID: clinicID, Amount: dec("100")})
	require.NoError(t, err)
	before := f.clinicRow(t)

	amended, err := f.rec.Process(ctx, Input{ID: pay.ID, Date: "2024-05-10", ClinicID: clinicID, Amount: dec("150")})
	require.NoError(t, err)
	require.Equal(t, pay.ID, amended.ID)
	require.Equal(t, "payment of 150.00 on 2024-05-10", amended.Title)

	after := f.clinicRow(t)
	require.True(t, after.TotalPaid.Sub(before.TotalPaid).Equal(dec("50")))
	require.True(t, before.TotalLeft.Sub(after.TotalLeft).Equal(dec("50")))
	require.True(t, after.TotalPaid.Equal(dec("150")))

	stored, err := f.repo.Find(ctx, pay.ID)
	require.NoError(t, err)
	require.True(t, stored.Amount.Equal(dec("150")))
}

func TestAmendDownwardReducesPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pay, err := f.rec.Process(ctx, Input{Date: "2024-05-10", ClinicID: clinicID, Amount: dec("300")})
	require.NoError(t, err)
	_, err = f.rec.Process(ctx, Input{ID: pay.ID, Date: "2024-05-11", ClinicID: clinicID, Amount: dec("120.25")})
	require.NoError(t, err)

	row := f.clinicRow(t)
	require.True(t, row.TotalPaid.Equal(dec("120.25")))
	require.True(t, row.TotalLeft.Equal(dec("789.75")))
}

func TestPaymentWithoutLedgerRowHasNoEffect(t *testing.T) {
	f := newFixture(t)

	pay, err := f.rec.Process(context.Background(), Input{Date: "2024-06-01", ClinicID: clinicID, Amount: dec("50")})
	require.NoError(t, err)
	require.NotZero(t, pay.ID)
	require.True(t, f.clinicRow(t).TotalPaid.IsZero())
	require.Equal(t, 1, f.rows.Len())
	require.Equal(t, []string{"recorded"}, f.metrics.calls)
}

func TestUnscopedPaymentNeverTouchesLedger(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Process(context.Background(), Input{Date: "2024-05-10", Amount: dec("75")})
	require.NoError(t, err)
	require.True(t, f.clinicRow(t).TotalPaid.IsZero())
	require.Zero(t, f.rows.Updates)
}

func TestLedgerCreditStandsWhenPaymentSaveFails(t *testing.T) {
	f := newFixture(t)
	f.repo.saveErr = errors.New("payments table locked")

	_, err := f.rec.Process(context.Background(), Input{Date: "2024-05-10", ClinicID: clinicID, Amount: dec("200")})
	require.ErrorContains(t, err, "payments table locked")
	require.True(t, f.clinicRow(t).TotalPaid.Equal(dec("200")))
	require.Equal(t, []string{"failed+credited"}, f.metrics.calls)
}

func TestPaymentValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Process(context.Background(), Input{Date: "May 10", ClinicID: -1, Amount: dec("0")})
	bag, ok := shared.AsValidationErrors(err)
	require.True(t, ok)
	require.Contains(t, bag, "date")
	require.Contains(t, bag, "clinic_id")
	require.Contains(t, bag, "amount")
	require.Zero(t, f.rows.Updates)

	_, err = f.rec.Process(context.Background(), Input{ID: 404, Date: "2024-05-10", Amount: dec("1")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentRejectsSubCentAmounts(t *testing.T) {
	f := newFixture(t)
	before := f.clinicRow(t)

	_, err := f.rec.Process(context.Background(), Input{Date: "2024-05-10", ClinicID: clinicID, Amount: dec("0.005")})
	bag, ok := shared.AsValidationErrors(err)
	require.True(t, ok)
	require.Equal(t, "must have at most 2 decimal places", bag["amount"])

	after := f.clinicRow(t)
	require.True(t, after.TotalPaid.Equal(before.TotalPaid))
	require.True(t, after.TotalLeft.Equal(before.TotalLeft))
	require.Zero(t, f.rows.Updates)

	pay, err := f.rec.Process(context.Background(), Input{Date: "2024-05-10", ClinicID: clinicID, Amount: dec("10.500")})
	require.NoError(t, err)
	require.Equal(t, "payment of 10.50 on 2024-05-10", pay.Title)
	row := f.clinicRow(t)
	require.True(t, row.TotalLeft.Equal(row.TotalSum.Sub(row.TotalPaid)))
}

func TestTitleKeepsEveryDigit(t *testing.T) {
	date := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "payment of 999,999,999,999.99 on 2024-05-10", Title(dec("999999999999.99"), date))
	require.Equal(t, "payment of 0.07 on 2024-05-10", Title(dec("0.07"), date))
	require.Equal(t, "payment of 1,234,567.10 on 2024-05-10", Title(dec("1234567.1"), date))
}

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Route("/payments", NewHandler(nil, f.rec).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/", strings.NewReader(`{"date":"2024-05-10","clinic_id":2,"amount":"100"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/payments/1", strings.NewReader(`{"date":"2024-05-10","clinic_id":2,"amount":"150"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.clinicRow(t).TotalPaid.Equal(dec("150")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/payments/77", strings.NewReader(`{"date":"2024-05-10","amount":"1"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/", strings.NewReader(`{"date":"2024-05-10","amount":"-5"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, int64(1), created.ID)
}
