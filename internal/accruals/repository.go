package accruals

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists ledger rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, subject, subject_id, clinic_id, doctor_id, month_id, clinic_accrual_id, title,
fixed_tariff_id, float_tariff_id, chief_tariff_id, salary, blood_price, smear_price,
fixed_tariff_qty, fixed_tariff_sum, float_tariff_qty, float_tariff_sum, chief_tariff_qty, chief_tariff_sum,
blood_qty, blood_sum, smear_qty, smear_sum, total_sum, total_paid, total_left`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec         Record
		clinicAccID pgtype.Int8
	)
	err := row.Scan(&rec.ID, &rec.Subject, &rec.SubjectID, &rec.ClinicID, &rec.DoctorID, &rec.MonthID, &clinicAccID, &rec.Title,
		&rec.FixedTariffID, &rec.FloatTariffID, &rec.ChiefTariffID, &rec.Salary, &rec.BloodPrice, &rec.SmearPrice,
		&rec.FixedTariffQty, &rec.FixedTariffSum, &rec.FloatTariffQty, &rec.FloatTariffSum, &rec.ChiefTariffQty, &rec.ChiefTariffSum,
		&rec.BloodQty, &rec.BloodSum, &rec.SmearQty, &rec.SmearSum, &rec.TotalSum, &rec.TotalPaid, &rec.TotalLeft)
	if err != nil {
		return Record{}, err
	}
	rec.ClinicAccrualID = clinicAccID.Int64
	return rec, nil
}

// Find loads the row for key.
func (r *Repository) Find(ctx context.Context, key Key) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM accruals
WHERE subject=$1 AND subject_id=$2 AND clinic_id=$3 AND month_id=$4`, string(key.Subject), key.SubjectID, key.ClinicID, key.MonthID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Insert creates a row, returning ErrConflict when the key already exists.
func (r *Repository) Insert(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO accruals (subject, subject_id, clinic_id, doctor_id, month_id, clinic_accrual_id, title,
fixed_tariff_id, float_tariff_id, chief_tariff_id, salary, blood_price, smear_price,
fixed_tariff_qty, fixed_tariff_sum, float_tariff_qty, float_tariff_sum, chief_tariff_qty, chief_tariff_sum,
blood_qty, blood_sum, smear_qty, smear_sum, total_sum, total_paid, total_left, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,NOW(),NOW())
ON CONFLICT (subject, subject_id, clinic_id, month_id) DO NOTHING
RETURNING id`,
		string(rec.Subject), rec.SubjectID, rec.ClinicID, rec.DoctorID, rec.MonthID, nullID(rec.ClinicAccrualID), rec.Title,
		rec.FixedTariffID, rec.FloatTariffID, rec.ChiefTariffID, rec.Salary, rec.BloodPrice, rec.SmearPrice,
		rec.FixedTariffQty, rec.FixedTariffSum, rec.FloatTariffQty, rec.FloatTariffSum, rec.ChiefTariffQty, rec.ChiefTariffSum,
		rec.BloodQty, rec.BloodSum, rec.SmearQty, rec.SmearSum, rec.TotalSum, rec.TotalPaid, rec.TotalLeft).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrConflict
	}
	return id, err
}

// Update writes the counters and totals of an existing row. Snapshot fields
// are never rewritten.
func (r *Repository) Update(ctx context.Context, rec Record) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accruals SET
fixed_tariff_qty=$2, fixed_tariff_sum=$3, float_tariff_qty=$4, float_tariff_sum=$5, chief_tariff_qty=$6, chief_tariff_sum=$7,
blood_qty=$8, blood_sum=$9, smear_qty=$10, smear_sum=$11, total_sum=$12, total_paid=$13, total_left=$14, updated_at=NOW()
WHERE id=$1`, rec.ID,
		rec.FixedTariffQty, rec.FixedTariffSum, rec.FloatTariffQty, rec.FloatTariffSum, rec.ChiefTariffQty, rec.ChiefTariffSum,
		rec.BloodQty, rec.BloodSum, rec.SmearQty, rec.SmearSum, rec.TotalSum, rec.TotalPaid, rec.TotalLeft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Imbalances lists rows whose stored totals disagree with their counters.
func (r *Repository) Imbalances(ctx context.Context, limit int) ([]Imbalance, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT id, subject, subject_id, clinic_id, month_id,
fixed_tariff_sum + float_tariff_sum + chief_tariff_sum + blood_sum + smear_sum + salary, total_sum,
total_sum - total_paid, total_left
FROM accruals
WHERE total_left <> total_sum - total_paid
   OR total_sum <> fixed_tariff_sum + float_tariff_sum + chief_tariff_sum + blood_sum + smear_sum + salary
ORDER BY id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Imbalance{}
	for rows.Next() {
		var (
			im                       Imbalance
			expectedSum, actualSum   decimal.Decimal
			expectedLeft, actualLeft decimal.Decimal
		)
		if err := rows.Scan(&im.AccrualID, &im.Key.Subject, &im.Key.SubjectID, &im.Key.ClinicID, &im.Key.MonthID,
			&expectedSum, &actualSum, &expectedLeft, &actualLeft); err != nil {
			return nil, err
		}
		out = append(out, classify(im, expectedSum, actualSum, expectedLeft, actualLeft)...)
	}
	return out, rows.Err()
}

func nullID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}
