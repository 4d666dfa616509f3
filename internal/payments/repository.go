package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Find loads a payment by id.
func (r *Repository) Find(ctx context.Context, id int64) (Payment, error) {
	var (
		p      Payment
		clinic pgtype.Int8
	)
	err := r.pool.QueryRow(ctx, `SELECT id, date, clinic_id, amount, month_id, title, note, created_at, updated_at
FROM payments WHERE id=$1`, id).Scan(&p.ID, &p.Date, &clinic, &p.Amount, &p.MonthID, &p.Title, &p.Note, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	p.ClinicID = clinic.Int64
	return p, err
}

// Insert stores a new payment, filling ID and timestamps.
func (r *Repository) Insert(ctx context.Context, p *Payment) error {
	return r.pool.QueryRow(ctx, `INSERT INTO payments (date, clinic_id, amount, month_id, title, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		p.Date, nullID(p.ClinicID), p.Amount, p.MonthID, p.Title, p.Note).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// Update rewrites an existing payment.
func (r *Repository) Update(ctx context.Context, p *Payment) error {
	err := r.pool.QueryRow(ctx, `UPDATE payments SET date=$2, clinic_id=$3, amount=$4, month_id=$5, title=$6, note=$7, updated_at=NOW()
WHERE id=$1 RETURNING created_at, updated_at`,
		p.ID, p.Date, nullID(p.ClinicID), p.Amount, p.MonthID, p.Title, p.Note).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}
