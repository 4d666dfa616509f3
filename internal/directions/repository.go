package directions

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/clinic-billing/internal/platform/db"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
)

// Repository persists directions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes the header and its service lines in one transaction, filling
// ID and CreatedAt.
func (r *Repository) Insert(ctx context.Context, dir *Direction) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO directions (request_id, date, patient_id, patient_name, doctor_id, clinic_id, month_id, title, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
			dir.RequestID, dir.Date, dir.PatientID, dir.PatientName, dir.DoctorID, dir.ClinicID, dir.MonthID, dir.Title).
			Scan(&dir.ID, &dir.CreatedAt)
		if err != nil {
			if shared.IsUniqueViolation(err) {
				return ErrAlreadyProcessed
			}
			return fmt.Errorf("directions: insert header: %w", err)
		}
		batch := &pgx.Batch{}
		for i, serviceID := range dir.ServiceIDs {
			batch.Queue(`INSERT INTO direction_services (direction_id, position, service_id) VALUES ($1,$2,$3)`, dir.ID, i, serviceID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("directions: insert services: %w", err)
		}
		return nil
	})
}
