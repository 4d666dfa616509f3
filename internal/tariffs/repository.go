package tariffs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads contracts, price lists and the service catalogue.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CurrentContract loads the contract with the latest date for the subject.
func (r *Repository) CurrentContract(ctx context.Context, subject Subject, subjectID int64) (Contract, error) {
	var (
		c                   Contract
		fixed, float, chief pgtype.Int8
	)
	err := r.pool.QueryRow(ctx, `SELECT id, subject, subject_id, date, fixed_tariff_id, float_tariff_id, chief_tariff_id, salary, blood_price, smear_price
FROM tariff_contracts
WHERE subject=$1 AND subject_id=$2
ORDER BY date DESC, id DESC
LIMIT 1`, string(subject), subjectID).Scan(&c.ID, &c.Subject, &c.SubjectID, &c.Date, &fixed, &float, &chief, &c.Salary, &c.BloodPrice, &c.SmearPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, ErrNotFound
	}
	if err != nil {
		return Contract{}, err
	}
	c.FixedTariffID = fixed.Int64
	c.FloatTariffID = float.Int64
	c.ChiefTariffID = chief.Int64
	return c, nil
}

// ServiceGroups returns the group of each existing service among ids.
func (r *Repository) ServiceGroups(ctx context.Context, serviceIDs []int64) ([]ServiceGroup, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, service_group_id FROM services WHERE id = ANY($1)`, serviceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ServiceGroup, 0, len(serviceIDs))
	for rows.Next() {
		var (
			sg    ServiceGroup
			group pgtype.Int8
		)
		if err := rows.Scan(&sg.ServiceID, &group); err != nil {
			return nil, err
		}
		sg.GroupID = group.Int64
		out = append(out, sg)
	}
	return out, rows.Err()
}

// PriceList returns every entry of a tariff variant in insertion order.
func (r *Repository) PriceList(ctx context.Context, tariffID int64) ([]PriceEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tariff_id, service_group_id, measure, price
FROM tariff_prices WHERE tariff_id=$1 ORDER BY id`, tariffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []PriceEntry{}
	for rows.Next() {
		var e PriceEntry
		if err := rows.Scan(&e.ID, &e.TariffID, &e.ServiceGroupID, &e.Measure, &e.Price); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ServiceIDByTitle finds a catalogue service by exact title, lowest id first.
func (r *Repository) ServiceIDByTitle(ctx context.Context, title string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM services WHERE title=$1 ORDER BY id LIMIT 1`, title).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// SubjectTitle loads the display name of a clinic or doctor.
func (r *Repository) SubjectTitle(ctx context.Context, subject Subject, subjectID int64) (string, error) {
	var query string
	switch subject {
	case SubjectClinic:
		query = `SELECT title FROM clinics WHERE id=$1`
	case SubjectDoctor:
		query = `SELECT title FROM doctors WHERE id=$1`
	default:
		return "", ErrNotFound
	}
	var title string
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return title, err
}
