package months

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists years and months in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindYear loads a year by title.
func (r *Repository) FindYear(ctx context.Context, title string) (Year, error) {
	var y Year
	err := r.pool.QueryRow(ctx, `SELECT id, title FROM years WHERE title=$1`, title).Scan(&y.ID, &y.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return Year{}, ErrNotFound
	}
	return y, err
}

// InsertYear creates a year. A concurrent insert of the same title yields
// ErrNotFound so the caller re-reads the winner.
func (r *Repository) InsertYear(ctx context.Context, title string) (Year, error) {
	y := Year{Title: title}
	err := r.pool.QueryRow(ctx, `INSERT INTO years (title) VALUES ($1) ON CONFLICT (title) DO NOTHING RETURNING id`, title).Scan(&y.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Year{}, ErrNotFound
	}
	return y, err
}

// FindMonth loads a month by year and two digit month number.
func (r *Repository) FindMonth(ctx context.Context, yearID int64, month string) (Month, error) {
	var m Month
	err := r.pool.QueryRow(ctx, `SELECT m.id, m.year_id, y.title, m.month, m.title
FROM months m JOIN years y ON y.id = m.year_id
WHERE m.year_id=$1 AND m.month=$2`, yearID, month).Scan(&m.ID, &m.YearID, &m.Year, &m.Month, &m.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return Month{}, ErrNotFound
	}
	return m, err
}

// InsertMonth creates a month, returning ErrNotFound when it lost a race.
func (r *Repository) InsertMonth(ctx context.Context, m Month) (Month, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO months (year_id, month, title) VALUES ($1,$2,$3)
ON CONFLICT (year_id, month) DO NOTHING RETURNING id`, m.YearID, m.Month, m.Title).Scan(&m.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Month{}, ErrNotFound
	}
	return m, err
}
