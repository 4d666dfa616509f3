package months

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RepositoryPort abstracts storage used by Registry.
type RepositoryPort interface {
	FindYear(ctx context.Context, title string) (Year, error)
	InsertYear(ctx context.Context, title string) (Year, error)
	FindMonth(ctx context.Context, yearID int64, month string) (Month, error)
	InsertMonth(ctx context.Context, m Month) (Month, error)
}

// Registry resolves dates to month rows, creating them on first use. Rows are
// immutable once created, so resolved months are memoised per process.
type Registry struct {
	repo   RepositoryPort
	logger *slog.Logger

	mu    sync.RWMutex
	known map[string]Month
}

// NewRegistry builds a Registry.
func NewRegistry(repo RepositoryPort, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, logger: logger, known: make(map[string]Month)}
}

// ParseDate parses a YYYY-MM-DD date.
func (r *Registry) ParseDate(s string) (time.Time, error) {
	return ParseDate(s)
}

// Resolve returns the month row for date. Only storage failures are returned.
func (r *Registry) Resolve(ctx context.Context, date time.Time) (Month, error) {
	want := monthFor(date)
	cacheKey := want.Year + "-" + want.Month

	r.mu.RLock()
	m, ok := r.known[cacheKey]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	year, err := r.year(ctx, want.Year)
	if err != nil {
		return Month{}, err
	}
	want.YearID = year.ID

	m, err = r.repo.FindMonth(ctx, year.ID, want.Month)
	if errors.Is(err, ErrNotFound) {
		m, err = r.repo.InsertMonth(ctx, want)
		if errors.Is(err, ErrNotFound) {
			m, err = r.repo.FindMonth(ctx, year.ID, want.Month)
		} else if err == nil {
			r.logger.Info("month created", slog.Int64("month_id", m.ID), slog.String("title", m.Title))
		}
	}
	if err != nil {
		return Month{}, fmt.Errorf("months: resolve %s: %w", cacheKey, err)
	}
	m.Year = year.Title

	r.mu.Lock()
	r.known[cacheKey] = m
	r.mu.Unlock()
	return m, nil
}

func (r *Registry) year(ctx context.Context, title string) (Year, error) {
	y, err := r.repo.FindYear(ctx, title)
	if errors.Is(err, ErrNotFound) {
		y, err = r.repo.InsertYear(ctx, title)
		if errors.Is(err, ErrNotFound) {
			y, err = r.repo.FindYear(ctx, title)
		}
	}
	if err != nil {
		return Year{}, fmt.Errorf("months: resolve year %s: %w", title, err)
	}
	return y, nil
}
