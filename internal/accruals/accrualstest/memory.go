// Package accrualstest provides an in-memory ledger store for tests.
package accrualstest

import (
	"context"
	"sync"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	"github.com/odyssey-erp/clinic-billing/internal/tariffs"
)

// Repository implements accruals.RepositoryPort in memory.
type Repository struct {
	mu     sync.Mutex
	rows   map[accruals.Key]accruals.Record
	nextID int64

	// InsertErr and UpdateErr, when set for a subject, fail the matching call.
	InsertErr map[tariffs.Subject]error
	UpdateErr map[tariffs.Subject]error
	// RaceOnInsert stores Winner for the inserted key and reports a conflict.
	RaceOnInsert bool
	Winner       accruals.Record

	Inserts int
	Updates int
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{
		rows:      map[accruals.Key]accruals.Record{},
		InsertErr: map[tariffs.Subject]error{},
		UpdateErr: map[tariffs.Subject]error{},
	}
}

func (r *Repository) Find(_ context.Context, key accruals.Key) (accruals.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[key]
	if !ok {
		return accruals.Record{}, accruals.ErrNotFound
	}
	return rec, nil
}

func (r *Repository) Insert(_ context.Context, rec accruals.Record) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.InsertErr[rec.Subject]; err != nil {
		return 0, err
	}
	key := rec.Key()
	if r.RaceOnInsert {
		r.RaceOnInsert = false
		r.nextID++
		winner := r.Winner
		winner.ID = r.nextID
		r.rows[key] = winner
		return 0, accruals.ErrConflict
	}
	if _, ok := r.rows[key]; ok {
		return 0, accruals.ErrConflict
	}
	r.nextID++
	rec.ID = r.nextID
	r.rows[key] = rec
	r.Inserts++
	return rec.ID, nil
}

func (r *Repository) Update(_ context.Context, rec accruals.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.UpdateErr[rec.Subject]; err != nil {
		return err
	}
	key := rec.Key()
	if _, ok := r.rows[key]; !ok {
		return accruals.ErrNotFound
	}
	r.rows[key] = rec
	r.Updates++
	return nil
}

// Put stores rec as is, assigning an id when missing.
func (r *Repository) Put(rec accruals.Record) accruals.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == 0 {
		r.nextID++
		rec.ID = r.nextID
	}
	r.rows[rec.Key()] = rec
	return rec
}

// Get returns the stored row for key.
func (r *Repository) Get(key accruals.Key) (accruals.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[key]
	return rec, ok
}

// Len reports how many rows are stored.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
