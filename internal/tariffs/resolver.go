package tariffs

import (
	"context"
	"errors"
	"fmt"
)

// ContractSource loads the latest contract of a subject.
type ContractSource interface {
	CurrentContract(ctx context.Context, subject Subject, subjectID int64) (Contract, error)
}

// Resolver picks the current tariff contract of a clinic or doctor.
type Resolver struct {
	source ContractSource
}

// NewResolver builds a Resolver.
func NewResolver(source ContractSource) *Resolver {
	return &Resolver{source: source}
}

// Current returns the contract with the most recent effective date among all
// contracts of the subject, regardless of any order date. The boolean is false
// when the subject has no contract.
func (r *Resolver) Current(ctx context.Context, subject Subject, subjectID int64) (Contract, bool, error) {
	if !subject.Valid() {
		return Contract{}, false, fmt.Errorf("tariffs: unknown subject %q", subject)
	}
	if subjectID <= 0 {
		return Contract{}, false, nil
	}
	c, err := r.source.CurrentContract(ctx, subject, subjectID)
	if errors.Is(err, ErrNotFound) {
		return Contract{}, false, nil
	}
	if err != nil {
		return Contract{}, false, fmt.Errorf("tariffs: current %s %d: %w", subject, subjectID, err)
	}
	return c, true, nil
}
