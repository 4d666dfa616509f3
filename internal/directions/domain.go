// Package directions records service orders and accrues them into the
// clinic and doctor ledgers.
package directions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/clinic-billing/internal/shared"
)

// Stage is a step of order processing.
type Stage string

const (
	StageValidating     Stage = "validating"
	StageTariffResolved Stage = "tariff_resolved"
	StageLedgersReady   Stage = "ledgers_ready"
	StageMatched        Stage = "matched"
	StagePersisted      Stage = "persisted"
)

// Synthetic error keys naming the sub-record that failed.
const (
	KeyClinicAccrual = "#clinic_accrual"
	KeyDoctorAccrual = "#doctor_accrual"
	KeyDirection     = "#direction"
)

// ErrAlreadyProcessed is returned when a request id was seen before.
var ErrAlreadyProcessed = fmt.Errorf("directions: already processed: %w", shared.ErrIdempotencyConflict)

// Input is a service order as submitted.
type Input struct {
	RequestID   string  `json:"request_id" validate:"omitempty,uuid"`
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	PatientID   int64   `json:"patient_id" validate:"required,gt=0"`
	PatientName string  `json:"patient_name" validate:"required,max=255"`
	DoctorID    int64   `json:"doctor_id" validate:"required,gt=0"`
	ClinicID    int64   `json:"clinic_id" validate:"required,gt=0"`
	ServiceIDs  []int64 `json:"service_ids" validate:"min=1,dive,gt=0"`
}

// Direction is a persisted service order.
type Direction struct {
	ID          int64     `json:"id"`
	RequestID   uuid.UUID `json:"request_id"`
	Date        time.Time `json:"date"`
	PatientID   int64     `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	DoctorID    int64     `json:"doctor_id"`
	ClinicID    int64     `json:"clinic_id"`
	ServiceIDs  []int64   `json:"service_ids" validate:"min=1"`
	MonthID     int64     `json:"month_id" validate:"gt=0"`
	Title       string    `json:"title" validate:"required,max=255"`
	CreatedAt   time.Time `json:"created_at"`
}

// RejectionError reports an order refused at Stage. It unwraps to the bag.
type RejectionError struct {
	Stage  Stage
	Errors shared.ValidationErrors
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("directions: rejected at %s: %s", e.Stage, e.Errors.Summary())
}

func (e *RejectionError) Unwrap() error {
	return e.Errors
}

// AsRejection extracts a RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func reject(stage Stage, errs shared.ValidationErrors) error {
	return &RejectionError{Stage: stage, Errors: errs}
}

// tag collapses a sub-record's bag under one synthetic key.
func tag(key string, errs shared.ValidationErrors) shared.ValidationErrors {
	return shared.ValidationErrors{key: errs.Summary()}
}
