package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorsKeepFirstMessage(t *testing.T) {
	bag := ValidationErrors{}
	require.False(t, bag.Any())
	require.NoError(t, bag.Err())

	bag.Add("doctor_id", "no current tariff")
	bag.Add("doctor_id", "second message")
	bag.Merge(ValidationErrors{"clinic_id": "no current tariff", "doctor_id": "ignored"})

	require.True(t, bag.Any())
	require.Equal(t, "no current tariff", bag["doctor_id"])
	require.Equal(t, "validation failed: clinic_id: no current tariff; doctor_id: no current tariff", bag.Error())
}

func TestAsValidationErrorsUnwraps(t *testing.T) {
	bag := ValidationErrors{"#direction": "patient missing"}
	wrapped := fmt.Errorf("process: %w", bag)

	got, ok := AsValidationErrors(wrapped)
	require.True(t, ok)
	require.Equal(t, "patient missing", got["#direction"])

	_, ok = AsValidationErrors(errors.New("plain"))
	require.False(t, ok)
}

type sampleInput struct {
	DoctorID   int64   `json:"doctor_id" validate:"required,gt=0"`
	Date       string  `json:"date" validate:"required,datetime=2006-01-02"`
	ServiceIDs []int64 `json:"service_ids" validate:"min=1"`
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	v := NewValidator()

	bag, err := ValidateStruct(v, sampleInput{Date: "10.05.2024"})
	require.NoError(t, err)
	require.Equal(t, "is required", bag["doctor_id"])
	require.Equal(t, "must be a date formatted as 2006-01-02", bag["date"])
	require.Equal(t, "must contain at least 1 item(s)", bag["service_ids"])

	bag, err = ValidateStruct(v, sampleInput{DoctorID: 3, Date: "2024-05-10", ServiceIDs: []int64{1}})
	require.NoError(t, err)
	require.False(t, bag.Any())
}
