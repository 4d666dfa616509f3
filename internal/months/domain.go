// Package months maps calendar dates onto Year and Month dimension rows.
package months

import (
	"errors"
	"time"
)

// DateLayout is the wire format of every billing date.
const DateLayout = "2006-01-02"

var (
	// ErrNotFound indicates a year or month row is absent.
	ErrNotFound = errors.New("months: not found")
	// ErrInvalidDate is returned by ParseDate for malformed input.
	ErrInvalidDate = errors.New("months: invalid date")
)

// Year is a calendar year row titled by its four digit number.
type Year struct {
	ID    int64
	Title string
}

// Month is a calendar month row. Month holds the two digit number ("05"),
// Title the display form ("May 2024").
type Month struct {
	ID     int64
	YearID int64
	Year   string
	Month  string
	Title  string
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

func monthFor(date time.Time) Month {
	return Month{
		Year:  date.Format("2006"),
		Month: date.Format("01"),
		Title: date.Format("January 2006"),
	}
}
