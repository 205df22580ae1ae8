package models

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar date format used for grouping keys and query filters
const DateLayout = "2006-01-02"

// TimestampLayout is the strict layout canonical pressure timestamps are parsed with
const TimestampLayout = "2006-01-02 15:04:05"

// Reading represents a single barometric pressure reading
type Reading struct {
	ID        int64     `json:"-" db:"id"`
	Timestamp time.Time `json:"datetime" db:"ts"`
	Pressure  float64   `json:"pressure" db:"pressure"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// WindSample represents one SODAR measurement at a given height and instant
type WindSample struct {
	Timestamp time.Time `json:"datetime"`
	Height    float64   `json:"height"`
	Speed     float64   `json:"speed"`
	Direction float64   `json:"direction"`
}

// WindKey is the identity of a wind sample in the store
type WindKey struct {
	Timestamp time.Time
	Height    float64
}

// Key returns the identity key of the sample
func (w WindSample) Key() WindKey {
	return WindKey{Timestamp: w.Timestamp.UTC(), Height: w.Height}
}

// DirectionInRange reports whether the direction is a valid compass bearing
func (w WindSample) DirectionInRange() bool {
	return w.Direction >= 0 && w.Direction <= 360
}

// String renders the key as used for tags and lock striping
func (k WindKey) String() string {
	return k.Timestamp.Format(time.RFC3339) + "@" + FormatHeight(k.Height)
}

// FormatHeight renders a height bin without trailing zeros (40 -> "40", 12.5 -> "12.5")
func FormatHeight(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// DailySummary holds min/max/mean of one measurement over a calendar day.
// Nil statistics mean the day had no usable values.
type DailySummary struct {
	Date  string   `json:"date"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	Count int      `json:"count"`
}

// Empty reports whether the summary was computed over zero values
func (s DailySummary) Empty() bool {
	return s.Count == 0
}

// WindDailySummary combines speed statistics and mean direction for a day
type WindDailySummary struct {
	Date         string   `json:"date"`
	MinSpeed     *float64 `json:"min_speed"`
	MaxSpeed     *float64 `json:"max_speed"`
	AvgSpeed     *float64 `json:"avg_speed"`
	AvgDirection *float64 `json:"avg_direction"`
	Count        int      `json:"count"`
}

// HeightProfile is the mean wind at one height bin over a day.
// AvgDirection only averages in-range bearings and is nil when there were none.
type HeightProfile struct {
	Height       float64  `json:"height"`
	AvgSpeed     float64  `json:"avg_speed"`
	AvgDirection *float64 `json:"avg_direction"`
	Samples      int      `json:"samples"`
}

// UpsertOutcome is the result of an insert-if-absent write
type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota
	SkippedDuplicate
)

// String returns the metric label for the outcome
func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case SkippedDuplicate:
		return "skipped"
	default:
		return "unknown"
	}
}

// BatchResult counts outcomes of a multi-record upsert
type BatchResult struct {
	Inserted int
	Skipped  int
}

// Add records one outcome
func (b *BatchResult) Add(o UpsertOutcome) {
	if o == Inserted {
		b.Inserted++
		return
	}
	b.Skipped++
}

// Merge folds another result into b
func (b *BatchResult) Merge(other BatchResult) {
	b.Inserted += other.Inserted
	b.Skipped += other.Skipped
}

// ParseDate parses a YYYY-MM-DD query value into UTC midnight
func ParseDate(field, value string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("invalid %s format, expected YYYY-MM-DD", field),
		}
	}
	return d, nil
}

// DayOf truncates t to the start of its UTC calendar day
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
