package engine

import (
	"time"
)

// =============================================================================
// TIME POINT - Calendar-day abstraction used across the engine
// =============================================================================
// Payroll periods, effective ranges, and attendance records all operate at
// day granularity; normalizing here keeps comparisons stable regardless of
// the wall-clock component of the underlying time.Time.

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func Today() TimePoint {
	now := time.Now()
	return NewTimePoint(now.Year(), now.Month(), now.Day())
}

// ParseTimePoint parses a "YYYY-MM-DD" date string.
func ParseTimePoint(s string) (TimePoint, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TimePoint{}, err
	}
	return NewTimePoint(t.Year(), t.Month(), t.Day()), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format("2006-01-02")
}

// DaysBetween returns the number of whole days from one point to another.
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// =============================================================================
// EFFECTIVE RANGE - Shared by templates, inclusions, and assignments
// =============================================================================

// EffectiveRange is a half-open-ended date range. A nil To means still active.
type EffectiveRange struct {
	From TimePoint
	To   *TimePoint
}

// Contains reports whether the range covers the given date (inclusive bounds).
func (er EffectiveRange) Contains(at TimePoint) bool {
	if at.Before(er.From) {
		return false
	}
	if er.To != nil && at.After(*er.To) {
		return false
	}
	return true
}

// Overlaps reports whether two ranges share at least one day.
func (er EffectiveRange) Overlaps(other EffectiveRange) bool {
	if er.To != nil && other.From.After(*er.To) {
		return false
	}
	if other.To != nil && er.From.After(*other.To) {
		return false
	}
	return true
}
