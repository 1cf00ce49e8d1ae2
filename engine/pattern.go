/*
pattern.go - Temporal pattern qualifier for eligibility conditions

PURPOSE:
  Decides whether a worker's attendance history satisfies a consecutive-
  occurrence rule, e.g. "worked 3 consecutive Sundays" or "at least 40 hours
  across any 5 consecutive shifts". Components carry a PatternDescriptor as
  their eligibility condition; the pipeline consults this qualifier before
  evaluating such components.

PATTERN VARIANTS:
  day_of_week    Consecutive occurrences of one weekday, spaced exactly 7 days
  shift_type     Consecutive calendar days on one shift type
  location       Consecutive calendar days at one work location
  role           Consecutive calendar days in one role
  rolling_hours  Summed hours over a window of N consecutive entries,
                 compared against a threshold (> < = >= <=)
  combined       AND/OR composition of sub-patterns

EVIDENCE:
  Qualification always carries the runs or windows that were found. This is
  part of the contract, not telemetry: eligibility decisions affect pay and
  must be explainable after the fact.

FAIL-CLOSED:
  If attendance history cannot be fetched, the qualifier returns
  qualified=false instead of an error. A data outage must never grant an
  eligibility-gated payment. This is a deliberate business decision;
  see the dedicated test in pattern_test.go.

SEE ALSO:
  - pipeline.go: Calls Qualifies before evaluating conditional components
  - store.go: AttendanceStore interface
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PATTERN DESCRIPTOR - Declarative eligibility condition (a tree, not a graph)
// =============================================================================

type PatternType string

const (
	PatternDayOfWeek    PatternType = "day_of_week"
	PatternShiftType    PatternType = "shift_type"
	PatternLocation     PatternType = "location"
	PatternRole         PatternType = "role"
	PatternRollingHours PatternType = "rolling_hours"
	PatternCombined     PatternType = "combined"
)

type CombineMode string

const (
	CombineAll CombineMode = "all" // AND
	CombineAny CombineMode = "any" // OR
)

type ComparisonOp string

const (
	CompareGT  ComparisonOp = ">"
	CompareLT  ComparisonOp = "<"
	CompareEQ  ComparisonOp = "="
	CompareGTE ComparisonOp = ">="
	CompareLTE ComparisonOp = "<="
)

// PatternDescriptor is a tagged variant; only the fields relevant to Type are
// read. Descriptors are trees by construction, so no cycle check is needed
// here (unlike template inclusion).
type PatternDescriptor struct {
	Type PatternType `json:"type"`

	// Facet selectors for the leaf variants.
	DayOfWeek   time.Weekday `json:"day_of_week,omitempty"`
	ShiftTypeID string       `json:"shift_type_id,omitempty"`
	LocationID  string       `json:"location_id,omitempty"`
	RoleID      string       `json:"role_id,omitempty"`

	// RequiredCount is the consecutive-occurrence count for leaf patterns,
	// or the window length in entries for rolling_hours.
	RequiredCount int `json:"required_count,omitempty"`

	// LookbackDays bounds the attendance history fetched.
	LookbackDays int `json:"lookback_days,omitempty"`

	// Rolling-hours threshold.
	HoursThreshold *decimal.Decimal `json:"hours_threshold,omitempty"`
	Comparison     ComparisonOp     `json:"comparison,omitempty"`

	// Combined composition.
	Combine     CombineMode         `json:"combine,omitempty"`
	Subpatterns []PatternDescriptor `json:"subpatterns,omitempty"`
}

// Validate checks the descriptor carries the fields its variant requires.
func (p PatternDescriptor) Validate() error {
	switch p.Type {
	case PatternDayOfWeek, PatternShiftType, PatternLocation, PatternRole:
		if p.RequiredCount < 1 {
			return &ValidationError{Field: "pattern.required_count", Message: "must be at least 1"}
		}
		if p.LookbackDays < 1 {
			return &ValidationError{Field: "pattern.lookback_days", Message: "must be at least 1"}
		}
	case PatternRollingHours:
		if p.RequiredCount < 1 {
			return &ValidationError{Field: "pattern.required_count", Message: "must be at least 1"}
		}
		if p.LookbackDays < 1 {
			return &ValidationError{Field: "pattern.lookback_days", Message: "must be at least 1"}
		}
		if p.HoursThreshold == nil {
			return &ValidationError{Field: "pattern.hours_threshold", Message: "rolling hours pattern requires a threshold"}
		}
		switch p.Comparison {
		case CompareGT, CompareLT, CompareEQ, CompareGTE, CompareLTE:
		default:
			return &ValidationError{Field: "pattern.comparison", Message: fmt.Sprintf("unknown comparison %q", p.Comparison)}
		}
	case PatternCombined:
		if len(p.Subpatterns) == 0 {
			return &ValidationError{Field: "pattern.subpatterns", Message: "combined pattern requires sub-patterns"}
		}
		if p.Combine != CombineAll && p.Combine != CombineAny {
			return &ValidationError{Field: "pattern.combine", Message: fmt.Sprintf("unknown combine mode %q", p.Combine)}
		}
		for _, sub := range p.Subpatterns {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	default:
		return &ValidationError{Field: "pattern.type", Message: fmt.Sprintf("unknown pattern type %q", p.Type)}
	}
	return nil
}

// =============================================================================
// ATTENDANCE RECORDS
// =============================================================================

// TimeEntry is one approved attendance record.
type TimeEntry struct {
	Date        TimePoint
	HoursWorked decimal.Decimal
	ShiftTypeID string
	LocationID  string
	RoleID      string
}

// =============================================================================
// QUALIFICATION RESULT - Decision plus the evidence behind it
// =============================================================================

// Run is a maximal streak of matching occurrences spaced one cycle apart.
type Run struct {
	Start  TimePoint
	End    TimePoint
	Length int
}

// HoursWindow is a window of consecutive entries and its summed hours.
type HoursWindow struct {
	Start      TimePoint
	End        TimePoint
	Entries    int
	TotalHours decimal.Decimal
}

// Qualification is the qualifier's decision with supporting evidence.
type Qualification struct {
	Qualified bool
	Pattern   PatternType

	// Evidence: maximal runs found (consecutive variants) or qualifying
	// windows (rolling hours). Populated even on a negative decision so the
	// outcome is auditable.
	Runs    []Run
	Windows []HoursWindow

	// Children holds sub-pattern results for combined patterns.
	Children []Qualification

	// Reason is set when the decision needs explaining, e.g. fail-closed.
	Reason string
}

// =============================================================================
// PATTERN QUALIFIER
// =============================================================================

// PatternQualifier evaluates pattern descriptors against attendance history.
// Stateless: every call fetches fresh history.
type PatternQualifier struct {
	Attendance AttendanceStore
}

func NewPatternQualifier(attendance AttendanceStore) *PatternQualifier {
	return &PatternQualifier{Attendance: attendance}
}

// Qualifies decides whether the worker's history satisfies the pattern as of
// the reference date. Attendance-fetch failures produce qualified=false, not
// an error (fail-closed).
func (q *PatternQualifier) Qualifies(ctx context.Context, workerID WorkerID, pattern PatternDescriptor, asOf TimePoint) Qualification {
	if err := pattern.Validate(); err != nil {
		return Qualification{Qualified: false, Pattern: pattern.Type, Reason: err.Error()}
	}

	switch pattern.Type {
	case PatternCombined:
		return q.qualifyCombined(ctx, workerID, pattern, asOf)
	case PatternRollingHours:
		return q.qualifyRollingHours(ctx, workerID, pattern, asOf)
	default:
		return q.qualifyConsecutive(ctx, workerID, pattern, asOf)
	}
}

func (q *PatternQualifier) fetch(ctx context.Context, workerID WorkerID, pattern PatternDescriptor, asOf TimePoint) ([]TimeEntry, bool) {
	from := asOf.AddDays(-pattern.LookbackDays)
	entries, err := q.Attendance.FindApprovedTimeEntries(ctx, workerID, from, asOf)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// qualifyConsecutive handles the day-of-week, shift-type, location, and role
// variants: filter to the pattern's facet, then find the longest streak of
// occurrences spaced exactly one matching cycle apart.
func (q *PatternQualifier) qualifyConsecutive(ctx context.Context, workerID WorkerID, pattern PatternDescriptor, asOf TimePoint) Qualification {
	entries, ok := q.fetch(ctx, workerID, pattern, asOf)
	if !ok {
		return failClosed(pattern.Type)
	}

	dates := matchingDates(entries, pattern)
	runs := findRuns(dates, cycleDays(pattern.Type))

	result := Qualification{Pattern: pattern.Type, Runs: runs}
	for _, run := range runs {
		if run.Length >= pattern.RequiredCount {
			result.Qualified = true
			break
		}
	}
	if !result.Qualified {
		result.Reason = fmt.Sprintf("longest run %d of required %d", longestRun(runs), pattern.RequiredCount)
	}
	return result
}

// qualifyRollingHours slides a window of RequiredCount consecutive entries
// across the sorted history and compares each window's summed hours against
// the threshold.
func (q *PatternQualifier) qualifyRollingHours(ctx context.Context, workerID WorkerID, pattern PatternDescriptor, asOf TimePoint) Qualification {
	entries, ok := q.fetch(ctx, workerID, pattern, asOf)
	if !ok {
		return failClosed(pattern.Type)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })

	result := Qualification{Pattern: pattern.Type}
	n := pattern.RequiredCount
	for i := 0; i+n <= len(entries); i++ {
		window := entries[i : i+n]
		total := decimal.Zero
		for _, e := range window {
			total = total.Add(e.HoursWorked)
		}
		if compareHours(pattern.Comparison, total, *pattern.HoursThreshold) {
			result.Qualified = true
			result.Windows = append(result.Windows, HoursWindow{
				Start:      window[0].Date,
				End:        window[n-1].Date,
				Entries:    n,
				TotalHours: total,
			})
		}
	}
	if !result.Qualified {
		result.Reason = fmt.Sprintf("no window of %d entries satisfied hours %s %s",
			n, pattern.Comparison, pattern.HoursThreshold.String())
	}
	return result
}

// qualifyCombined recursively qualifies sub-patterns and combines with
// AND (all) or OR (any).
func (q *PatternQualifier) qualifyCombined(ctx context.Context, workerID WorkerID, pattern PatternDescriptor, asOf TimePoint) Qualification {
	result := Qualification{Pattern: PatternCombined, Qualified: pattern.Combine == CombineAll}
	for _, sub := range pattern.Subpatterns {
		child := q.Qualifies(ctx, workerID, sub, asOf)
		result.Children = append(result.Children, child)
		if pattern.Combine == CombineAll {
			result.Qualified = result.Qualified && child.Qualified
		} else {
			result.Qualified = result.Qualified || child.Qualified
		}
	}
	return result
}

func failClosed(pt PatternType) Qualification {
	return Qualification{
		Qualified: false,
		Pattern:   pt,
		Reason:    "attendance history unavailable; failing closed",
	}
}

// =============================================================================
// RUN DETECTION
// =============================================================================

// cycleDays is the exact spacing between consecutive matching occurrences:
// 7 for a weekly day-of-week pattern, 1 calendar day for the rest.
func cycleDays(pt PatternType) int {
	if pt == PatternDayOfWeek {
		return 7
	}
	return 1
}

func matchesFacet(entry TimeEntry, pattern PatternDescriptor) bool {
	switch pattern.Type {
	case PatternDayOfWeek:
		return entry.Date.Weekday() == pattern.DayOfWeek
	case PatternShiftType:
		return entry.ShiftTypeID == pattern.ShiftTypeID
	case PatternLocation:
		return entry.LocationID == pattern.LocationID
	case PatternRole:
		return entry.RoleID == pattern.RoleID
	default:
		return false
	}
}

// matchingDates returns the sorted, de-duplicated dates of entries matching
// the pattern's facet. Multiple entries on one day count once.
func matchingDates(entries []TimeEntry, pattern PatternDescriptor) []TimePoint {
	seen := make(map[string]bool)
	var dates []TimePoint
	for _, e := range entries {
		if !matchesFacet(e, pattern) {
			continue
		}
		key := e.Date.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		dates = append(dates, e.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// findRuns splits sorted dates into maximal runs spaced exactly cycle days
// apart. A gap of any other size breaks the run and resets the count.
func findRuns(dates []TimePoint, cycle int) []Run {
	var runs []Run
	for i := 0; i < len(dates); {
		j := i
		for j+1 < len(dates) && DaysBetween(dates[j], dates[j+1]) == cycle {
			j++
		}
		runs = append(runs, Run{Start: dates[i], End: dates[j], Length: j - i + 1})
		i = j + 1
	}
	return runs
}

func longestRun(runs []Run) int {
	best := 0
	for _, r := range runs {
		if r.Length > best {
			best = r.Length
		}
	}
	return best
}

func compareHours(op ComparisonOp, total, threshold decimal.Decimal) bool {
	switch op {
	case CompareGT:
		return total.GreaterThan(threshold)
	case CompareLT:
		return total.LessThan(threshold)
	case CompareEQ:
		return total.Equal(threshold)
	case CompareGTE:
		return total.GreaterThanOrEqual(threshold)
	case CompareLTE:
		return total.LessThanOrEqual(threshold)
	default:
		return false
	}
}
