/*
Package engine provides the core pay structure resolution and calculation engine.

PURPOSE:
  This package contains the domain types and algorithms for multi-tenant
  payroll computation: versioned pay structure templates composed through
  inclusion, per-worker assignments with overrides, and the calculation
  pipeline that turns a resolved structure into an itemized pay result.

KEY CONCEPTS IN THIS FILE (types.go):
  - Template: A versioned, reusable definition of pay components
  - Component: One calculable element of pay (earning, deduction, tax, ...)
  - CalcConfig: Closed tagged union over the five calculation variants
  - TemplateInclusion: A directed, prioritized reference between templates
  - WorkerStructureAssignment: Pins a worker to one template version
  - ComponentOverride: Worker-specific adjustment to one component

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for every amount and rate
  2. Closed unions: Each calculation type carries exactly one typed payload,
     so a missing required field is a construction-time error
  3. Immutability: Active templates never mutate; changes make a new version
  4. Type Safety: Strong typing for IDs prevents mixing template/worker IDs

SEE ALSO:
  - resolver.go: Flattens the inclusion graph into one component list
  - pipeline.go: Computes a worker's pay from a resolved structure
  - pattern.go: Eligibility conditions over attendance history
  - formula.go: Restricted arithmetic evaluator for formula components
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrgID string
type TemplateID string
type WorkerID string
type AssignmentID string
type ComponentCode string

// =============================================================================
// SEMANTIC VERSION - Template identity includes an exact version
// =============================================================================

type SemVer struct {
	Major int
	Minor int
	Patch int
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 ordering versions numerically.
func (v SemVer) Compare(other SemVer) int {
	pairs := [][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// ParseSemVer parses "major.minor.patch".
func ParseSemVer(s string) (SemVer, error) {
	var v SemVer
	if _, err := fmt.Sscanf(s, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch); err != nil {
		return SemVer{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// =============================================================================
// TEMPLATE - Versioned pay structure definition
// =============================================================================

type TemplateStatus string

const (
	StatusDraft      TemplateStatus = "draft"
	StatusActive     TemplateStatus = "active"
	StatusDeprecated TemplateStatus = "deprecated"
	StatusArchived   TemplateStatus = "archived"
)

// CanTransitionTo enforces the monotonic forward-only lifecycle:
// draft -> active -> deprecated/archived. No transition ever goes backward.
func (s TemplateStatus) CanTransitionTo(next TemplateStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusActive || next == StatusArchived
	case StatusActive:
		return next == StatusDeprecated || next == StatusArchived
	case StatusDeprecated:
		return next == StatusArchived
	default:
		return false
	}
}

type PayFrequency string

const (
	FreqMonthly     PayFrequency = "monthly"
	FreqSemiMonthly PayFrequency = "semi_monthly"
	FreqBiWeekly    PayFrequency = "bi_weekly"
	FreqWeekly      PayFrequency = "weekly"
)

// Template is the versioned definition of a pay structure. Components and
// inclusions are stored separately and loaded through TemplateStore.
// Once Status leaves draft, everything except Status is immutable; a change
// requires publishing a new version.
type Template struct {
	ID      TemplateID
	OrgID   OrgID
	Code    string
	Version SemVer
	Name    string
	Status  TemplateStatus

	Effective    EffectiveRange
	Currency     string
	PayFrequency PayFrequency

	// At most one template per organization may be the default at a time.
	IsOrganizationDefault bool
}

// IsActiveAt reports whether the template is usable for calculation at a date.
func (t Template) IsActiveAt(at TimePoint) bool {
	return t.Status == StatusActive && t.Effective.Contains(at)
}

// =============================================================================
// COMPONENT - One calculable element of pay
// =============================================================================

type Category string

const (
	CategoryEarning       Category = "earning"
	CategoryDeduction     Category = "deduction"
	CategoryTax           Category = "tax"
	CategoryBenefit       Category = "benefit"
	CategoryEmployerCost  Category = "employer_cost"
	CategoryReimbursement Category = "reimbursement"
)

type CalcType string

const (
	CalcFixed      CalcType = "fixed"
	CalcPercentage CalcType = "percentage"
	CalcFormula    CalcType = "formula"
	CalcHourlyRate CalcType = "hourly_rate"
	CalcTiered     CalcType = "tiered"
	CalcExternal   CalcType = "external"
)

// Component is one named calculable element within a template.
// Code is unique within the owning template.
type Component struct {
	TemplateID TemplateID
	Code       ComponentCode
	Name       string
	Category   Category
	Calc       CalcConfig

	// SequenceOrder determines evaluation order. Ties are broken by
	// component code so the ordering is a stable total order.
	SequenceOrder int

	AffectsGrossPay bool
	AffectsNetPay   bool
	IsTaxable       bool
	IsMandatory     bool

	Limits *ValueLimits

	// Condition gates the component on the worker's attendance history.
	// A nil condition means the component always applies.
	Condition *PatternDescriptor
}

// ValueLimits clamp a component's computed value.
type ValueLimits struct {
	MinPerCalculation *decimal.Decimal
	MaxPerCalculation *decimal.Decimal
	MaxPerPeriod      *decimal.Decimal
	MaxPerYear        *decimal.Decimal
}

// =============================================================================
// CALCULATION CONFIG - Closed tagged union, one payload per calculation type
// =============================================================================

// CalcConfig holds exactly one variant matching Type. Validate() makes a
// missing or mismatched payload a construction-time error instead of a
// runtime nil dereference.
type CalcConfig struct {
	Type       CalcType
	Fixed      *FixedCalc
	Percentage *PercentageCalc
	Formula    *FormulaCalc
	HourlyRate *HourlyRateCalc
	Tiered     *TieredCalc
	External   *ExternalCalc
}

// FixedCalc pays a flat amount per calculation.
type FixedCalc struct {
	Amount decimal.Decimal
}

// PercentageCalc pays Rate percent of a named base value. PercentageOf is a
// component code or a well-known context field (e.g. GROSS_EARNINGS).
type PercentageCalc struct {
	PercentageOf string
	Rate         decimal.Decimal // percent, e.g. 4 means 4%
}

// FormulaCalc evaluates an arithmetic expression over the calculation context.
type FormulaCalc struct {
	Expression string
}

// HourlyRateCalc pays hours x rate x multiplier. A zero Rate falls back to
// the worker's compensation hourly rate.
type HourlyRateCalc struct {
	Rate       decimal.Decimal
	Multiplier decimal.Decimal // e.g. 1.5 for overtime; zero means 1.0
}

// TieredCalc applies a bracket table to a named basis value.
type TieredCalc struct {
	BasisField string
	Brackets   []TierBracket
}

// TierBracket covers [From, To). A nil To means the bracket is open-ended.
// Either Rate (percent applied to the portion inside the bracket) or
// FlatAmount (added once when the bracket is entered) must be set.
type TierBracket struct {
	From       decimal.Decimal
	To         *decimal.Decimal
	Rate       *decimal.Decimal
	FlatAmount *decimal.Decimal
}

// ExternalCalc delegates to a pluggable service (e.g. statutory tax math).
type ExternalCalc struct {
	ServiceKey string
}

// Validate checks that the config carries exactly the payload its type
// requires and that type-specific invariants hold.
func (c CalcConfig) Validate() error {
	switch c.Type {
	case CalcFixed:
		if c.Fixed == nil {
			return &ValidationError{Field: "calc.fixed", Message: "fixed component requires an amount payload"}
		}
	case CalcPercentage:
		if c.Percentage == nil || c.Percentage.PercentageOf == "" {
			return &ValidationError{Field: "calc.percentage", Message: "percentage component requires a percentageOf reference"}
		}
	case CalcFormula:
		if c.Formula == nil || c.Formula.Expression == "" {
			return &ValidationError{Field: "calc.formula", Message: "formula component requires non-empty formula text"}
		}
	case CalcHourlyRate:
		if c.HourlyRate == nil {
			return &ValidationError{Field: "calc.hourly_rate", Message: "hourly rate component requires a rate payload"}
		}
	case CalcTiered:
		if c.Tiered == nil || len(c.Tiered.Brackets) == 0 {
			return &ValidationError{Field: "calc.tiered", Message: "tiered component requires at least one bracket"}
		}
		if c.Tiered.BasisField == "" {
			return &ValidationError{Field: "calc.tiered", Message: "tiered component requires a basis field"}
		}
	case CalcExternal:
		if c.External == nil || c.External.ServiceKey == "" {
			return &ValidationError{Field: "calc.external", Message: "external component requires a service key"}
		}
	default:
		return &ValidationError{Field: "calc.type", Message: fmt.Sprintf("unknown calculation type %q", c.Type)}
	}
	return nil
}

// =============================================================================
// TEMPLATE INCLUSION - Directed edge between templates, merged at resolution
// =============================================================================

type MergeMode string

const (
	// MergeModeMerge: first writer wins - inherited components already in the
	// accumulator are kept.
	MergeModeMerge MergeMode = "merge"
	// MergeModeOverride: last writer wins - always replace.
	MergeModeOverride MergeMode = "override"
	// MergeModeAdditive: sum default amounts for fixed components; insert
	// otherwise. Only defined for fixed-amount components.
	MergeModeAdditive MergeMode = "additive"
)

// TemplateInclusion references another template by code. Priority orders the
// merge (lower value merges first, i.e. lower precedence). No two inclusions
// of the same parent may share a priority.
type TemplateInclusion struct {
	ParentID     TemplateID
	IncludedCode string

	// VersionPin pins the included template to an exact version.
	// Nil means "latest active".
	VersionPin *SemVer

	Priority  int
	MergeMode MergeMode

	// Component filters applied to the included template's resolved list.
	// An empty allow list admits everything not denied.
	AllowComponents []ComponentCode
	DenyComponents  []ComponentCode

	Effective EffectiveRange
}

// Admits applies the inclusion's allow/deny filter to a component code.
func (inc TemplateInclusion) Admits(code ComponentCode) bool {
	for _, denied := range inc.DenyComponents {
		if denied == code {
			return false
		}
	}
	if len(inc.AllowComponents) == 0 {
		return true
	}
	for _, allowed := range inc.AllowComponents {
		if allowed == code {
			return true
		}
	}
	return false
}

// =============================================================================
// WORKER STRUCTURE ASSIGNMENT - Pins one worker to one template version
// =============================================================================

// Compensation is the caller-supplied base pay input. It is the single source
// of truth for base pay; the template never defines it.
type Compensation struct {
	BaseSalary   *decimal.Decimal
	HourlyRate   *decimal.Decimal
	Hours        *decimal.Decimal
	PayFrequency PayFrequency
}

// WorkerStructureAssignment links a worker to a specific template version for
// an effective period. The version is pinned at assignment time, not a live
// pointer. A worker has at most one assignment covering any given date;
// creating an overlapping assignment soft-closes the prior one.
type WorkerStructureAssignment struct {
	ID         AssignmentID
	WorkerID   WorkerID
	OrgID      OrgID
	TemplateID TemplateID

	Compensation Compensation
	Effective    EffectiveRange
}

// IsActive reports whether the assignment covers the given date.
func (a WorkerStructureAssignment) IsActive(at TimePoint) bool {
	return a.Effective.Contains(at)
}

// =============================================================================
// COMPONENT OVERRIDE - Worker-specific adjustment, scoped to one assignment
// =============================================================================

type OverrideType string

const (
	OverrideAmount     OverrideType = "amount"
	OverridePercentage OverrideType = "percentage"
	OverrideFormula    OverrideType = "formula"
	OverrideRate       OverrideType = "rate"
	OverrideDisabled   OverrideType = "disabled"
	OverrideCondition  OverrideType = "condition"
)

// ComponentOverride adjusts one component's calculation for one assignment.
// A disabled override suppresses the component entirely, even if the template
// marks it mandatory.
type ComponentOverride struct {
	AssignmentID  AssignmentID
	ComponentCode ComponentCode
	Type          OverrideType

	Amount    *decimal.Decimal
	Rate      *decimal.Decimal
	Formula   string
	Condition *PatternDescriptor

	// Optional tighter clamps, applied on top of the component's own limits.
	MinValue *decimal.Decimal
	MaxValue *decimal.Decimal

	Justification string
}

// Validate checks that the override carries the value its type requires.
func (o ComponentOverride) Validate() error {
	switch o.Type {
	case OverrideAmount:
		if o.Amount == nil {
			return &ValidationError{Field: "override.amount", Message: "amount override requires a value"}
		}
	case OverridePercentage, OverrideRate:
		if o.Rate == nil {
			return &ValidationError{Field: "override.rate", Message: string(o.Type) + " override requires a rate"}
		}
	case OverrideFormula:
		if o.Formula == "" {
			return &ValidationError{Field: "override.formula", Message: "formula override requires formula text"}
		}
	case OverrideCondition:
		if o.Condition == nil {
			return &ValidationError{Field: "override.condition", Message: "condition override requires a pattern"}
		}
	case OverrideDisabled:
		// no payload
	default:
		return &ValidationError{Field: "override.type", Message: fmt.Sprintf("unknown override type %q", o.Type)}
	}
	if o.Justification == "" {
		return &ValidationError{Field: "override.justification", Message: "overrides require justification text"}
	}
	return nil
}
