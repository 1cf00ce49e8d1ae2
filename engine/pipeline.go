/*
pipeline.go - Per-worker calculation pipeline

PURPOSE:
  Turns a worker's resolved pay structure into an itemized calculation:
  fetch the current assignment and overrides, resolve the template, walk the
  components in sequence order, evaluate each one, and aggregate category
  totals. This is where the resolver, pattern qualifier, and formula
  evaluator meet.

PIPELINE:
  1. Fetch assignment (pinned template version) + overrides
  2. Seed the context with base pay (BASE_SALARY or REGULAR_PAY) so base pay
     is always part of gross earnings, even if the template defines no
     explicit base component
  3. Per component, in sequence order:
     a. disabled override          -> skip entirely
     b. pattern condition          -> consult the qualifier, skip if not met
     c. resolve effective config   -> matching-type override wins
     d. evaluate by type           -> fixed / percentage / hourly / formula /
                                      tiered / external
     e. clamp to min/max
     f. append line item, feed earnings into the running gross context
  4. Sum per category; net = earnings - deductions - taxes

CONTEXT:
  The evaluation context is immutable-append: each step produces a new
  context value rather than mutating shared state. Later components read
  earlier results by component code or by well-known field (GROSS_EARNINGS).

FAILURE POLICY:
  One component failing aborts the entire calculation with
  ComponentCalculationError naming the component. A partial paycheck is
  never produced silently. Calculations are side-effect-free, so an aborted
  or cancelled run can simply be discarded.

SEE ALSO:
  - resolver.go: Produces the ordered component list
  - pattern.go: Eligibility gating
  - formula.go: Formula-type components
*/
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WELL-KNOWN CONTEXT FIELDS
// =============================================================================

const (
	FieldBaseSalary    = "BASE_SALARY"
	FieldRegularPay    = "REGULAR_PAY"
	FieldGrossEarnings = "GROSS_EARNINGS"
	FieldHoursWorked   = "HOURS_WORKED"
	FieldHourlyRate    = "HOURLY_RATE"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// CalcMetadata explains how a line item's amount was produced.
type CalcMetadata struct {
	CalculationType CalcType         `json:"calculation_type"`
	Basis           string           `json:"basis,omitempty"`
	BasisValue      *decimal.Decimal `json:"basis_value,omitempty"`
	Rate            *decimal.Decimal `json:"rate,omitempty"`
	Hours           *decimal.Decimal `json:"hours,omitempty"`
	Multiplier      *decimal.Decimal `json:"multiplier,omitempty"`
	Formula         string           `json:"formula,omitempty"`
	Overridden      bool             `json:"overridden,omitempty"`
	Clamped         bool             `json:"clamped,omitempty"`

	// Qualification carries the pattern evidence for condition-gated
	// components, so the eligibility decision is auditable.
	Qualification *Qualification `json:"qualification,omitempty"`
}

type LineItem struct {
	ComponentCode ComponentCode   `json:"component_code"`
	Name          string          `json:"name,omitempty"`
	Category      Category        `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Metadata      CalcMetadata    `json:"calculation_metadata"`
}

type Summary struct {
	TotalEarnings       decimal.Decimal `json:"total_earnings"`
	TotalDeductions     decimal.Decimal `json:"total_deductions"`
	TotalTaxes          decimal.Decimal `json:"total_taxes"`
	TotalBenefits       decimal.Decimal `json:"total_benefits"`
	TotalEmployerCost   decimal.Decimal `json:"total_employer_cost"`
	TotalReimbursements decimal.Decimal `json:"total_reimbursements"`
	NetPay              decimal.Decimal `json:"net_pay"`
}

type CalculationResult struct {
	WorkerID     WorkerID     `json:"worker_id"`
	AssignmentID AssignmentID `json:"assignment_id"`
	TemplateID   TemplateID   `json:"template_id"`
	AsOf         TimePoint    `json:"-"`
	LineItems    []LineItem   `json:"line_items"`
	Summary      Summary      `json:"summary"`
}

// =============================================================================
// EXTERNAL CALCULATION HOOK
// =============================================================================

// ExternalCalculator is the pluggable target for external-type components
// (e.g. a statutory tax-bracket service). The engine never does statutory
// math itself.
type ExternalCalculator interface {
	CalculateExternal(ctx context.Context, serviceKey string, component Component, variables map[string]decimal.Decimal) (decimal.Decimal, error)
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator runs the per-worker pipeline. Calculations for distinct workers
// are independent and side-effect-free, so one Calculator may be shared by
// any number of concurrent calculations.
type Calculator struct {
	Assignments AssignmentStore
	Resolver    *Resolver
	Qualifier   *PatternQualifier
	External    ExternalCalculator // nil if no external service is wired
}

func NewCalculator(assignments AssignmentStore, resolver *Resolver, qualifier *PatternQualifier) *Calculator {
	return &Calculator{Assignments: assignments, Resolver: resolver, Qualifier: qualifier}
}

// Calculate computes the itemized pay result for one worker as of a date.
// The caller-supplied compensation is the source of truth for base pay; if
// it names neither a salary nor an hourly rate, the assignment's stored
// compensation is used.
func (c *Calculator) Calculate(ctx context.Context, workerID WorkerID, input Compensation, asOf TimePoint) (*CalculationResult, error) {
	assignment, err := c.Assignments.GetCurrentWorkerStructure(ctx, workerID, asOf)
	if err != nil {
		return nil, err
	}
	overrides, err := c.Assignments.GetWorkerOverrides(ctx, assignment.ID)
	if err != nil {
		return nil, err
	}
	resolved, err := c.Resolver.Resolve(ctx, assignment.TemplateID, &asOf)
	if err != nil {
		return nil, err
	}

	compensation := input
	if compensation.BaseSalary == nil && compensation.HourlyRate == nil {
		compensation = assignment.Compensation
	}

	result := &CalculationResult{
		WorkerID:     workerID,
		AssignmentID: assignment.ID,
		TemplateID:   assignment.TemplateID,
		AsOf:         asOf,
	}

	evalCtx, baseItem, err := seedBasePay(compensation)
	if err != nil {
		return nil, err
	}
	result.LineItems = append(result.LineItems, baseItem)

	overridesByCode := groupOverrides(overrides)

	for _, component := range resolved.Components {
		componentOverrides := overridesByCode[component.Code]
		if hasDisabledOverride(componentOverrides) {
			continue
		}

		condition := effectiveCondition(component, componentOverrides)
		var qualification *Qualification
		if condition != nil {
			q := c.Qualifier.Qualifies(ctx, workerID, *condition, asOf)
			if !q.Qualified {
				continue
			}
			qualification = &q
		}

		item, nextCtx, err := c.evaluateComponent(ctx, component, componentOverrides, compensation, evalCtx)
		if err != nil {
			return nil, &ComponentCalculationError{ComponentCode: component.Code, Err: err}
		}
		item.Metadata.Qualification = qualification

		result.LineItems = append(result.LineItems, item)
		evalCtx = nextCtx
	}

	result.Summary = summarize(result.LineItems)
	return result, nil
}

// seedBasePay builds the automatic first line item from compensation input.
func seedBasePay(compensation Compensation) (evalContext, LineItem, error) {
	evalCtx := newEvalContext()

	switch {
	case compensation.BaseSalary != nil:
		amount := *compensation.BaseSalary
		evalCtx = evalCtx.with(FieldBaseSalary, amount)
		if compensation.Hours != nil {
			evalCtx = evalCtx.with(FieldHoursWorked, *compensation.Hours)
		}
		evalCtx = evalCtx.with(FieldGrossEarnings, amount)
		return evalCtx, LineItem{
			ComponentCode: FieldBaseSalary,
			Name:          "Base Salary",
			Category:      CategoryEarning,
			Amount:        amount,
			Metadata:      CalcMetadata{CalculationType: CalcFixed},
		}, nil

	case compensation.HourlyRate != nil:
		if compensation.Hours == nil {
			return evalContext{}, LineItem{}, &ValidationError{
				Field: "compensation.hours", Message: "hourly compensation requires hours worked",
			}
		}
		rate := *compensation.HourlyRate
		hours := *compensation.Hours
		amount := hours.Mul(rate)
		evalCtx = evalCtx.with(FieldHourlyRate, rate)
		evalCtx = evalCtx.with(FieldHoursWorked, hours)
		evalCtx = evalCtx.with(FieldRegularPay, amount)
		evalCtx = evalCtx.with(FieldGrossEarnings, amount)
		return evalCtx, LineItem{
			ComponentCode: FieldRegularPay,
			Name:          "Regular Pay",
			Category:      CategoryEarning,
			Amount:        amount,
			Metadata: CalcMetadata{
				CalculationType: CalcHourlyRate,
				Rate:            &rate,
				Hours:           &hours,
			},
		}, nil

	default:
		return evalContext{}, LineItem{}, &ValidationError{
			Field: "compensation", Message: "requires a base salary or an hourly rate",
		}
	}
}

// evaluateComponent computes one component's value and returns the line item
// plus the updated context.
func (c *Calculator) evaluateComponent(ctx context.Context, component Component, overrides []ComponentOverride, compensation Compensation, evalCtx evalContext) (LineItem, evalContext, error) {
	if err := component.Calc.Validate(); err != nil {
		return LineItem{}, evalContext{}, err
	}

	item := LineItem{
		ComponentCode: component.Code,
		Name:          component.Name,
		Category:      component.Category,
		Metadata:      CalcMetadata{CalculationType: component.Calc.Type},
	}

	amount, err := c.rawValue(ctx, component, overrides, compensation, evalCtx, &item.Metadata)
	if err != nil {
		return LineItem{}, evalContext{}, err
	}

	amount, clamped := clampValue(amount, component, overrides)
	item.Amount = amount
	item.Metadata.Clamped = clamped

	next := evalCtx.with(string(component.Code), amount)
	if component.Category == CategoryEarning && component.AffectsGrossPay {
		gross, _ := next.lookup(FieldGrossEarnings)
		next = next.with(FieldGrossEarnings, gross.Add(amount))
	}
	return item, next, nil
}

func (c *Calculator) rawValue(ctx context.Context, component Component, overrides []ComponentOverride, compensation Compensation, evalCtx evalContext, meta *CalcMetadata) (decimal.Decimal, error) {
	switch component.Calc.Type {
	case CalcFixed:
		amount := component.Calc.Fixed.Amount
		if o := findOverride(overrides, OverrideAmount); o != nil {
			amount = *o.Amount
			meta.Overridden = true
		}
		return amount, nil

	case CalcPercentage:
		cfg := component.Calc.Percentage
		rate := cfg.Rate
		if o := findOverride(overrides, OverridePercentage); o != nil {
			rate = *o.Rate
			meta.Overridden = true
		}
		base, ok := evalCtx.lookup(cfg.PercentageOf)
		if !ok {
			return decimal.Zero, fmt.Errorf("percentage base %q not present in calculation context", cfg.PercentageOf)
		}
		meta.Basis = cfg.PercentageOf
		meta.BasisValue = &base
		meta.Rate = &rate
		return base.Mul(rate).Div(decimal.NewFromInt(100)), nil

	case CalcHourlyRate:
		cfg := component.Calc.HourlyRate
		rate := cfg.Rate
		if o := findOverride(overrides, OverrideRate); o != nil {
			rate = *o.Rate
			meta.Overridden = true
		}
		if rate.IsZero() {
			if compensation.HourlyRate == nil {
				return decimal.Zero, fmt.Errorf("hourly component has no rate and compensation has no hourly rate")
			}
			rate = *compensation.HourlyRate
		}
		hours, ok := evalCtx.lookup(FieldHoursWorked)
		if !ok {
			return decimal.Zero, fmt.Errorf("hourly component requires hours worked in compensation input")
		}
		multiplier := cfg.Multiplier
		if multiplier.IsZero() {
			multiplier = decimal.NewFromInt(1)
		}
		meta.Rate = &rate
		meta.Hours = &hours
		meta.Multiplier = &multiplier
		return hours.Mul(rate).Mul(multiplier), nil

	case CalcFormula:
		expression := component.Calc.Formula.Expression
		if o := findOverride(overrides, OverrideFormula); o != nil {
			expression = o.Formula
			meta.Overridden = true
		}
		meta.Formula = expression
		return EvaluateFormula(expression, evalCtx.variables())

	case CalcTiered:
		cfg := component.Calc.Tiered
		basis, ok := evalCtx.lookup(cfg.BasisField)
		if !ok {
			return decimal.Zero, fmt.Errorf("tiered basis %q not present in calculation context", cfg.BasisField)
		}
		meta.Basis = cfg.BasisField
		meta.BasisValue = &basis
		return applyTiers(basis, cfg.Brackets), nil

	case CalcExternal:
		if c.External == nil {
			return decimal.Zero, fmt.Errorf("no external calculator configured for service %q", component.Calc.External.ServiceKey)
		}
		return c.External.CalculateExternal(ctx, component.Calc.External.ServiceKey, component, evalCtx.variables())

	default:
		return decimal.Zero, fmt.Errorf("unknown calculation type %q", component.Calc.Type)
	}
}

// applyTiers walks brackets in ascending threshold order, charging each
// bracket's rate (or flat amount) on the portion of the basis inside it,
// until the basis is exhausted.
func applyTiers(basis decimal.Decimal, brackets []TierBracket) decimal.Decimal {
	sorted := make([]TierBracket, len(brackets))
	copy(sorted, brackets)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].From.LessThan(sorted[j-1].From); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	total := decimal.Zero
	for _, bracket := range sorted {
		if basis.LessThanOrEqual(bracket.From) {
			break
		}
		upper := basis
		if bracket.To != nil && bracket.To.LessThan(basis) {
			upper = *bracket.To
		}
		portion := upper.Sub(bracket.From)
		if !portion.IsPositive() {
			continue
		}
		if bracket.Rate != nil {
			total = total.Add(portion.Mul(*bracket.Rate).Div(decimal.NewFromInt(100)))
		}
		if bracket.FlatAmount != nil {
			total = total.Add(*bracket.FlatAmount)
		}
	}
	return total
}

// =============================================================================
// OVERRIDE RESOLUTION
// =============================================================================

func groupOverrides(overrides []ComponentOverride) map[ComponentCode][]ComponentOverride {
	grouped := make(map[ComponentCode][]ComponentOverride)
	for _, o := range overrides {
		grouped[o.ComponentCode] = append(grouped[o.ComponentCode], o)
	}
	return grouped
}

func findOverride(overrides []ComponentOverride, t OverrideType) *ComponentOverride {
	for i := range overrides {
		if overrides[i].Type == t {
			return &overrides[i]
		}
	}
	return nil
}

func hasDisabledOverride(overrides []ComponentOverride) bool {
	return findOverride(overrides, OverrideDisabled) != nil
}

func effectiveCondition(component Component, overrides []ComponentOverride) *PatternDescriptor {
	if o := findOverride(overrides, OverrideCondition); o != nil {
		return o.Condition
	}
	return component.Condition
}

// clampValue applies the component's limits, then any tighter override
// limits on top.
func clampValue(amount decimal.Decimal, component Component, overrides []ComponentOverride) (decimal.Decimal, bool) {
	clamped := false
	apply := func(min, max *decimal.Decimal) {
		if min != nil && amount.LessThan(*min) {
			amount = *min
			clamped = true
		}
		if max != nil && amount.GreaterThan(*max) {
			amount = *max
			clamped = true
		}
	}
	if component.Limits != nil {
		apply(component.Limits.MinPerCalculation, component.Limits.MaxPerCalculation)
	}
	for _, o := range overrides {
		if o.MinValue != nil || o.MaxValue != nil {
			apply(o.MinValue, o.MaxValue)
		}
	}
	return amount, clamped
}

// =============================================================================
// TOTALS
// =============================================================================

func summarize(items []LineItem) Summary {
	var s Summary
	s.TotalEarnings = decimal.Zero
	s.TotalDeductions = decimal.Zero
	s.TotalTaxes = decimal.Zero
	s.TotalBenefits = decimal.Zero
	s.TotalEmployerCost = decimal.Zero
	s.TotalReimbursements = decimal.Zero
	for _, item := range items {
		switch item.Category {
		case CategoryEarning:
			s.TotalEarnings = s.TotalEarnings.Add(item.Amount)
		case CategoryDeduction:
			s.TotalDeductions = s.TotalDeductions.Add(item.Amount)
		case CategoryTax:
			s.TotalTaxes = s.TotalTaxes.Add(item.Amount)
		case CategoryBenefit:
			s.TotalBenefits = s.TotalBenefits.Add(item.Amount)
		case CategoryEmployerCost:
			s.TotalEmployerCost = s.TotalEmployerCost.Add(item.Amount)
		case CategoryReimbursement:
			s.TotalReimbursements = s.TotalReimbursements.Add(item.Amount)
		}
	}
	s.NetPay = s.TotalEarnings.Sub(s.TotalDeductions).Sub(s.TotalTaxes)
	return s
}

// =============================================================================
// EVALUATION CONTEXT - Immutable-append ordered map
// =============================================================================

// evalContext maps component codes and well-known fields to computed values.
// with() returns a new context rather than mutating, so no step ever sees
// state from a later step.
type evalContext struct {
	order  []string
	values map[string]decimal.Decimal
}

func newEvalContext() evalContext {
	return evalContext{values: map[string]decimal.Decimal{}}
}

func (c evalContext) with(name string, value decimal.Decimal) evalContext {
	next := evalContext{
		order:  make([]string, len(c.order), len(c.order)+1),
		values: make(map[string]decimal.Decimal, len(c.values)+1),
	}
	copy(next.order, c.order)
	for k, v := range c.values {
		next.values[k] = v
	}
	if _, exists := next.values[name]; !exists {
		next.order = append(next.order, name)
	}
	next.values[name] = value
	return next
}

func (c evalContext) lookup(name string) (decimal.Decimal, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c evalContext) variables() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
