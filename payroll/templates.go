/*
Package payroll provides pre-built pay structure configurations.

PURPOSE:
  Ready-to-use template configurations for common pay structures. These are
  convenience builders that assemble Template + Components + Inclusions
  according to typical compensation patterns; organizations customize from
  here or define their own via the JSON factory.

AVAILABLE STRUCTURES:
  StandardMonthlySalaryStructure: Salary + allowances + pension + tiered tax
  HourlyWithOvertimeStructure:    Hourly base, overtime at 1.5x, night premium
  SalesCommissionStructure:       Base salary + formula-driven commission
  CompanyBaselineStructure:       Mandatory statutory components, meant to be
                                  included by other templates

COMPONENT BUILDERS:
  Individual builders (HousingAllowance, PensionContribution, ...) are
  exported so custom templates can be assembled from the same parts.

EXAMPLE:
  config := payroll.StandardMonthlySalaryStructure("tpl-std", "org-1", "STD_MONTHLY")
  if err := config.Install(ctx, store); err != nil { ... }
  resolved, _ := resolver.Resolve(ctx, config.Template.ID, nil)

SEE ALSO:
  - engine/types.go: Template and Component definitions
  - factory/template.go: JSON-based template creation
*/
package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/engine"
)

// =============================================================================
// STRUCTURE CONFIG
// =============================================================================

// StructureConfig bundles a template with its components and inclusions.
type StructureConfig struct {
	Template   engine.Template
	Components []engine.Component
	Inclusions []engine.TemplateInclusion
}

// Install saves the configuration as a draft and activates it.
func (c StructureConfig) Install(ctx context.Context, store engine.Store) error {
	template := c.Template
	template.Status = engine.StatusDraft
	if err := store.SaveTemplate(ctx, template); err != nil {
		return err
	}
	if err := store.SaveComponents(ctx, template.ID, c.Components); err != nil {
		return err
	}
	if err := store.SaveInclusions(ctx, template.ID, c.Inclusions); err != nil {
		return err
	}
	return store.UpdateTemplateStatus(ctx, template.ID, engine.StatusActive)
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func dp(v float64) *decimal.Decimal {
	out := decimal.NewFromFloat(v)
	return &out
}

// =============================================================================
// COMPONENT BUILDERS
// =============================================================================

// HousingAllowance is a fixed monthly earning.
func HousingAllowance(amount float64, sequence int) engine.Component {
	return engine.Component{
		Code:            "HOUSING_ALLOWANCE",
		Name:            "Housing Allowance",
		Category:        engine.CategoryEarning,
		SequenceOrder:   sequence,
		AffectsGrossPay: true,
		AffectsNetPay:   true,
		Calc: engine.CalcConfig{
			Type:  engine.CalcFixed,
			Fixed: &engine.FixedCalc{Amount: d(amount)},
		},
	}
}

// TransportAllowance is a fixed monthly earning.
func TransportAllowance(amount float64, sequence int) engine.Component {
	return engine.Component{
		Code:            "TRANSPORT_ALLOWANCE",
		Name:            "Transport Allowance",
		Category:        engine.CategoryEarning,
		SequenceOrder:   sequence,
		AffectsGrossPay: true,
		AffectsNetPay:   true,
		Calc: engine.CalcConfig{
			Type:  engine.CalcFixed,
			Fixed: &engine.FixedCalc{Amount: d(amount)},
		},
	}
}

// PensionContribution deducts a percentage of gross earnings.
func PensionContribution(rate float64, sequence int) engine.Component {
	return engine.Component{
		Code:          "PENSION",
		Name:          "Pension Contribution",
		Category:      engine.CategoryDeduction,
		SequenceOrder: sequence,
		AffectsNetPay: true,
		IsMandatory:   true,
		Calc: engine.CalcConfig{
			Type:       engine.CalcPercentage,
			Percentage: &engine.PercentageCalc{PercentageOf: engine.FieldGrossEarnings, Rate: d(rate)},
		},
	}
}

// ProgressiveIncomeTax applies a bracket table to gross earnings.
func ProgressiveIncomeTax(brackets []engine.TierBracket, sequence int) engine.Component {
	return engine.Component{
		Code:          "INCOME_TAX",
		Name:          "Income Tax",
		Category:      engine.CategoryTax,
		SequenceOrder: sequence,
		AffectsNetPay: true,
		IsMandatory:   true,
		IsTaxable:     false,
		Calc: engine.CalcConfig{
			Type:   engine.CalcTiered,
			Tiered: &engine.TieredCalc{BasisField: engine.FieldGrossEarnings, Brackets: brackets},
		},
	}
}

// DefaultTaxBrackets is a simple three-band progressive table.
func DefaultTaxBrackets() []engine.TierBracket {
	return []engine.TierBracket{
		{From: d(0), To: dp(10000), Rate: dp(8)},
		{From: d(10000), To: dp(25000), Rate: dp(15)},
		{From: d(25000), Rate: dp(25)},
	}
}

// OvertimePay pays hours at the compensation hourly rate times a multiplier.
// The zero Rate falls back to the worker's own hourly rate.
func OvertimePay(multiplier float64, sequence int) engine.Component {
	return engine.Component{
		Code:            "OVERTIME",
		Name:            "Overtime Pay",
		Category:        engine.CategoryEarning,
		SequenceOrder:   sequence,
		AffectsGrossPay: true,
		AffectsNetPay:   true,
		Calc: engine.CalcConfig{
			Type:       engine.CalcHourlyRate,
			HourlyRate: &engine.HourlyRateCalc{Multiplier: d(multiplier)},
		},
	}
}

// NightShiftPremium is a fixed premium gated on consecutive night shifts.
func NightShiftPremium(amount float64, consecutiveNights, sequence int) engine.Component {
	return engine.Component{
		Code:            "NIGHT_PREMIUM",
		Name:            "Night Shift Premium",
		Category:        engine.CategoryEarning,
		SequenceOrder:   sequence,
		AffectsGrossPay: true,
		AffectsNetPay:   true,
		Condition: &engine.PatternDescriptor{
			Type:          engine.PatternShiftType,
			ShiftTypeID:   "night",
			RequiredCount: consecutiveNights,
			LookbackDays:  31,
		},
		Calc: engine.CalcConfig{
			Type:  engine.CalcFixed,
			Fixed: &engine.FixedCalc{Amount: d(amount)},
		},
	}
}

// SundayWorkBonus is a fixed bonus gated on consecutive Sundays worked.
func SundayWorkBonus(amount float64, consecutiveSundays, sequence int) engine.Component {
	return engine.Component{
		Code:            "SUNDAY_BONUS",
		Name:            "Sunday Work Bonus",
		Category:        engine.CategoryEarning,
		SequenceOrder:   sequence,
		AffectsGrossPay: true,
		AffectsNetPay:   true,
		Condition: &engine.PatternDescriptor{
			Type:          engine.PatternDayOfWeek,
			DayOfWeek:     time.Sunday,
			RequiredCount: consecutiveSundays,
			LookbackDays:  consecutiveSundays*7 + 7,
		},
		Calc: engine.CalcConfig{
			Type:  engine.CalcFixed,
			Fixed: &engine.FixedCalc{Amount: d(amount)},
		},
	}
}

// SalesCommission pays a formula-driven share of gross earnings.
func SalesCommission(percent float64, sequence int) engine.Component {
	rate := decimal.NewFromFloat(percent).Div(decimal.NewFromInt(100))
	return engine.Component{
		Code:            "COMMISSION",
		Name:            "Sales Commission",
		Category:        engine.CategoryEarning,
		SequenceOrder:   sequence,
		AffectsGrossPay: true,
		AffectsNetPay:   true,
		Calc: engine.CalcConfig{
			Type:    engine.CalcFormula,
			Formula: &engine.FormulaCalc{Expression: "{GROSS_EARNINGS}*" + rate.String()},
		},
	}
}

// HealthInsuranceEmployerShare is an employer cost outside net pay.
func HealthInsuranceEmployerShare(amount float64, sequence int) engine.Component {
	return engine.Component{
		Code:          "HEALTH_EMPLOYER",
		Name:          "Health Insurance (Employer)",
		Category:      engine.CategoryEmployerCost,
		SequenceOrder: sequence,
		Calc: engine.CalcConfig{
			Type:  engine.CalcFixed,
			Fixed: &engine.FixedCalc{Amount: d(amount)},
		},
	}
}

// =============================================================================
// PRE-BUILT STRUCTURES
// =============================================================================

// CompanyBaselineStructure carries the statutory components every structure
// needs. Meant to be included by other templates rather than assigned
// directly.
func CompanyBaselineStructure(id engine.TemplateID, orgID engine.OrgID, code string) StructureConfig {
	return StructureConfig{
		Template: engine.Template{
			ID: id, OrgID: orgID, Code: code,
			Version:      engine.SemVer{Major: 1},
			Name:         "Company Baseline",
			Currency:     "USD",
			PayFrequency: engine.FreqMonthly,
		},
		Components: []engine.Component{
			PensionContribution(5, 100),
			ProgressiveIncomeTax(DefaultTaxBrackets(), 110),
			HealthInsuranceEmployerShare(120, 120),
		},
	}
}

// StandardMonthlySalaryStructure is a typical salaried structure including
// the company baseline.
func StandardMonthlySalaryStructure(id engine.TemplateID, orgID engine.OrgID, code, baselineCode string) StructureConfig {
	return StructureConfig{
		Template: engine.Template{
			ID: id, OrgID: orgID, Code: code,
			Version:      engine.SemVer{Major: 1},
			Name:         "Standard Monthly Salary",
			Currency:     "USD",
			PayFrequency: engine.FreqMonthly,
		},
		Components: []engine.Component{
			HousingAllowance(800, 10),
			TransportAllowance(200, 20),
		},
		Inclusions: []engine.TemplateInclusion{
			{IncludedCode: baselineCode, Priority: 1, MergeMode: engine.MergeModeMerge},
		},
	}
}

// HourlyWithOvertimeStructure suits shift workers: overtime plus pattern-
// gated premiums.
func HourlyWithOvertimeStructure(id engine.TemplateID, orgID engine.OrgID, code, baselineCode string) StructureConfig {
	return StructureConfig{
		Template: engine.Template{
			ID: id, OrgID: orgID, Code: code,
			Version:      engine.SemVer{Major: 1},
			Name:         "Hourly with Overtime",
			Currency:     "USD",
			PayFrequency: engine.FreqBiWeekly,
		},
		Components: []engine.Component{
			OvertimePay(1.5, 10),
			NightShiftPremium(120, 4, 20),
			SundayWorkBonus(150, 3, 30),
		},
		Inclusions: []engine.TemplateInclusion{
			{IncludedCode: baselineCode, Priority: 1, MergeMode: engine.MergeModeMerge},
		},
	}
}

// SalesCommissionStructure layers commission on the standard salary parts.
func SalesCommissionStructure(id engine.TemplateID, orgID engine.OrgID, code, baselineCode string) StructureConfig {
	return StructureConfig{
		Template: engine.Template{
			ID: id, OrgID: orgID, Code: code,
			Version:      engine.SemVer{Major: 1},
			Name:         "Sales with Commission",
			Currency:     "USD",
			PayFrequency: engine.FreqMonthly,
		},
		Components: []engine.Component{
			TransportAllowance(200, 10),
			SalesCommission(2.5, 20),
		},
		Inclusions: []engine.TemplateInclusion{
			{IncludedCode: baselineCode, Priority: 1, MergeMode: engine.MergeModeMerge},
		},
	}
}
