/*
Package factory provides JSON to Go pay structure conversion.

PURPOSE:
  Converts JSON template definitions into engine.Template, Component, and
  TemplateInclusion values. This enables structure configuration without
  code changes - HR can define pay structures in JSON, and the factory
  creates the proper Go structs.

WHY JSON?
  - Non-developers can modify pay structures
  - Easy integration with admin UI
  - Version control for structure definitions
  - Database storage of structure configs

JSON SCHEMA:
  {
    "id": "tpl-std",
    "org_id": "org-1",
    "code": "STD_MONTHLY",
    "version": "1.0.0",
    "name": "Standard Monthly Salary",
    "currency": "USD",
    "pay_frequency": "monthly",
    "components": [
      {
        "code": "HOUSING_ALLOWANCE",
        "name": "Housing Allowance",
        "category": "earning",
        "type": "fixed",
        "amount": 800,
        "sequence": 10,
        "affects_gross_pay": true
      },
      {
        "code": "INCOME_TAX",
        "category": "tax",
        "type": "tiered",
        "basis_field": "GROSS_EARNINGS",
        "brackets": [
          {"from": 0, "to": 10000, "rate": 8},
          {"from": 10000, "rate": 15}
        ],
        "sequence": 100
      }
    ],
    "inclusions": [
      {"code": "BASELINE", "priority": 1, "merge_mode": "merge"}
    ]
  }

KEY FEATURES:
  - Validates structure and calculation configs at parse time
  - Sets sensible defaults (version 1.0.0, merge mode "merge")
  - Pattern conditions use the engine's own JSON shape

USAGE:
  f := factory.NewTemplateFactory()
  config, err := f.ParseTemplate(jsonString)
  if err != nil { ... }
  err = config.Install(ctx, store)

SEE ALSO:
  - engine/types.go: Target type definitions
  - payroll/templates.go: Go-based structure configurations
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TemplateJSON is the JSON representation of a pay structure template.
type TemplateJSON struct {
	ID                    string          `json:"id"`
	OrgID                 string          `json:"org_id"`
	Code                  string          `json:"code"`
	Version               string          `json:"version,omitempty"` // defaults to 1.0.0
	Name                  string          `json:"name"`
	Currency              string          `json:"currency,omitempty"`
	PayFrequency          string          `json:"pay_frequency,omitempty"`
	IsOrganizationDefault bool            `json:"is_organization_default,omitempty"`
	EffectiveFrom         string          `json:"effective_from,omitempty"`
	EffectiveTo           string          `json:"effective_to,omitempty"`
	Components            []ComponentJSON `json:"components"`
	Inclusions            []InclusionJSON `json:"inclusions,omitempty"`
}

// ComponentJSON represents one component.
type ComponentJSON struct {
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Sequence int    `json:"sequence"`

	// Calculation payloads; only the fields for Type are read.
	Amount       *float64      `json:"amount,omitempty"`
	PercentageOf string        `json:"percentage_of,omitempty"`
	Rate         *float64      `json:"rate,omitempty"`
	Formula      string        `json:"formula,omitempty"`
	Multiplier   *float64      `json:"multiplier,omitempty"`
	BasisField   string        `json:"basis_field,omitempty"`
	Brackets     []BracketJSON `json:"brackets,omitempty"`
	ServiceKey   string        `json:"service_key,omitempty"`

	AffectsGrossPay bool `json:"affects_gross_pay,omitempty"`
	AffectsNetPay   bool `json:"affects_net_pay,omitempty"`
	IsTaxable       bool `json:"is_taxable,omitempty"`
	IsMandatory     bool `json:"is_mandatory,omitempty"`

	MinPerCalculation *float64 `json:"min_per_calculation,omitempty"`
	MaxPerCalculation *float64 `json:"max_per_calculation,omitempty"`

	Condition *engine.PatternDescriptor `json:"condition,omitempty"`
}

// BracketJSON represents one tier bracket.
type BracketJSON struct {
	From       float64  `json:"from"`
	To         *float64 `json:"to,omitempty"`
	Rate       *float64 `json:"rate,omitempty"`
	FlatAmount *float64 `json:"flat_amount,omitempty"`
}

// InclusionJSON represents one template inclusion.
type InclusionJSON struct {
	Code            string   `json:"code"`
	Priority        int      `json:"priority"`
	MergeMode       string   `json:"merge_mode,omitempty"` // defaults to "merge"
	VersionPin      string   `json:"version_pin,omitempty"`
	AllowComponents []string `json:"allow_components,omitempty"`
	DenyComponents  []string `json:"deny_components,omitempty"`
	EffectiveFrom   string   `json:"effective_from,omitempty"`
	EffectiveTo     string   `json:"effective_to,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

type TemplateFactory struct{}

func NewTemplateFactory() *TemplateFactory {
	return &TemplateFactory{}
}

// ParseTemplate converts a JSON definition into an installable structure
// configuration, validating as it goes.
func (f *TemplateFactory) ParseTemplate(jsonStr string) (payroll.StructureConfig, error) {
	var def TemplateJSON
	if err := json.Unmarshal([]byte(jsonStr), &def); err != nil {
		return payroll.StructureConfig{}, &engine.ValidationError{Field: "template", Message: "invalid JSON: " + err.Error()}
	}
	return f.Build(def)
}

// Build converts an already-decoded definition.
func (f *TemplateFactory) Build(def TemplateJSON) (payroll.StructureConfig, error) {
	if def.ID == "" || def.OrgID == "" || def.Code == "" {
		return payroll.StructureConfig{}, &engine.ValidationError{Field: "template", Message: "id, org_id, and code are required"}
	}

	version := engine.SemVer{Major: 1}
	if def.Version != "" {
		parsed, err := engine.ParseSemVer(def.Version)
		if err != nil {
			return payroll.StructureConfig{}, &engine.ValidationError{Field: "template.version", Message: err.Error()}
		}
		version = parsed
	}

	effective, err := parseRange(def.EffectiveFrom, def.EffectiveTo)
	if err != nil {
		return payroll.StructureConfig{}, err
	}

	template := engine.Template{
		ID:                    engine.TemplateID(def.ID),
		OrgID:                 engine.OrgID(def.OrgID),
		Code:                  def.Code,
		Version:               version,
		Name:                  def.Name,
		Status:                engine.StatusDraft,
		Effective:             effective,
		Currency:              defaultString(def.Currency, "USD"),
		PayFrequency:          engine.PayFrequency(defaultString(def.PayFrequency, string(engine.FreqMonthly))),
		IsOrganizationDefault: def.IsOrganizationDefault,
	}

	components := make([]engine.Component, 0, len(def.Components))
	for _, cj := range def.Components {
		component, err := buildComponent(cj)
		if err != nil {
			return payroll.StructureConfig{}, err
		}
		components = append(components, component)
	}

	inclusions := make([]engine.TemplateInclusion, 0, len(def.Inclusions))
	for _, ij := range def.Inclusions {
		inclusion, err := buildInclusion(ij)
		if err != nil {
			return payroll.StructureConfig{}, err
		}
		inclusions = append(inclusions, inclusion)
	}

	return payroll.StructureConfig{Template: template, Components: components, Inclusions: inclusions}, nil
}

// =============================================================================
// COMPONENT CONVERSION
// =============================================================================

func buildComponent(cj ComponentJSON) (engine.Component, error) {
	if cj.Code == "" {
		return engine.Component{}, &engine.ValidationError{Field: "component.code", Message: "required"}
	}

	calc, err := buildCalc(cj)
	if err != nil {
		return engine.Component{}, err
	}

	component := engine.Component{
		Code:            engine.ComponentCode(cj.Code),
		Name:            defaultString(cj.Name, cj.Code),
		Category:        engine.Category(cj.Category),
		Calc:            calc,
		SequenceOrder:   cj.Sequence,
		AffectsGrossPay: cj.AffectsGrossPay,
		AffectsNetPay:   cj.AffectsNetPay,
		IsTaxable:       cj.IsTaxable,
		IsMandatory:     cj.IsMandatory,
		Condition:       cj.Condition,
	}

	if cj.MinPerCalculation != nil || cj.MaxPerCalculation != nil {
		component.Limits = &engine.ValueLimits{
			MinPerCalculation: decPtr(cj.MinPerCalculation),
			MaxPerCalculation: decPtr(cj.MaxPerCalculation),
		}
	}

	if component.Condition != nil {
		if err := component.Condition.Validate(); err != nil {
			return engine.Component{}, err
		}
	}

	switch component.Category {
	case engine.CategoryEarning, engine.CategoryDeduction, engine.CategoryTax,
		engine.CategoryBenefit, engine.CategoryEmployerCost, engine.CategoryReimbursement:
	default:
		return engine.Component{}, &engine.ValidationError{
			Field: "component.category", Message: fmt.Sprintf("unknown category %q", cj.Category),
		}
	}
	return component, nil
}

func buildCalc(cj ComponentJSON) (engine.CalcConfig, error) {
	var calc engine.CalcConfig
	switch engine.CalcType(cj.Type) {
	case engine.CalcFixed:
		if cj.Amount == nil {
			return calc, &engine.ValidationError{Field: "component.amount", Message: "fixed component requires an amount"}
		}
		calc = engine.CalcConfig{Type: engine.CalcFixed, Fixed: &engine.FixedCalc{Amount: decimal.NewFromFloat(*cj.Amount)}}
	case engine.CalcPercentage:
		if cj.Rate == nil {
			return calc, &engine.ValidationError{Field: "component.rate", Message: "percentage component requires a rate"}
		}
		calc = engine.CalcConfig{Type: engine.CalcPercentage, Percentage: &engine.PercentageCalc{
			PercentageOf: cj.PercentageOf,
			Rate:         decimal.NewFromFloat(*cj.Rate),
		}}
	case engine.CalcFormula:
		calc = engine.CalcConfig{Type: engine.CalcFormula, Formula: &engine.FormulaCalc{Expression: cj.Formula}}
	case engine.CalcHourlyRate:
		hourly := &engine.HourlyRateCalc{}
		if cj.Rate != nil {
			hourly.Rate = decimal.NewFromFloat(*cj.Rate)
		}
		if cj.Multiplier != nil {
			hourly.Multiplier = decimal.NewFromFloat(*cj.Multiplier)
		}
		calc = engine.CalcConfig{Type: engine.CalcHourlyRate, HourlyRate: hourly}
	case engine.CalcTiered:
		brackets := make([]engine.TierBracket, 0, len(cj.Brackets))
		for _, bj := range cj.Brackets {
			brackets = append(brackets, engine.TierBracket{
				From:       decimal.NewFromFloat(bj.From),
				To:         decPtr(bj.To),
				Rate:       decPtr(bj.Rate),
				FlatAmount: decPtr(bj.FlatAmount),
			})
		}
		calc = engine.CalcConfig{Type: engine.CalcTiered, Tiered: &engine.TieredCalc{
			BasisField: cj.BasisField,
			Brackets:   brackets,
		}}
	case engine.CalcExternal:
		calc = engine.CalcConfig{Type: engine.CalcExternal, External: &engine.ExternalCalc{ServiceKey: cj.ServiceKey}}
	default:
		return calc, &engine.ValidationError{Field: "component.type", Message: fmt.Sprintf("unknown calculation type %q", cj.Type)}
	}
	return calc, calc.Validate()
}

func buildInclusion(ij InclusionJSON) (engine.TemplateInclusion, error) {
	if ij.Code == "" {
		return engine.TemplateInclusion{}, &engine.ValidationError{Field: "inclusion.code", Message: "required"}
	}
	mode := engine.MergeMode(defaultString(ij.MergeMode, string(engine.MergeModeMerge)))
	switch mode {
	case engine.MergeModeMerge, engine.MergeModeOverride, engine.MergeModeAdditive:
	default:
		return engine.TemplateInclusion{}, &engine.ValidationError{
			Field: "inclusion.merge_mode", Message: fmt.Sprintf("unknown merge mode %q", ij.MergeMode),
		}
	}

	inclusion := engine.TemplateInclusion{
		IncludedCode: ij.Code,
		Priority:     ij.Priority,
		MergeMode:    mode,
	}
	if ij.VersionPin != "" {
		pin, err := engine.ParseSemVer(ij.VersionPin)
		if err != nil {
			return engine.TemplateInclusion{}, &engine.ValidationError{Field: "inclusion.version_pin", Message: err.Error()}
		}
		inclusion.VersionPin = &pin
	}
	for _, code := range ij.AllowComponents {
		inclusion.AllowComponents = append(inclusion.AllowComponents, engine.ComponentCode(code))
	}
	for _, code := range ij.DenyComponents {
		inclusion.DenyComponents = append(inclusion.DenyComponents, engine.ComponentCode(code))
	}

	effective, err := parseRange(ij.EffectiveFrom, ij.EffectiveTo)
	if err != nil {
		return engine.TemplateInclusion{}, err
	}
	inclusion.Effective = effective
	return inclusion, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseRange(from, to string) (engine.EffectiveRange, error) {
	var rng engine.EffectiveRange
	if from != "" {
		parsed, err := engine.ParseTimePoint(from)
		if err != nil {
			return rng, &engine.ValidationError{Field: "effective_from", Message: err.Error()}
		}
		rng.From = parsed
	}
	if to != "" {
		parsed, err := engine.ParseTimePoint(to)
		if err != nil {
			return rng, &engine.ValidationError{Field: "effective_to", Message: err.Error()}
		}
		rng.To = &parsed
	}
	return rng, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func decPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
