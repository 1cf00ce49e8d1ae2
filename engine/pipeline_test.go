package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func decPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

type calcFixture struct {
	mem        *store.Memory
	calculator *engine.Calculator
	asOf       engine.TimePoint
	worker     engine.WorkerID
	assignment engine.AssignmentID
}

// newCalcFixture stores one active template with the given components and
// assigns it to a worker.
func newCalcFixture(t *testing.T, components []engine.Component) *calcFixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	putTemplate(t, mem, "tpl-main", "main", components, nil)

	f := &calcFixture{
		mem:        mem,
		asOf:       engine.NewTimePoint(2025, time.June, 30),
		worker:     "worker-1",
		assignment: "asg-1",
	}
	require.NoError(t, mem.SaveAssignment(ctx, engine.WorkerStructureAssignment{
		ID:         f.assignment,
		WorkerID:   f.worker,
		OrgID:      testOrg,
		TemplateID: "tpl-main",
		Effective:  engine.EffectiveRange{From: engine.NewTimePoint(2025, time.January, 1)},
	}))

	resolver := engine.NewResolver(mem, mem)
	qualifier := engine.NewPatternQualifier(mem)
	f.calculator = engine.NewCalculator(mem, resolver, qualifier)
	return f
}

func (f *calcFixture) calculate(t *testing.T, compensation engine.Compensation) *engine.CalculationResult {
	t.Helper()
	result, err := f.calculator.Calculate(context.Background(), f.worker, compensation, f.asOf)
	require.NoError(t, err)
	return result
}

func salaryOf(amount float64) engine.Compensation {
	return engine.Compensation{BaseSalary: decPtr(amount), PayFrequency: engine.FreqMonthly}
}

func lineAmount(t *testing.T, result *engine.CalculationResult, code engine.ComponentCode) decimal.Decimal {
	t.Helper()
	for _, item := range result.LineItems {
		if item.ComponentCode == code {
			return item.Amount
		}
	}
	t.Fatalf("line item %s not found", code)
	return decimal.Zero
}

func hasLine(result *engine.CalculationResult, code engine.ComponentCode) bool {
	for _, item := range result.LineItems {
		if item.ComponentCode == code {
			return true
		}
	}
	return false
}

// =============================================================================
// BASIC PIPELINE
// =============================================================================

func TestCalculate_GrossDeductionNet(t *testing.T) {
	// baseSalary=5000, fixed earning 300, percentage deduction 4% of gross:
	// gross = 5300, deduction = 212, net = 5088.
	f := newCalcFixture(t, []engine.Component{
		fixedComponent("TRANSPORT", 300, 10),
		percentageComponent("PENSION", engine.FieldGrossEarnings, 4, 20),
	})

	result := f.calculate(t, salaryOf(5000))

	assert.True(t, lineAmount(t, result, engine.FieldBaseSalary).Equal(dec(5000)),
		"base pay is always the first line item")
	assert.True(t, lineAmount(t, result, "PENSION").Equal(dec(212)))
	assert.True(t, result.Summary.TotalEarnings.Equal(dec(5300)))
	assert.True(t, result.Summary.TotalDeductions.Equal(dec(212)))
	assert.True(t, result.Summary.NetPay.Equal(dec(5088)))
}

func TestCalculate_HourlyCompensationSeedsRegularPay(t *testing.T) {
	f := newCalcFixture(t, nil)

	result := f.calculate(t, engine.Compensation{
		HourlyRate:   decPtr(25),
		Hours:        decPtr(160),
		PayFrequency: engine.FreqBiWeekly,
	})

	assert.True(t, lineAmount(t, result, engine.FieldRegularPay).Equal(dec(4000)))
	assert.True(t, result.Summary.NetPay.Equal(dec(4000)))
}

func TestCalculate_MissingCompensationFails(t *testing.T) {
	f := newCalcFixture(t, nil)
	_, err := f.calculator.Calculate(context.Background(), f.worker, engine.Compensation{}, f.asOf)
	require.Error(t, err)
	assert.True(t, engine.IsClientError(err))
}

// =============================================================================
// CALCULATION TYPES
// =============================================================================

func TestCalculate_HourlyRateComponent(t *testing.T) {
	f := newCalcFixture(t, []engine.Component{{
		Code:            "OVERTIME",
		Category:        engine.CategoryEarning,
		SequenceOrder:   10,
		AffectsGrossPay: true,
		Calc: engine.CalcConfig{
			Type:       engine.CalcHourlyRate,
			HourlyRate: &engine.HourlyRateCalc{Rate: dec(30), Multiplier: dec(1.5)},
		},
	}})

	result := f.calculate(t, engine.Compensation{HourlyRate: decPtr(20), Hours: decPtr(10)})

	// 10 hours x 30 x 1.5
	assert.True(t, lineAmount(t, result, "OVERTIME").Equal(dec(450)))
	// Regular pay 200 + overtime 450
	assert.True(t, result.Summary.TotalEarnings.Equal(dec(650)))
}

func TestCalculate_FormulaComponentSeesPriorResults(t *testing.T) {
	f := newCalcFixture(t, []engine.Component{
		fixedComponent("HOUSING", 1000, 10),
		{
			Code:            "THIRTEENTH",
			Category:        engine.CategoryEarning,
			SequenceOrder:   20,
			AffectsGrossPay: true,
			Calc: engine.CalcConfig{
				Type:    engine.CalcFormula,
				Formula: &engine.FormulaCalc{Expression: "({BASE_SALARY}+{HOUSING})/12"},
			},
		},
	})

	result := f.calculate(t, salaryOf(11000))
	assert.True(t, lineAmount(t, result, "THIRTEENTH").Equal(dec(1000)))
}

func TestCalculate_TieredBrackets(t *testing.T) {
	// Brackets [0,10000)@8%, [10000,25000)@15%, [25000,)@25% on basis 30000:
	// 800 + 2250 + 1250 = 4300.
	f := newCalcFixture(t, []engine.Component{{
		Code:          "INCOME_TAX",
		Category:      engine.CategoryTax,
		SequenceOrder: 10,
		Calc: engine.CalcConfig{
			Type: engine.CalcTiered,
			Tiered: &engine.TieredCalc{
				BasisField: engine.FieldGrossEarnings,
				Brackets: []engine.TierBracket{
					{From: dec(0), To: decPtr(10000), Rate: decPtr(8)},
					{From: dec(10000), To: decPtr(25000), Rate: decPtr(15)},
					{From: dec(25000), Rate: decPtr(25)},
				},
			},
		},
	}})

	result := f.calculate(t, salaryOf(30000))

	assert.True(t, lineAmount(t, result, "INCOME_TAX").Equal(dec(4300)), "got %s", lineAmount(t, result, "INCOME_TAX"))
	assert.True(t, result.Summary.TotalTaxes.Equal(dec(4300)))
	assert.True(t, result.Summary.NetPay.Equal(dec(25700)))
}

func TestCalculate_PercentageOfComponentCode(t *testing.T) {
	f := newCalcFixture(t, []engine.Component{
		fixedComponent("HOUSING", 2000, 10),
		percentageComponent("HOUSING_LEVY", "HOUSING", 10, 20),
	})

	result := f.calculate(t, salaryOf(5000))
	assert.True(t, lineAmount(t, result, "HOUSING_LEVY").Equal(dec(200)))
}

// =============================================================================
// OVERRIDES
// =============================================================================

func TestCalculate_DisabledOverrideSuppressesMandatoryComponent(t *testing.T) {
	component := fixedComponent("UNION_DUES", 50, 10)
	component.Category = engine.CategoryDeduction
	component.IsMandatory = true
	f := newCalcFixture(t, []engine.Component{component})

	require.NoError(t, f.mem.SaveOverride(context.Background(), engine.ComponentOverride{
		AssignmentID:  f.assignment,
		ComponentCode: "UNION_DUES",
		Type:          engine.OverrideDisabled,
		Justification: "worker opted out of union membership",
	}))

	result := f.calculate(t, salaryOf(5000))
	assert.False(t, hasLine(result, "UNION_DUES"),
		"disabled override removes the component even when the template marks it mandatory")
	assert.True(t, result.Summary.TotalDeductions.IsZero())
}

func TestCalculate_AmountOverrideReplacesFixedValue(t *testing.T) {
	f := newCalcFixture(t, []engine.Component{fixedComponent("TRANSPORT", 300, 10)})

	require.NoError(t, f.mem.SaveOverride(context.Background(), engine.ComponentOverride{
		AssignmentID:  f.assignment,
		ComponentCode: "TRANSPORT",
		Type:          engine.OverrideAmount,
		Amount:        decPtr(450),
		Justification: "longer commute approved by manager",
	}))

	result := f.calculate(t, salaryOf(5000))
	item := result.LineItems[1]
	assert.True(t, item.Amount.Equal(dec(450)))
	assert.True(t, item.Metadata.Overridden)
}

func TestCalculate_OverrideLimitsClamp(t *testing.T) {
	f := newCalcFixture(t, []engine.Component{percentageComponent("BONUS_CUT", engine.FieldGrossEarnings, 10, 10)})

	require.NoError(t, f.mem.SaveOverride(context.Background(), engine.ComponentOverride{
		AssignmentID:  f.assignment,
		ComponentCode: "BONUS_CUT",
		Type:          engine.OverridePercentage,
		Rate:          decPtr(10),
		MaxValue:      decPtr(100),
		Justification: "capped per employment contract",
	}))

	result := f.calculate(t, salaryOf(5000))
	item := result.LineItems[1]
	assert.True(t, item.Amount.Equal(dec(100)), "500 clamped down to 100")
	assert.True(t, item.Metadata.Clamped)
}

// =============================================================================
// PATTERN-GATED COMPONENTS
// =============================================================================

func TestCalculate_ConditionGatesComponent(t *testing.T) {
	weekendBonus := fixedComponent("SUNDAY_BONUS", 150, 10)
	weekendBonus.Condition = &engine.PatternDescriptor{
		Type:          engine.PatternDayOfWeek,
		DayOfWeek:     time.Sunday,
		RequiredCount: 3,
		LookbackDays:  30,
	}
	f := newCalcFixture(t, []engine.Component{weekendBonus})

	// Not qualified yet: no attendance history at all.
	result := f.calculate(t, salaryOf(5000))
	assert.False(t, hasLine(result, "SUNDAY_BONUS"))

	// Work three consecutive Sundays inside the lookback window.
	ctx := context.Background()
	for _, day := range []int{8, 15, 22} {
		require.NoError(t, f.mem.SaveTimeEntry(ctx, f.worker, dayEntry(2025, time.June, day, 8)))
	}

	result = f.calculate(t, salaryOf(5000))
	require.True(t, hasLine(result, "SUNDAY_BONUS"))

	item := result.LineItems[1]
	require.NotNil(t, item.Metadata.Qualification, "eligibility evidence must travel with the line item")
	assert.True(t, item.Metadata.Qualification.Qualified)
	assert.Equal(t, 3, item.Metadata.Qualification.Runs[0].Length)
}

// =============================================================================
// FAILURE POLICY
// =============================================================================

func TestCalculate_ComponentFailureAbortsWholeCalculation(t *testing.T) {
	f := newCalcFixture(t, []engine.Component{
		percentageComponent("BROKEN", "NO_SUCH_BASIS", 5, 10),
		fixedComponent("NEVER_REACHED", 100, 20),
	})

	_, err := f.calculator.Calculate(context.Background(), f.worker, salaryOf(5000), f.asOf)
	require.Error(t, err, "partial paychecks must never be produced")

	var calcErr *engine.ComponentCalculationError
	require.ErrorAs(t, err, &calcErr)
	assert.Equal(t, engine.ComponentCode("BROKEN"), calcErr.ComponentCode)
}

func TestCalculate_NoAssignmentFails(t *testing.T) {
	f := newCalcFixture(t, nil)
	_, err := f.calculator.Calculate(context.Background(), "stranger", salaryOf(1000), f.asOf)
	assert.ErrorIs(t, err, engine.ErrAssignmentNotFound)
}
