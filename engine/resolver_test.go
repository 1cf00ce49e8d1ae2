package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testOrg = engine.OrgID("org-1")

func fixedComponent(code engine.ComponentCode, amount float64, sequence int) engine.Component {
	return engine.Component{
		Code:            code,
		Name:            string(code),
		Category:        engine.CategoryEarning,
		SequenceOrder:   sequence,
		AffectsGrossPay: true,
		Calc: engine.CalcConfig{
			Type:  engine.CalcFixed,
			Fixed: &engine.FixedCalc{Amount: decimal.NewFromFloat(amount)},
		},
	}
}

func percentageComponent(code engine.ComponentCode, of string, rate float64, sequence int) engine.Component {
	return engine.Component{
		Code:          code,
		Name:          string(code),
		Category:      engine.CategoryDeduction,
		SequenceOrder: sequence,
		Calc: engine.CalcConfig{
			Type:       engine.CalcPercentage,
			Percentage: &engine.PercentageCalc{PercentageOf: of, Rate: decimal.NewFromFloat(rate)},
		},
	}
}

func v1() engine.SemVer { return engine.SemVer{Major: 1} }

func putTemplate(t *testing.T, mem *store.Memory, id engine.TemplateID, code string, components []engine.Component, inclusions []engine.TemplateInclusion) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.SaveTemplate(ctx, engine.Template{
		ID: id, OrgID: testOrg, Code: code, Version: v1(), Name: code, Status: engine.StatusDraft,
	}))
	require.NoError(t, mem.SaveComponents(ctx, id, components))
	require.NoError(t, mem.SaveInclusions(ctx, id, inclusions))
	require.NoError(t, mem.UpdateTemplateStatus(ctx, id, engine.StatusActive))
}

func componentCodes(components []engine.Component) []engine.ComponentCode {
	codes := make([]engine.ComponentCode, len(components))
	for i, c := range components {
		codes[i] = c.Code
	}
	return codes
}

func fixedAmount(t *testing.T, components []engine.Component, code engine.ComponentCode) decimal.Decimal {
	t.Helper()
	for _, c := range components {
		if c.Code == code {
			require.Equal(t, engine.CalcFixed, c.Calc.Type)
			return c.Calc.Fixed.Amount
		}
	}
	t.Fatalf("component %s not found", code)
	return decimal.Zero
}

// =============================================================================
// BASIC RESOLUTION
// =============================================================================

func TestResolve_NoInclusionsReturnsOwnComponentsSorted(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-a", "base", []engine.Component{
		fixedComponent("HOUSING", 300, 20),
		fixedComponent("SALARY_BONUS", 500, 10),
	}, nil)

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-a", nil)
	require.NoError(t, err)

	assert.Equal(t, []engine.ComponentCode{"SALARY_BONUS", "HOUSING"}, componentCodes(resolved.Components))
	assert.Equal(t, []engine.TemplateID{"tpl-a"}, resolved.Contributing)
}

func TestResolve_SequenceTiesBrokenByCode(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-a", "base", []engine.Component{
		fixedComponent("ZULU", 1, 10),
		fixedComponent("ALPHA", 1, 10),
	}, nil)

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-a", nil)
	require.NoError(t, err)
	assert.Equal(t, []engine.ComponentCode{"ALPHA", "ZULU"}, componentCodes(resolved.Components))
}

// =============================================================================
// CYCLE DETECTION
// =============================================================================

func TestResolve_CycleFailsHard(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-a", "a", []engine.Component{fixedComponent("A", 1, 1)}, []engine.TemplateInclusion{
		{IncludedCode: "b", Priority: 1, MergeMode: engine.MergeModeMerge},
	})
	putTemplate(t, mem, "tpl-b", "b", []engine.Component{fixedComponent("B", 1, 1)}, []engine.TemplateInclusion{
		{IncludedCode: "a", Priority: 1, MergeMode: engine.MergeModeMerge},
	})

	resolver := engine.NewResolver(mem, mem)
	_, err := resolver.Resolve(context.Background(), "tpl-a", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrCircularInclusion)

	var cycle *engine.CircularInclusionError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Cycle, engine.TemplateID("tpl-a"), "error must name the cycle")
	assert.Contains(t, cycle.Cycle, engine.TemplateID("tpl-b"))
}

func TestResolve_DiamondIsNotACycle(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-d", "shared", []engine.Component{fixedComponent("SHARED", 10, 1)}, nil)
	putTemplate(t, mem, "tpl-b", "left", nil, []engine.TemplateInclusion{
		{IncludedCode: "shared", Priority: 1, MergeMode: engine.MergeModeMerge},
	})
	putTemplate(t, mem, "tpl-c", "right", nil, []engine.TemplateInclusion{
		{IncludedCode: "shared", Priority: 1, MergeMode: engine.MergeModeMerge},
	})
	putTemplate(t, mem, "tpl-a", "top", nil, []engine.TemplateInclusion{
		{IncludedCode: "left", Priority: 1, MergeMode: engine.MergeModeMerge},
		{IncludedCode: "right", Priority: 2, MergeMode: engine.MergeModeMerge},
	})

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-a", nil)
	require.NoError(t, err, "sibling branches sharing an ancestor is not a cycle")
	assert.Equal(t, []engine.ComponentCode{"SHARED"}, componentCodes(resolved.Components))
}

func TestResolve_DepthCap(t *testing.T) {
	mem := store.NewMemory()
	// A chain deeper than the default bound, with no cycle.
	codes := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10", "t11"}
	for i, code := range codes {
		var inclusions []engine.TemplateInclusion
		if i+1 < len(codes) {
			inclusions = []engine.TemplateInclusion{{IncludedCode: codes[i+1], Priority: 1, MergeMode: engine.MergeModeMerge}}
		}
		putTemplate(t, mem, engine.TemplateID(code), code, []engine.Component{fixedComponent(engine.ComponentCode(code), 1, i)}, inclusions)
	}

	resolver := engine.NewResolver(mem, mem)
	_, err := resolver.Resolve(context.Background(), "t0", nil)
	assert.ErrorIs(t, err, engine.ErrMaxDepthExceeded)
}

// =============================================================================
// MERGE SEMANTICS
// =============================================================================

func TestResolve_ParentOwnComponentsAlwaysWin(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-base", "base", []engine.Component{fixedComponent("HOUSING", 300, 1)}, nil)
	putTemplate(t, mem, "tpl-parent", "parent", []engine.Component{fixedComponent("HOUSING", 500, 1)}, []engine.TemplateInclusion{
		{IncludedCode: "base", Priority: 1, MergeMode: engine.MergeModeOverride},
	})

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-parent", nil)
	require.NoError(t, err)
	assert.True(t, fixedAmount(t, resolved.Components, "HOUSING").Equal(decimal.NewFromInt(500)),
		"direct components beat inherited ones regardless of mode")
}

func TestResolve_MergeModeFirstWriterWins(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-x", "x", []engine.Component{fixedComponent("ALLOWANCE", 100, 1)}, nil)
	putTemplate(t, mem, "tpl-y", "y", []engine.Component{fixedComponent("ALLOWANCE", 200, 1)}, nil)
	putTemplate(t, mem, "tpl-p", "p", nil, []engine.TemplateInclusion{
		{IncludedCode: "x", Priority: 1, MergeMode: engine.MergeModeMerge},
		{IncludedCode: "y", Priority: 2, MergeMode: engine.MergeModeMerge},
	})

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-p", nil)
	require.NoError(t, err)
	assert.True(t, fixedAmount(t, resolved.Components, "ALLOWANCE").Equal(decimal.NewFromInt(100)))
}

func TestResolve_OverrideModeLastWriterWins(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-x", "x", []engine.Component{fixedComponent("ALLOWANCE", 100, 1)}, nil)
	putTemplate(t, mem, "tpl-y", "y", []engine.Component{fixedComponent("ALLOWANCE", 200, 1)}, nil)
	putTemplate(t, mem, "tpl-p", "p", nil, []engine.TemplateInclusion{
		{IncludedCode: "x", Priority: 1, MergeMode: engine.MergeModeMerge},
		{IncludedCode: "y", Priority: 2, MergeMode: engine.MergeModeOverride},
	})

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-p", nil)
	require.NoError(t, err)
	assert.True(t, fixedAmount(t, resolved.Components, "ALLOWANCE").Equal(decimal.NewFromInt(200)))
}

func TestResolve_AdditiveSumsFixedAmounts(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-x", "x", []engine.Component{fixedComponent("MEAL", 100, 1)}, nil)
	putTemplate(t, mem, "tpl-y", "y", []engine.Component{fixedComponent("MEAL", 50, 1)}, nil)
	putTemplate(t, mem, "tpl-p", "p", nil, []engine.TemplateInclusion{
		{IncludedCode: "x", Priority: 1, MergeMode: engine.MergeModeMerge},
		{IncludedCode: "y", Priority: 2, MergeMode: engine.MergeModeAdditive},
	})

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-p", nil)
	require.NoError(t, err)
	assert.True(t, fixedAmount(t, resolved.Components, "MEAL").Equal(decimal.NewFromInt(150)))
}

func TestResolve_AdditiveRejectsNonFixed(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-x", "x", []engine.Component{percentageComponent("PENSION", "GROSS_EARNINGS", 5, 1)}, nil)
	putTemplate(t, mem, "tpl-y", "y", []engine.Component{percentageComponent("PENSION", "GROSS_EARNINGS", 3, 1)}, nil)
	putTemplate(t, mem, "tpl-p", "p", nil, []engine.TemplateInclusion{
		{IncludedCode: "x", Priority: 1, MergeMode: engine.MergeModeMerge},
		{IncludedCode: "y", Priority: 2, MergeMode: engine.MergeModeAdditive},
	})

	resolver := engine.NewResolver(mem, mem)
	_, err := resolver.Resolve(context.Background(), "tpl-p", nil)
	assert.ErrorIs(t, err, engine.ErrUnsupportedMergeMode,
		"additive semantics for non-fixed components are undefined and never guessed")
}

func TestResolve_InclusionFilters(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-x", "x", []engine.Component{
		fixedComponent("KEEP", 100, 1),
		fixedComponent("DROP", 200, 2),
	}, nil)
	putTemplate(t, mem, "tpl-p", "p", nil, []engine.TemplateInclusion{
		{IncludedCode: "x", Priority: 1, MergeMode: engine.MergeModeMerge, DenyComponents: []engine.ComponentCode{"DROP"}},
	})

	resolver := engine.NewResolver(mem, mem)
	resolved, err := resolver.Resolve(context.Background(), "tpl-p", nil)
	require.NoError(t, err)
	assert.Equal(t, []engine.ComponentCode{"KEEP"}, componentCodes(resolved.Components))
}

// =============================================================================
// CACHE & IDEMPOTENCE
// =============================================================================

// countingStore wraps a store and counts component loads.
type countingStore struct {
	*store.Memory
	componentLoads int
}

func (c *countingStore) GetTemplateComponents(ctx context.Context, id engine.TemplateID) ([]engine.Component, error) {
	c.componentLoads++
	return c.Memory.GetTemplateComponents(ctx, id)
}

func TestResolve_IdempotentAndCached(t *testing.T) {
	mem := store.NewMemory()
	putTemplate(t, mem, "tpl-base", "base", []engine.Component{fixedComponent("HOUSING", 300, 2)}, nil)
	putTemplate(t, mem, "tpl-a", "a", []engine.Component{fixedComponent("BONUS", 100, 1)}, []engine.TemplateInclusion{
		{IncludedCode: "base", Priority: 1, MergeMode: engine.MergeModeMerge},
	})

	counting := &countingStore{Memory: mem}
	resolver := engine.NewResolver(counting, mem)

	asOf := engine.NewTimePoint(2025, 6, 1)
	first, err := resolver.Resolve(context.Background(), "tpl-a", &asOf)
	require.NoError(t, err)
	loadsAfterFirst := counting.componentLoads

	second, err := resolver.Resolve(context.Background(), "tpl-a", &asOf)
	require.NoError(t, err)

	assert.Equal(t, first.Components, second.Components, "resolution must be idempotent")
	assert.Equal(t, first.Contributing, second.Contributing)
	assert.Equal(t, loadsAfterFirst, counting.componentLoads, "second resolve must hit the cache")
}

func TestResolve_PinnedVersionBeatsLatest(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	put := func(id engine.TemplateID, version engine.SemVer, amount float64) {
		require.NoError(t, mem.SaveTemplate(ctx, engine.Template{
			ID: id, OrgID: testOrg, Code: "base", Version: version, Status: engine.StatusDraft,
		}))
		require.NoError(t, mem.SaveComponents(ctx, id, []engine.Component{fixedComponent("HOUSING", amount, 1)}))
		require.NoError(t, mem.UpdateTemplateStatus(ctx, id, engine.StatusActive))
	}
	put("tpl-base-v1", engine.SemVer{Major: 1}, 300)
	put("tpl-base-v2", engine.SemVer{Major: 2}, 400)

	pin := engine.SemVer{Major: 1}
	putTemplate(t, mem, "tpl-pinned", "pinned", nil, []engine.TemplateInclusion{
		{IncludedCode: "base", Priority: 1, MergeMode: engine.MergeModeMerge, VersionPin: &pin},
	})
	putTemplate(t, mem, "tpl-latest", "latest", nil, []engine.TemplateInclusion{
		{IncludedCode: "base", Priority: 1, MergeMode: engine.MergeModeMerge},
	})

	resolver := engine.NewResolver(mem, mem)

	pinned, err := resolver.Resolve(ctx, "tpl-pinned", nil)
	require.NoError(t, err)
	assert.True(t, fixedAmount(t, pinned.Components, "HOUSING").Equal(decimal.NewFromInt(300)))

	latest, err := resolver.Resolve(ctx, "tpl-latest", nil)
	require.NoError(t, err)
	assert.True(t, fixedAmount(t, latest.Components, "HOUSING").Equal(decimal.NewFromInt(400)))
}
