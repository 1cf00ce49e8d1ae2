package payrun_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/engine/store"
	"github.com/warp/payroll-engine/payrun"
)

const org = engine.OrgID("org-1")

func setupRun(t *testing.T) (*store.Memory, *payrun.Runner) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	pension := engine.Component{
		Code:          "PENSION",
		Category:      engine.CategoryDeduction,
		SequenceOrder: 10,
		Calc: engine.CalcConfig{
			Type:       engine.CalcPercentage,
			Percentage: &engine.PercentageCalc{PercentageOf: engine.FieldGrossEarnings, Rate: decimal.NewFromInt(10)},
		},
	}
	broken := engine.Component{
		Code:          "BROKEN",
		Category:      engine.CategoryDeduction,
		SequenceOrder: 10,
		Calc: engine.CalcConfig{
			Type:       engine.CalcPercentage,
			Percentage: &engine.PercentageCalc{PercentageOf: "NO_SUCH_BASIS", Rate: decimal.NewFromInt(1)},
		},
	}

	install := func(id engine.TemplateID, code string, components []engine.Component) {
		require.NoError(t, mem.SaveTemplate(ctx, engine.Template{
			ID: id, OrgID: org, Code: code, Version: engine.SemVer{Major: 1}, Status: engine.StatusDraft,
		}))
		require.NoError(t, mem.SaveComponents(ctx, id, components))
		require.NoError(t, mem.UpdateTemplateStatus(ctx, id, engine.StatusActive))
	}
	install("tpl-good", "good", []engine.Component{pension})
	install("tpl-bad", "bad", []engine.Component{broken})

	runner := payrun.NewRunner(engine.NewCalculator(
		mem, engine.NewResolver(mem, mem), engine.NewPatternQualifier(mem),
	))
	return mem, runner
}

func assign(t *testing.T, mem *store.Memory, workerID engine.WorkerID, templateID engine.TemplateID) {
	t.Helper()
	salary := decimal.NewFromInt(1000)
	require.NoError(t, mem.SaveAssignment(context.Background(), engine.WorkerStructureAssignment{
		ID:           engine.AssignmentID("asg-" + workerID),
		WorkerID:     workerID,
		OrgID:        org,
		TemplateID:   templateID,
		Compensation: engine.Compensation{BaseSalary: &salary, PayFrequency: engine.FreqMonthly},
		Effective:    engine.EffectiveRange{From: engine.NewTimePoint(2025, time.January, 1)},
	}))
}

func TestRun_ParallelWorkers(t *testing.T) {
	mem, runner := setupRun(t)

	var inputs []payrun.WorkerInput
	for i := 0; i < 20; i++ {
		workerID := engine.WorkerID(fmt.Sprintf("worker-%02d", i))
		assign(t, mem, workerID, "tpl-good")
		inputs = append(inputs, payrun.WorkerInput{WorkerID: workerID})
	}

	result, err := runner.Run(context.Background(), inputs, engine.NewTimePoint(2025, time.June, 30))
	require.NoError(t, err)
	require.Len(t, result.Results, 20)
	assert.Empty(t, result.Failures)
	assert.NotEmpty(t, result.RunID)

	// Deterministic ordering by worker id.
	for i := 1; i < len(result.Results); i++ {
		assert.Less(t, result.Results[i-1].WorkerID, result.Results[i].WorkerID)
	}

	// 20 workers x net 900 (1000 - 10% pension).
	totals := result.Totals()
	assert.True(t, totals.NetPay.Equal(decimal.NewFromInt(18000)), "got %s", totals.NetPay)
}

func TestRun_IsolatesWorkerFailures(t *testing.T) {
	mem, runner := setupRun(t)

	assign(t, mem, "worker-ok", "tpl-good")
	assign(t, mem, "worker-bad", "tpl-bad")

	result, err := runner.Run(context.Background(), []payrun.WorkerInput{
		{WorkerID: "worker-ok"},
		{WorkerID: "worker-bad"},
	}, engine.NewTimePoint(2025, time.June, 30))
	require.NoError(t, err, "a worker failure must not abort the batch")

	require.Len(t, result.Results, 1)
	assert.Equal(t, engine.WorkerID("worker-ok"), result.Results[0].WorkerID)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, engine.WorkerID("worker-bad"), result.Failures[0].WorkerID)

	var calcErr *engine.ComponentCalculationError
	require.ErrorAs(t, result.Failures[0].Err, &calcErr)
	assert.Equal(t, engine.ComponentCode("BROKEN"), calcErr.ComponentCode)
}

func TestRun_ContextCancellation(t *testing.T) {
	mem, runner := setupRun(t)
	assign(t, mem, "worker-1", "tpl-good")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, []payrun.WorkerInput{{WorkerID: "worker-1"}}, engine.Today())
	assert.Error(t, err)
}
