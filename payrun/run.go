/*
Package payrun executes payroll calculations for many workers in parallel.

PURPOSE:
  A payroll run is embarrassingly parallel: each worker's calculation is
  independent and side-effect-free over its own inputs, with no shared
  mutable state beyond the read-only resolution cache. This package fans
  calculations out with a bounded errgroup and collects per-worker results.

FAILURE ISOLATION:
  One worker's ComponentCalculationError must not abort the batch: the
  failure is recorded against that worker and the run continues. Retry
  policy belongs to the orchestrator, which may re-run individual workers
  after fixing the underlying data - the engine itself never retries.

CANCELLATION:
  Cancellation is cooperative via the context. Calculations mutate no
  persisted state, so abandoned in-flight work is simply discarded.

SEE ALSO:
  - engine/pipeline.go: The per-worker calculation
*/
package payrun

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/engine"
)

// DefaultConcurrency bounds parallel calculations per run.
const DefaultConcurrency = 8

// =============================================================================
// RUN INPUT / OUTPUT
// =============================================================================

// WorkerInput names one worker and their compensation for this run.
type WorkerInput struct {
	WorkerID     engine.WorkerID
	Compensation engine.Compensation
}

// WorkerFailure records one worker's calculation failure.
type WorkerFailure struct {
	WorkerID engine.WorkerID
	Err      error
}

// RunResult aggregates a batch run.
type RunResult struct {
	RunID    string
	AsOf     engine.TimePoint
	Results  []*engine.CalculationResult
	Failures []WorkerFailure
}

// =============================================================================
// RUNNER
// =============================================================================

type Runner struct {
	Calculator  *engine.Calculator
	Concurrency int
}

func NewRunner(calculator *engine.Calculator) *Runner {
	return &Runner{Calculator: calculator, Concurrency: DefaultConcurrency}
}

// Run calculates every worker in the batch. The returned error is only ever
// a context cancellation; individual worker failures land in
// RunResult.Failures.
func (r *Runner) Run(ctx context.Context, workers []WorkerInput, asOf engine.TimePoint) (*RunResult, error) {
	result := &RunResult{
		RunID: uuid.NewString(),
		AsOf:  asOf,
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, worker := range workers {
		worker := worker
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			calc, err := r.Calculator.Calculate(gCtx, worker.WorkerID, worker.Compensation, asOf)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, WorkerFailure{WorkerID: worker.WorkerID, Err: err})
				return nil // isolate the failure, keep the batch going
			}
			result.Results = append(result.Results, calc)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic output order regardless of goroutine scheduling.
	sort.Slice(result.Results, func(i, j int) bool {
		return result.Results[i].WorkerID < result.Results[j].WorkerID
	})
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].WorkerID < result.Failures[j].WorkerID
	})
	return result, nil
}

// Totals sums the summaries of all successful calculations.
func (rr *RunResult) Totals() engine.Summary {
	var total engine.Summary
	for _, calc := range rr.Results {
		total.TotalEarnings = total.TotalEarnings.Add(calc.Summary.TotalEarnings)
		total.TotalDeductions = total.TotalDeductions.Add(calc.Summary.TotalDeductions)
		total.TotalTaxes = total.TotalTaxes.Add(calc.Summary.TotalTaxes)
		total.TotalBenefits = total.TotalBenefits.Add(calc.Summary.TotalBenefits)
		total.TotalEmployerCost = total.TotalEmployerCost.Add(calc.Summary.TotalEmployerCost)
		total.TotalReimbursements = total.TotalReimbursements.Add(calc.Summary.TotalReimbursements)
		total.NetPay = total.NetPay.Add(calc.Summary.NetPay)
	}
	return total
}
