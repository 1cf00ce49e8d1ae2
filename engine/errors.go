/*
errors.go - Centralized error types for the calculation engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; outer layers (API, payrun)
  map these onto HTTP statuses or per-worker failure records.

ERROR CATEGORIES:
  1. Lookup errors      - Missing templates, assignments, components
  2. Validation errors  - Malformed input (bad formula syntax, bad config)
  3. Resolution errors  - Cycles, depth, unsupported merge modes
  4. Calculation errors - Fatal to a single worker's calculation

FAILURE POLICY (per calculation):
  A component evaluation failure aborts the whole calculation via
  ComponentCalculationError. Partial paychecks are never produced.
  Attendance-fetch failures inside pattern qualification are NOT errors:
  the qualifier fails closed (not qualified) instead - see pattern.go.

SEE ALSO:
  - resolver.go: Raises circular inclusion and merge mode errors
  - pipeline.go: Wraps per-component failures
  - formula.go: Raises expression errors
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTemplateNotFound is returned when a referenced template doesn't exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrAssignmentNotFound is returned when a worker has no structure
	// assignment covering the calculation date.
	ErrAssignmentNotFound = errors.New("worker structure assignment not found")

	// ErrComponentNotFound is returned when an override or filter references
	// a component code that does not exist in the resolved structure.
	ErrComponentNotFound = errors.New("component not found")

	// ErrCircularInclusion is returned when the template inclusion graph
	// contains a cycle. Never silently truncated.
	ErrCircularInclusion = errors.New("circular template inclusion")

	// ErrMaxDepthExceeded is the defensive bound on inclusion nesting.
	ErrMaxDepthExceeded = errors.New("inclusion depth limit exceeded")

	// ErrUnsupportedMergeMode is returned when additive merge meets a
	// non-fixed component; its semantics are undefined and never guessed.
	ErrUnsupportedMergeMode = errors.New("unsupported merge mode for component")

	// ErrUnboundVariable is returned when a formula placeholder has no value.
	ErrUnboundVariable = errors.New("unbound formula variable")

	// ErrInvalidExpression is returned when a formula fails structural
	// validation before evaluation (bad characters, unbalanced parentheses).
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrEvaluation is returned when a structurally valid expression fails
	// during arithmetic, e.g. division by zero.
	ErrEvaluation = errors.New("expression evaluation failed")

	// ErrImmutableTemplate is returned on any mutation of a non-draft template.
	ErrImmutableTemplate = errors.New("template is no longer mutable")

	// ErrInvalidStatusTransition is returned for backward lifecycle moves.
	ErrInvalidStatusTransition = errors.New("invalid template status transition")

	// ErrDuplicatePriority is returned when two inclusions of the same parent
	// share a priority.
	ErrDuplicatePriority = errors.New("duplicate inclusion priority")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input, recoverable by caller correction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CircularInclusionError names the cycle found in the inclusion graph.
type CircularInclusionError struct {
	Cycle []TemplateID
}

func (e *CircularInclusionError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return fmt.Sprintf("circular template inclusion: %s", strings.Join(parts, " -> "))
}

func (e *CircularInclusionError) Unwrap() error {
	return ErrCircularInclusion
}

// UnboundVariableError names the placeholder missing from the variable map.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound formula variable {%s}", e.Name)
}

func (e *UnboundVariableError) Unwrap() error {
	return ErrUnboundVariable
}

// ComponentCalculationError is fatal to a single worker's calculation.
// It names the component so the failure is actionable.
type ComponentCalculationError struct {
	ComponentCode ComponentCode
	Err           error
}

func (e *ComponentCalculationError) Error() string {
	return fmt.Sprintf("component %s: calculation failed: %v", e.ComponentCode, e.Err)
}

func (e *ComponentCalculationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrComponentNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidExpression) ||
		errors.Is(err, ErrUnboundVariable) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrImmutableTemplate) ||
		errors.Is(err, ErrDuplicatePriority)
}
