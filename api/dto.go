/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Templates:
    TemplateDTO, TemplateDetailDTO (wraps factory.TemplateJSON on create)

  Assignments:
    CreateAssignmentRequest, AssignmentDTO, CompensationDTO

  Overrides:
    CreateOverrideRequest

  Attendance:
    TimeEntryRequest

  Calculation:
    CalculateRequest, PayRunRequest, PayRunDTO

  Calculation results reuse the engine's own JSON-tagged result types
  (LineItem, Summary, CalculationResult) directly.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/template.go: TemplateJSON type
*/
package api

import (
	"github.com/warp/payroll-engine/engine"
)

// =============================================================================
// TEMPLATE TYPES
// =============================================================================

// TemplateDTO represents a template header in API responses.
type TemplateDTO struct {
	ID                    string `json:"id"`
	OrgID                 string `json:"org_id"`
	Code                  string `json:"code"`
	Version               string `json:"version"`
	Name                  string `json:"name"`
	Status                string `json:"status"`
	Currency              string `json:"currency,omitempty"`
	PayFrequency          string `json:"pay_frequency,omitempty"`
	IsOrganizationDefault bool   `json:"is_organization_default,omitempty"`
	EffectiveFrom         string `json:"effective_from,omitempty"`
	EffectiveTo           string `json:"effective_to,omitempty"`
}

// TemplateDetailDTO includes the template's own components and inclusions.
type TemplateDetailDTO struct {
	TemplateDTO
	Components []engine.Component         `json:"components"`
	Inclusions []engine.TemplateInclusion `json:"inclusions"`
}

// UpdateStatusRequest moves a template through its lifecycle.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ResolvedStructureDTO is the flattened view of a template.
type ResolvedStructureDTO struct {
	TemplateID   string             `json:"template_id"`
	Version      string             `json:"version"`
	AsOf         string             `json:"as_of"`
	Components   []engine.Component `json:"components"`
	Contributing []string           `json:"contributing_templates"`
}

// =============================================================================
// ASSIGNMENT TYPES
// =============================================================================

// CompensationDTO carries base pay input.
type CompensationDTO struct {
	BaseSalary   *float64 `json:"base_salary,omitempty"`
	HourlyRate   *float64 `json:"hourly_rate,omitempty"`
	Hours        *float64 `json:"hours,omitempty"`
	PayFrequency string   `json:"pay_frequency,omitempty"`
}

// CreateAssignmentRequest assigns a worker to a template.
type CreateAssignmentRequest struct {
	ID            string          `json:"id"`
	WorkerID      string          `json:"worker_id"`
	OrgID         string          `json:"org_id"`
	TemplateID    string          `json:"template_id"`
	Compensation  CompensationDTO `json:"compensation"`
	EffectiveFrom string          `json:"effective_from"`
	EffectiveTo   string          `json:"effective_to,omitempty"`
}

// AssignmentDTO represents an assignment in API responses.
type AssignmentDTO struct {
	ID            string          `json:"id"`
	WorkerID      string          `json:"worker_id"`
	OrgID         string          `json:"org_id"`
	TemplateID    string          `json:"template_id"`
	Compensation  CompensationDTO `json:"compensation"`
	EffectiveFrom string          `json:"effective_from"`
	EffectiveTo   string          `json:"effective_to,omitempty"`
}

// CreateOverrideRequest attaches a component override to an assignment.
type CreateOverrideRequest struct {
	ComponentCode string                    `json:"component_code"`
	Type          string                    `json:"type"`
	Amount        *float64                  `json:"amount,omitempty"`
	Rate          *float64                  `json:"rate,omitempty"`
	Formula       string                    `json:"formula,omitempty"`
	Condition     *engine.PatternDescriptor `json:"condition,omitempty"`
	MinValue      *float64                  `json:"min_value,omitempty"`
	MaxValue      *float64                  `json:"max_value,omitempty"`
	Justification string                    `json:"justification"`
}

// =============================================================================
// ATTENDANCE TYPES
// =============================================================================

// TimeEntryRequest records one approved attendance entry.
type TimeEntryRequest struct {
	Date        string  `json:"date"`
	HoursWorked float64 `json:"hours_worked"`
	ShiftTypeID string  `json:"shift_type_id,omitempty"`
	LocationID  string  `json:"location_id,omitempty"`
	RoleID      string  `json:"role_id,omitempty"`
}

// =============================================================================
// CALCULATION TYPES
// =============================================================================

// CalculateRequest computes one worker's pay.
type CalculateRequest struct {
	AsOf         string           `json:"as_of,omitempty"` // defaults to today
	Compensation *CompensationDTO `json:"compensation,omitempty"`
}

// PayRunRequest computes a batch of workers.
type PayRunRequest struct {
	AsOf    string            `json:"as_of,omitempty"`
	Workers []PayRunWorkerDTO `json:"workers"`
}

// PayRunWorkerDTO names one worker in a batch run.
type PayRunWorkerDTO struct {
	WorkerID     string           `json:"worker_id"`
	Compensation *CompensationDTO `json:"compensation,omitempty"`
}

// PayRunDTO is the batch run response.
type PayRunDTO struct {
	RunID    string                      `json:"run_id"`
	AsOf     string                      `json:"as_of"`
	Results  []*engine.CalculationResult `json:"results"`
	Failures []PayRunFailureDTO          `json:"failures"`
	Totals   engine.Summary              `json:"totals"`
}

// PayRunFailureDTO records one worker's failure within a run.
type PayRunFailureDTO struct {
	WorkerID string `json:"worker_id"`
	Error    string `json:"error"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
