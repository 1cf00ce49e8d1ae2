/*
handlers.go - HTTP API handlers for the pay structure engine

PURPOSE:
  Exposes the pay structure engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Templates:
    GET    /api/templates                 List templates for an organization
    POST   /api/templates                 Create a draft template from JSON
    GET    /api/templates/{id}            Get template with components
    POST   /api/templates/{id}/status     Lifecycle transition
    GET    /api/templates/{id}/resolved   Flattened component list

  Assignments:
    POST   /api/assignments               Assign a worker to a template
    POST   /api/assignments/{id}/overrides Attach a component override

  Workers:
    POST   /api/workers/{id}/time-entries Record an approved time entry
    POST   /api/workers/{id}/calculate    Compute one worker's pay

  Pay runs:
    POST   /api/payruns                   Batch calculation

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Persistence (engine.Store, so tests run on the memory store)
  - Factory: JSON to template conversion
  - Resolver/Calculator/Runner: Domain logic

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (resolver, calculator, runner)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, lifecycle violations
  - 404: Resource not found
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payrun"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      engine.Store
	Factory    *factory.TemplateFactory
	Resolver   *engine.Resolver
	Calculator *engine.Calculator
	Runner     *payrun.Runner
}

// NewHandler wires the engine on top of the given store.
func NewHandler(store engine.Store) *Handler {
	resolver := engine.NewResolver(store, store)
	calculator := engine.NewCalculator(store, resolver, engine.NewPatternQualifier(store))
	return &Handler{
		Store:      store,
		Factory:    factory.NewTemplateFactory(),
		Resolver:   resolver,
		Calculator: calculator,
		Runner:     payrun.NewRunner(calculator),
	}
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// ListTemplates returns all templates for an organization.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id query parameter is required", nil)
		return
	}

	templates, err := h.Store.ListTemplates(r.Context(), engine.OrgID(orgID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list templates", err)
		return
	}

	dtos := make([]TemplateDTO, len(templates))
	for i, t := range templates {
		dtos[i] = toTemplateDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTemplate creates a draft template from a JSON definition.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var def factory.TemplateJSON
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	config, err := h.Factory.Build(def)
	if err != nil {
		writeDomainError(w, "Failed to build template", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveTemplate(ctx, config.Template); err != nil {
		writeDomainError(w, "Failed to save template", err)
		return
	}
	if err := h.Store.SaveComponents(ctx, config.Template.ID, config.Components); err != nil {
		writeDomainError(w, "Failed to save components", err)
		return
	}
	if err := h.Store.SaveInclusions(ctx, config.Template.ID, config.Inclusions); err != nil {
		writeDomainError(w, "Failed to save inclusions", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateDTO(config.Template))
}

// GetTemplate returns a template with its components and inclusions.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.TemplateID(chi.URLParam(r, "id"))

	template, err := h.Store.FindTemplateByID(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get template", err)
		return
	}
	components, err := h.Store.GetTemplateComponents(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get components", err)
		return
	}
	inclusions, err := h.Store.FindTemplateInclusions(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get inclusions", err)
		return
	}

	writeJSON(w, http.StatusOK, TemplateDetailDTO{
		TemplateDTO: toTemplateDTO(*template),
		Components:  components,
		Inclusions:  inclusions,
	})
}

// UpdateTemplateStatus applies a lifecycle transition.
func (h *Handler) UpdateTemplateStatus(w http.ResponseWriter, r *http.Request) {
	id := engine.TemplateID(chi.URLParam(r, "id"))

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.UpdateTemplateStatus(r.Context(), id, engine.TemplateStatus(req.Status)); err != nil {
		writeDomainError(w, "Failed to update status", err)
		return
	}

	template, err := h.Store.FindTemplateByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to reload template", err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(*template))
}

// ResolveTemplate returns the flattened component list.
func (h *Handler) ResolveTemplate(w http.ResponseWriter, r *http.Request) {
	id := engine.TemplateID(chi.URLParam(r, "id"))

	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
		return
	}

	resolved, err := h.Resolver.Resolve(r.Context(), id, asOf)
	if err != nil {
		writeDomainError(w, "Failed to resolve template", err)
		return
	}

	contributing := make([]string, len(resolved.Contributing))
	for i, tid := range resolved.Contributing {
		contributing[i] = string(tid)
	}
	at := engine.Today()
	if asOf != nil {
		at = *asOf
	}
	writeJSON(w, http.StatusOK, ResolvedStructureDTO{
		TemplateID:   string(resolved.TemplateID),
		Version:      resolved.Version.String(),
		AsOf:         at.String(),
		Components:   resolved.Components,
		Contributing: contributing,
	})
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// CreateAssignment assigns a worker to a template version.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.WorkerID == "" || req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "id, worker_id, and template_id are required", nil)
		return
	}

	from, err := engine.ParseTimePoint(req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from date (use YYYY-MM-DD)", err)
		return
	}
	effective := engine.EffectiveRange{From: from}
	if req.EffectiveTo != "" {
		to, err := engine.ParseTimePoint(req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to date (use YYYY-MM-DD)", err)
			return
		}
		effective.To = &to
	}

	// The template must exist before a worker is pinned to it.
	if _, err := h.Store.FindTemplateByID(r.Context(), engine.TemplateID(req.TemplateID)); err != nil {
		writeDomainError(w, "Failed to look up template", err)
		return
	}

	assignment := engine.WorkerStructureAssignment{
		ID:           engine.AssignmentID(req.ID),
		WorkerID:     engine.WorkerID(req.WorkerID),
		OrgID:        engine.OrgID(req.OrgID),
		TemplateID:   engine.TemplateID(req.TemplateID),
		Compensation: toCompensation(req.Compensation),
		Effective:    effective,
	}
	if err := h.Store.SaveAssignment(r.Context(), assignment); err != nil {
		writeDomainError(w, "Failed to save assignment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAssignmentDTO(assignment))
}

// CreateOverride attaches a component override to an assignment.
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	assignmentID := engine.AssignmentID(chi.URLParam(r, "id"))

	var req CreateOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	override := engine.ComponentOverride{
		AssignmentID:  assignmentID,
		ComponentCode: engine.ComponentCode(req.ComponentCode),
		Type:          engine.OverrideType(req.Type),
		Amount:        toDecimalPtr(req.Amount),
		Rate:          toDecimalPtr(req.Rate),
		Formula:       req.Formula,
		Condition:     req.Condition,
		MinValue:      toDecimalPtr(req.MinValue),
		MaxValue:      toDecimalPtr(req.MaxValue),
		Justification: req.Justification,
	}
	if err := h.Store.SaveOverride(r.Context(), override); err != nil {
		writeDomainError(w, "Failed to save override", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// CreateTimeEntry records an approved time entry.
func (h *Handler) CreateTimeEntry(w http.ResponseWriter, r *http.Request) {
	workerID := engine.WorkerID(chi.URLParam(r, "id"))

	var req TimeEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := engine.ParseTimePoint(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	entry := engine.TimeEntry{
		Date:        date,
		HoursWorked: decimal.NewFromFloat(req.HoursWorked),
		ShiftTypeID: req.ShiftTypeID,
		LocationID:  req.LocationID,
		RoleID:      req.RoleID,
	}
	if err := h.Store.SaveTimeEntry(r.Context(), workerID, entry); err != nil {
		writeDomainError(w, "Failed to save time entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// CalculateWorker computes one worker's itemized pay.
func (h *Handler) CalculateWorker(w http.ResponseWriter, r *http.Request) {
	workerID := engine.WorkerID(chi.URLParam(r, "id"))

	var req CalculateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	asOf := engine.Today()
	if req.AsOf != "" {
		parsed, err := engine.ParseTimePoint(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	var compensation engine.Compensation
	if req.Compensation != nil {
		compensation = toCompensation(*req.Compensation)
	}

	result, err := h.Calculator.Calculate(r.Context(), workerID, compensation, asOf)
	if err != nil {
		writeDomainError(w, "Calculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// PAY RUN HANDLERS
// =============================================================================

// RunPayRun computes a batch of workers in parallel.
func (h *Handler) RunPayRun(w http.ResponseWriter, r *http.Request) {
	var req PayRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Workers) == 0 {
		writeError(w, http.StatusBadRequest, "workers list is required", nil)
		return
	}

	asOf := engine.Today()
	if req.AsOf != "" {
		parsed, err := engine.ParseTimePoint(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	inputs := make([]payrun.WorkerInput, len(req.Workers))
	for i, worker := range req.Workers {
		inputs[i] = payrun.WorkerInput{WorkerID: engine.WorkerID(worker.WorkerID)}
		if worker.Compensation != nil {
			inputs[i].Compensation = toCompensation(*worker.Compensation)
		}
	}

	result, err := h.Runner.Run(r.Context(), inputs, asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Pay run aborted", err)
		return
	}

	failures := make([]PayRunFailureDTO, len(result.Failures))
	for i, f := range result.Failures {
		failures[i] = PayRunFailureDTO{WorkerID: string(f.WorkerID), Error: f.Err.Error()}
	}
	writeJSON(w, http.StatusOK, PayRunDTO{
		RunID:    result.RunID,
		AsOf:     result.AsOf.String(),
		Results:  result.Results,
		Failures: failures,
		Totals:   result.Totals(),
	})
}

// =============================================================================
// CONVERSIONS & HELPERS
// =============================================================================

func toTemplateDTO(t engine.Template) TemplateDTO {
	dto := TemplateDTO{
		ID:                    string(t.ID),
		OrgID:                 string(t.OrgID),
		Code:                  t.Code,
		Version:               t.Version.String(),
		Name:                  t.Name,
		Status:                string(t.Status),
		Currency:              t.Currency,
		PayFrequency:          string(t.PayFrequency),
		IsOrganizationDefault: t.IsOrganizationDefault,
	}
	if !t.Effective.From.Time.IsZero() {
		dto.EffectiveFrom = t.Effective.From.String()
	}
	if t.Effective.To != nil {
		dto.EffectiveTo = t.Effective.To.String()
	}
	return dto
}

func toAssignmentDTO(a engine.WorkerStructureAssignment) AssignmentDTO {
	dto := AssignmentDTO{
		ID:            string(a.ID),
		WorkerID:      string(a.WorkerID),
		OrgID:         string(a.OrgID),
		TemplateID:    string(a.TemplateID),
		Compensation:  toCompensationDTO(a.Compensation),
		EffectiveFrom: a.Effective.From.String(),
	}
	if a.Effective.To != nil {
		dto.EffectiveTo = a.Effective.To.String()
	}
	return dto
}

func toCompensation(dto CompensationDTO) engine.Compensation {
	return engine.Compensation{
		BaseSalary:   toDecimalPtr(dto.BaseSalary),
		HourlyRate:   toDecimalPtr(dto.HourlyRate),
		Hours:        toDecimalPtr(dto.Hours),
		PayFrequency: engine.PayFrequency(dto.PayFrequency),
	}
}

func toCompensationDTO(c engine.Compensation) CompensationDTO {
	return CompensationDTO{
		BaseSalary:   toFloatPtr(c.BaseSalary),
		HourlyRate:   toFloatPtr(c.HourlyRate),
		Hours:        toFloatPtr(c.Hours),
		PayFrequency: string(c.PayFrequency),
	}
}

func toDecimalPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func toFloatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}

func parseAsOf(raw string) (*engine.TimePoint, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := engine.ParseTimePoint(raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
