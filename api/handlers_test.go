package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/engine/store"
)

func newTestRouter(t *testing.T) (*chi.Mux, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return api.NewRouter(api.NewHandler(mem)), mem
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

const templateJSON = `{
	"id": "tpl-std",
	"org_id": "org-1",
	"code": "STD_MONTHLY",
	"name": "Standard Monthly Salary",
	"components": [
		{
			"code": "HOUSING_ALLOWANCE",
			"category": "earning",
			"type": "fixed",
			"amount": 800,
			"sequence": 10,
			"affects_gross_pay": true,
			"affects_net_pay": true
		},
		{
			"code": "PENSION",
			"category": "deduction",
			"type": "percentage",
			"percentage_of": "GROSS_EARNINGS",
			"rate": 5,
			"sequence": 100,
			"affects_net_pay": true
		}
	]
}`

func createActiveTemplate(t *testing.T, router http.Handler) {
	t.Helper()
	var def map[string]any
	require.NoError(t, json.Unmarshal([]byte(templateJSON), &def))

	rec := doJSON(t, router, http.MethodPost, "/api/templates", def)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.TemplateDTO](t, rec)
	assert.Equal(t, "draft", created.Status)

	rec = doJSON(t, router, http.MethodPost, "/api/templates/tpl-std/status",
		api.UpdateStatusRequest{Status: "active"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", decode[api.TemplateDTO](t, rec).Status)
}

func assignWorker(t *testing.T, router http.Handler, workerID string, salary float64) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/assignments", api.CreateAssignmentRequest{
		ID:            "asg-" + workerID,
		WorkerID:      workerID,
		OrgID:         "org-1",
		TemplateID:    "tpl-std",
		Compensation:  api.CompensationDTO{BaseSalary: &salary, PayFrequency: "monthly"},
		EffectiveFrom: "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestTemplateLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	createActiveTemplate(t, router)

	// The template is visible in the listing and in detail form.
	rec := doJSON(t, router, http.MethodGet, "/api/templates?org_id=org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]api.TemplateDTO](t, rec), 1)

	rec = doJSON(t, router, http.MethodGet, "/api/templates/tpl-std", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[api.TemplateDetailDTO](t, rec)
	assert.Len(t, detail.Components, 2)

	// Backward lifecycle moves are rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/templates/tpl-std/status",
		api.UpdateStatusRequest{Status: "draft"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Mutating an active template is rejected.
	var def map[string]any
	require.NoError(t, json.Unmarshal([]byte(templateJSON), &def))
	rec = doJSON(t, router, http.MethodPost, "/api/templates", def)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveTemplateOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	createActiveTemplate(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/templates/tpl-std/resolved?as_of=2025-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[api.ResolvedStructureDTO](t, rec)
	assert.Equal(t, "tpl-std", resolved.TemplateID)
	assert.Equal(t, "2025-06-30", resolved.AsOf)
	assert.Len(t, resolved.Components, 2)

	rec = doJSON(t, router, http.MethodGet, "/api/templates/nope/resolved", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculateWorkerOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	createActiveTemplate(t, router)
	assignWorker(t, router, "worker-1", 4000)

	rec := doJSON(t, router, http.MethodPost, "/api/workers/worker-1/calculate",
		api.CalculateRequest{AsOf: "2025-06-30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[engine.CalculationResult](t, rec)
	assert.Equal(t, engine.WorkerID("worker-1"), result.WorkerID)
	// 4000 base + 800 housing, pension 5% of 4800.
	assert.Equal(t, "4800", result.Summary.TotalEarnings.String())
	assert.Equal(t, "240", result.Summary.TotalDeductions.String())
	assert.Equal(t, "4560", result.Summary.NetPay.String())

	// Unknown worker has no assignment.
	rec = doJSON(t, router, http.MethodPost, "/api/workers/nobody/calculate",
		api.CalculateRequest{AsOf: "2025-06-30"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOverrideOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	createActiveTemplate(t, router)
	assignWorker(t, router, "worker-1", 4000)

	amount := 500.0
	rec := doJSON(t, router, http.MethodPost, "/api/assignments/asg-worker-1/overrides",
		api.CreateOverrideRequest{
			ComponentCode: "HOUSING_ALLOWANCE",
			Type:          "amount",
			Amount:        &amount,
			Justification: "relocation agreement",
		})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/workers/worker-1/calculate",
		api.CalculateRequest{AsOf: "2025-06-30"})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[engine.CalculationResult](t, rec)
	assert.Equal(t, "4500", result.Summary.TotalEarnings.String())

	// Overrides without justification are rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/assignments/asg-worker-1/overrides",
		api.CreateOverrideRequest{ComponentCode: "HOUSING_ALLOWANCE", Type: "amount", Amount: &amount})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeEntryIngestionOverHTTP(t *testing.T) {
	router, mem := newTestRouter(t)
	createActiveTemplate(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/workers/worker-1/time-entries",
		api.TimeEntryRequest{Date: "2025-06-08", HoursWorked: 8, ShiftTypeID: "night"})
	require.Equal(t, http.StatusCreated, rec.Code)

	entries, err := mem.FindApprovedTimeEntries(context.Background(), "worker-1",
		engine.NewTimePoint(2025, time.June, 1), engine.NewTimePoint(2025, time.June, 30))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "night", entries[0].ShiftTypeID)
}

func TestPayRunOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	createActiveTemplate(t, router)
	assignWorker(t, router, "worker-1", 1000)
	assignWorker(t, router, "worker-2", 2000)

	rec := doJSON(t, router, http.MethodPost, "/api/payruns", api.PayRunRequest{
		AsOf: "2025-06-30",
		Workers: []api.PayRunWorkerDTO{
			{WorkerID: "worker-1"},
			{WorkerID: "worker-2"},
			{WorkerID: "worker-unassigned"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	run := decode[api.PayRunDTO](t, rec)
	assert.NotEmpty(t, run.RunID)
	assert.Len(t, run.Results, 2)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "worker-unassigned", run.Failures[0].WorkerID)
}
