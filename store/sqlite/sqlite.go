/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the full engine.Store surface using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  engine.TemplateStore:        Template, component, and inclusion lookups
  engine.AssignmentStore:      Worker assignments and overrides
  engine.AttendanceStore:      Approved time entries
  engine.ResolutionCacheStore: Resolved-structure cache
  engine.Store:                Management writes on top of the above

IMMUTABILITY ENFORCEMENT:
  The store enforces template immutability the same way the memory store
  does: writes to templates, components, or inclusions are rejected with
  ErrImmutableTemplate once the template has left draft. Status moves only
  forward through the lifecycle.

KEY TABLES:
  templates:        Versioned template headers, one row per (org, code, version)
  components:       Component definitions, calc config stored as JSON
  inclusions:       Directed inclusion edges with priorities and filters
  assignments:      Worker-to-template links with effective ranges
  overrides:        Per-assignment component adjustments
  time_entries:     Approved attendance used by pattern qualification
  resolution_cache: Flattened structures keyed by (template, version, as-of)

JSON COLUMNS:
  Calculation configs, pattern conditions, compensation, and cached
  resolutions are stored as JSON. They are opaque to queries; all filtering
  happens on the indexed scalar columns.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  resolver := engine.NewResolver(store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/engine"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ engine.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Templates (one row per org+code+version)
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		code TEXT NOT NULL,
		version TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		effective_from TEXT,
		effective_to TEXT,
		currency TEXT,
		pay_frequency TEXT,
		is_org_default BOOLEAN DEFAULT FALSE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_org_code_version
		ON templates(org_id, code, version);
	CREATE INDEX IF NOT EXISTS idx_templates_org_status
		ON templates(org_id, status);

	-- Components (calc config as JSON, opaque to queries)
	CREATE TABLE IF NOT EXISTS components (
		template_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT,
		category TEXT NOT NULL,
		calc_json TEXT NOT NULL,
		sequence_order INTEGER NOT NULL,
		affects_gross_pay BOOLEAN DEFAULT FALSE,
		affects_net_pay BOOLEAN DEFAULT FALSE,
		is_taxable BOOLEAN DEFAULT FALSE,
		is_mandatory BOOLEAN DEFAULT FALSE,
		limits_json TEXT,
		condition_json TEXT,
		PRIMARY KEY (template_id, code)
	);

	-- Inclusions (directed edges in the template graph)
	CREATE TABLE IF NOT EXISTS inclusions (
		parent_id TEXT NOT NULL,
		included_code TEXT NOT NULL,
		version_pin TEXT,
		priority INTEGER NOT NULL,
		merge_mode TEXT NOT NULL,
		allow_json TEXT,
		deny_json TEXT,
		effective_from TEXT,
		effective_to TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_inclusions_parent_priority
		ON inclusions(parent_id, priority);

	-- Worker structure assignments
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		compensation_json TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);

	-- Hot path: "which assignment covers this worker on this date?"
	CREATE INDEX IF NOT EXISTS idx_assignments_worker_effective
		ON assignments(worker_id, effective_from, effective_to);

	-- Component overrides, scoped to one assignment
	CREATE TABLE IF NOT EXISTS overrides (
		assignment_id TEXT NOT NULL,
		component_code TEXT NOT NULL,
		override_type TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_overrides_assignment
		ON overrides(assignment_id);

	-- Approved time entries
	CREATE TABLE IF NOT EXISTS time_entries (
		worker_id TEXT NOT NULL,
		date TEXT NOT NULL,
		hours_worked TEXT NOT NULL,
		shift_type_id TEXT,
		location_id TEXT,
		role_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_time_entries_worker_date
		ON time_entries(worker_id, date);

	-- Resolution cache keyed by exact template version and as-of date
	CREATE TABLE IF NOT EXISTS resolution_cache (
		template_id TEXT NOT NULL,
		version TEXT NOT NULL,
		as_of TEXT NOT NULL,
		resolved_json TEXT NOT NULL,
		PRIMARY KEY (template_id, version, as_of)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TEMPLATE READS (engine.TemplateStore interface)
// =============================================================================

const templateColumns = `id, org_id, code, version, name, status,
	effective_from, effective_to, currency, pay_frequency, is_org_default`

// FindTemplateByID returns the template or ErrTemplateNotFound.
func (s *Store) FindTemplateByID(ctx context.Context, id engine.TemplateID) (*engine.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE id = ?", id)
	template, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return template, nil
}

// FindTemplateByCode resolves a template by organization and code.
// A nil version means "latest active version". A pinned version resolves
// regardless of status; the caller froze it deliberately.
func (s *Store) FindTemplateByCode(ctx context.Context, orgID engine.OrgID, code string, version *engine.SemVer) (*engine.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version != nil {
		row := s.db.QueryRowContext(ctx,
			"SELECT "+templateColumns+" FROM templates WHERE org_id = ? AND code = ? AND version = ?",
			orgID, code, version.String())
		template, err := scanTemplate(row)
		if err == sql.ErrNoRows {
			return nil, engine.ErrTemplateNotFound
		}
		if err != nil {
			return nil, err
		}
		return template, nil
	}

	// Version strings do not sort numerically past single digits, so the
	// comparison happens in Go.
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE org_id = ? AND code = ? AND status = ?",
		orgID, code, engine.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var best *engine.Template
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		if best == nil || template.Version.Compare(best.Version) > 0 {
			best = template
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, engine.ErrTemplateNotFound
	}
	return best, nil
}

// GetTemplateComponents returns the template's own components.
func (s *Store) GetTemplateComponents(ctx context.Context, id engine.TemplateID) ([]engine.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.templateExists(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT template_id, code, name, category, calc_json, sequence_order,
		       affects_gross_pay, affects_net_pay, is_taxable, is_mandatory,
		       limits_json, condition_json
		FROM components WHERE template_id = ?
		ORDER BY sequence_order ASC, code ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var components []engine.Component
	for rows.Next() {
		var (
			c                      engine.Component
			calcJSON               string
			limitsJSON, condJSON   sql.NullString
		)
		if err := rows.Scan(&c.TemplateID, &c.Code, &c.Name, &c.Category, &calcJSON,
			&c.SequenceOrder, &c.AffectsGrossPay, &c.AffectsNetPay,
			&c.IsTaxable, &c.IsMandatory, &limitsJSON, &condJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(calcJSON), &c.Calc); err != nil {
			return nil, fmt.Errorf("failed to decode calc config for %s: %w", c.Code, err)
		}
		if limitsJSON.Valid && limitsJSON.String != "" {
			c.Limits = &engine.ValueLimits{}
			if err := json.Unmarshal([]byte(limitsJSON.String), c.Limits); err != nil {
				return nil, fmt.Errorf("failed to decode limits for %s: %w", c.Code, err)
			}
		}
		if condJSON.Valid && condJSON.String != "" {
			c.Condition = &engine.PatternDescriptor{}
			if err := json.Unmarshal([]byte(condJSON.String), c.Condition); err != nil {
				return nil, fmt.Errorf("failed to decode condition for %s: %w", c.Code, err)
			}
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// FindTemplateInclusions returns the template's direct inclusions.
func (s *Store) FindTemplateInclusions(ctx context.Context, id engine.TemplateID) ([]engine.TemplateInclusion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.templateExists(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_id, included_code, version_pin, priority, merge_mode,
		       allow_json, deny_json, effective_from, effective_to
		FROM inclusions WHERE parent_id = ?
		ORDER BY priority ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inclusions []engine.TemplateInclusion
	for rows.Next() {
		var (
			inc                    engine.TemplateInclusion
			pin                    sql.NullString
			allowJSON, denyJSON    sql.NullString
			effFrom, effTo         sql.NullString
		)
		if err := rows.Scan(&inc.ParentID, &inc.IncludedCode, &pin, &inc.Priority,
			&inc.MergeMode, &allowJSON, &denyJSON, &effFrom, &effTo); err != nil {
			return nil, err
		}
		if pin.Valid && pin.String != "" {
			parsed, err := engine.ParseSemVer(pin.String)
			if err != nil {
				return nil, err
			}
			inc.VersionPin = &parsed
		}
		if allowJSON.Valid && allowJSON.String != "" {
			if err := json.Unmarshal([]byte(allowJSON.String), &inc.AllowComponents); err != nil {
				return nil, err
			}
		}
		if denyJSON.Valid && denyJSON.String != "" {
			if err := json.Unmarshal([]byte(denyJSON.String), &inc.DenyComponents); err != nil {
				return nil, err
			}
		}
		rng, err := scanRange(effFrom, effTo)
		if err != nil {
			return nil, err
		}
		inc.Effective = rng
		inclusions = append(inclusions, inc)
	}
	return inclusions, rows.Err()
}

// ListTemplates returns all templates for an organization.
func (s *Store) ListTemplates(ctx context.Context, orgID engine.OrgID) ([]engine.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE org_id = ? ORDER BY code, version", orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []engine.Template
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}
	return templates, rows.Err()
}

func (s *Store) templateExists(ctx context.Context, id engine.TemplateID) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM templates WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return engine.ErrTemplateNotFound
	}
	return nil
}

// =============================================================================
// TEMPLATE WRITES
// =============================================================================

// SaveTemplate creates or updates a template. Updates are rejected once the
// template has left draft. Saving an organization default clears the flag on
// any other template of the same organization.
func (s *Store) SaveTemplate(ctx context.Context, template engine.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status engine.TemplateStatus
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM templates WHERE id = ?", template.ID).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && status != engine.StatusDraft {
		return engine.ErrImmutableTemplate
	}

	if template.IsOrganizationDefault {
		if _, err := tx.ExecContext(ctx,
			"UPDATE templates SET is_org_default = FALSE WHERE org_id = ? AND id != ?",
			template.OrgID, template.ID); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates
		(id, org_id, code, version, name, status, effective_from, effective_to,
		 currency, pay_frequency, is_org_default)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			code = excluded.code,
			version = excluded.version,
			name = excluded.name,
			status = excluded.status,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			currency = excluded.currency,
			pay_frequency = excluded.pay_frequency,
			is_org_default = excluded.is_org_default`,
		template.ID, template.OrgID, template.Code, template.Version.String(),
		template.Name, template.Status,
		rangeFrom(template.Effective), rangeTo(template.Effective),
		template.Currency, template.PayFrequency, template.IsOrganizationDefault,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return tx.Commit()
}

// UpdateTemplateStatus applies a lifecycle transition.
func (s *Store) UpdateTemplateStatus(ctx context.Context, id engine.TemplateID, next engine.TemplateStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current engine.TemplateStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM templates WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return engine.ErrTemplateNotFound
	}
	if err != nil {
		return err
	}
	if !current.CanTransitionTo(next) {
		return engine.ErrInvalidStatusTransition
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE templates SET status = ? WHERE id = ?", next, id)
	return err
}

// SaveComponents replaces a draft template's component list.
func (s *Store) SaveComponents(ctx context.Context, id engine.TemplateID, components []engine.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDraft(ctx, id); err != nil {
		return err
	}

	seen := make(map[engine.ComponentCode]bool, len(components))
	for i := range components {
		if seen[components[i].Code] {
			return &engine.ValidationError{
				Field:   "components",
				Message: "duplicate component code " + string(components[i].Code),
			}
		}
		seen[components[i].Code] = true
		if err := components[i].Calc.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM components WHERE template_id = ?", id); err != nil {
		return err
	}
	for _, c := range components {
		calcJSON, err := json.Marshal(c.Calc)
		if err != nil {
			return err
		}
		limitsJSON, err := marshalNullable(c.Limits)
		if err != nil {
			return err
		}
		condJSON, err := marshalNullable(c.Condition)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO components
			(template_id, code, name, category, calc_json, sequence_order,
			 affects_gross_pay, affects_net_pay, is_taxable, is_mandatory,
			 limits_json, condition_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, c.Code, c.Name, c.Category, string(calcJSON), c.SequenceOrder,
			c.AffectsGrossPay, c.AffectsNetPay, c.IsTaxable, c.IsMandatory,
			limitsJSON, condJSON,
		); err != nil {
			return fmt.Errorf("failed to save component %s: %w", c.Code, err)
		}
	}
	return tx.Commit()
}

// SaveInclusions replaces a draft template's inclusion list.
func (s *Store) SaveInclusions(ctx context.Context, id engine.TemplateID, inclusions []engine.TemplateInclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDraft(ctx, id); err != nil {
		return err
	}

	priorities := make(map[int]bool, len(inclusions))
	for i := range inclusions {
		if priorities[inclusions[i].Priority] {
			return engine.ErrDuplicatePriority
		}
		priorities[inclusions[i].Priority] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM inclusions WHERE parent_id = ?", id); err != nil {
		return err
	}
	for _, inc := range inclusions {
		var pin any
		if inc.VersionPin != nil {
			pin = inc.VersionPin.String()
		}
		allowJSON, err := marshalNullableSlice(inc.AllowComponents)
		if err != nil {
			return err
		}
		denyJSON, err := marshalNullableSlice(inc.DenyComponents)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inclusions
			(parent_id, included_code, version_pin, priority, merge_mode,
			 allow_json, deny_json, effective_from, effective_to)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, inc.IncludedCode, pin, inc.Priority, inc.MergeMode,
			allowJSON, denyJSON, rangeFrom(inc.Effective), rangeTo(inc.Effective),
		); err != nil {
			return fmt.Errorf("failed to save inclusion %s: %w", inc.IncludedCode, err)
		}
	}
	return tx.Commit()
}

func (s *Store) requireDraft(ctx context.Context, id engine.TemplateID) error {
	var status engine.TemplateStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM templates WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return engine.ErrTemplateNotFound
	}
	if err != nil {
		return err
	}
	if status != engine.StatusDraft {
		return engine.ErrImmutableTemplate
	}
	return nil
}

// =============================================================================
// ASSIGNMENTS & OVERRIDES (engine.AssignmentStore interface)
// =============================================================================

// SaveAssignment stores an assignment, soft-closing any prior assignment of
// the same worker whose effective range overlaps.
func (s *Store) SaveAssignment(ctx context.Context, a engine.WorkerStructureAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	compJSON, err := json.Marshal(a.Compensation)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Supersede overlapping assignments: close them the day before the new
	// one takes effect.
	closed := a.Effective.From.AddDays(-1).String()
	newFrom := a.Effective.From.String()
	if a.Effective.To == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE assignments SET effective_to = ?
			WHERE worker_id = ? AND id != ?
			  AND (effective_to IS NULL OR effective_to >= ?)`,
			closed, a.WorkerID, a.ID, newFrom)
	} else {
		newTo := a.Effective.To.String()
		_, err = tx.ExecContext(ctx, `
			UPDATE assignments SET effective_to = ?
			WHERE worker_id = ? AND id != ?
			  AND effective_from <= ?
			  AND (effective_to IS NULL OR effective_to >= ?)`,
			closed, a.WorkerID, a.ID, newTo, newFrom)
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignments
		(id, worker_id, org_id, template_id, compensation_json, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			worker_id = excluded.worker_id,
			org_id = excluded.org_id,
			template_id = excluded.template_id,
			compensation_json = excluded.compensation_json,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to`,
		a.ID, a.WorkerID, a.OrgID, a.TemplateID, string(compJSON),
		newFrom, rangeTo(a.Effective),
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return tx.Commit()
}

// GetCurrentWorkerStructure returns the assignment covering the given date.
func (s *Store) GetCurrentWorkerStructure(ctx context.Context, workerID engine.WorkerID, at engine.TimePoint) (*engine.WorkerStructureAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// ISO dates compare correctly as strings.
	day := at.String()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, worker_id, org_id, template_id, compensation_json, effective_from, effective_to
		FROM assignments
		WHERE worker_id = ? AND effective_from <= ?
		  AND (effective_to IS NULL OR effective_to >= ?)
		LIMIT 1`, workerID, day, day)

	var (
		a              engine.WorkerStructureAssignment
		compJSON       sql.NullString
		effFrom        string
		effTo          sql.NullString
	)
	err := row.Scan(&a.ID, &a.WorkerID, &a.OrgID, &a.TemplateID, &compJSON, &effFrom, &effTo)
	if err == sql.ErrNoRows {
		return nil, engine.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if compJSON.Valid && compJSON.String != "" {
		if err := json.Unmarshal([]byte(compJSON.String), &a.Compensation); err != nil {
			return nil, fmt.Errorf("failed to decode compensation: %w", err)
		}
	}
	rng, err := scanRange(sql.NullString{String: effFrom, Valid: true}, effTo)
	if err != nil {
		return nil, err
	}
	a.Effective = rng
	return &a, nil
}

// SaveOverride attaches an override to an assignment.
func (s *Store) SaveOverride(ctx context.Context, override engine.ComponentOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := override.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(override)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO overrides (assignment_id, component_code, override_type, payload_json)
		VALUES (?, ?, ?, ?)`,
		override.AssignmentID, override.ComponentCode, override.Type, string(payload))
	return err
}

// GetWorkerOverrides returns all overrides attached to an assignment.
func (s *Store) GetWorkerOverrides(ctx context.Context, assignmentID engine.AssignmentID) ([]engine.ComponentOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT payload_json FROM overrides WHERE assignment_id = ?", assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []engine.ComponentOverride
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var override engine.ComponentOverride
		if err := json.Unmarshal([]byte(payload), &override); err != nil {
			return nil, fmt.Errorf("failed to decode override: %w", err)
		}
		overrides = append(overrides, override)
	}
	return overrides, rows.Err()
}

// =============================================================================
// ATTENDANCE (engine.AttendanceStore interface)
// =============================================================================

// SaveTimeEntry records an approved time entry.
func (s *Store) SaveTimeEntry(ctx context.Context, workerID engine.WorkerID, entry engine.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO time_entries (worker_id, date, hours_worked, shift_type_id, location_id, role_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		workerID, entry.Date.String(), entry.HoursWorked.String(),
		entry.ShiftTypeID, entry.LocationID, entry.RoleID)
	return err
}

// FindApprovedTimeEntries returns approved entries in [from, to], inclusive.
func (s *Store) FindApprovedTimeEntries(ctx context.Context, workerID engine.WorkerID, from, to engine.TimePoint) ([]engine.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, hours_worked, shift_type_id, location_id, role_id
		FROM time_entries
		WHERE worker_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		workerID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []engine.TimeEntry
	for rows.Next() {
		var (
			entry                    engine.TimeEntry
			date, hours              string
			shift, location, role    sql.NullString
		)
		if err := rows.Scan(&date, &hours, &shift, &location, &role); err != nil {
			return nil, err
		}
		entry.Date, err = engine.ParseTimePoint(date)
		if err != nil {
			return nil, err
		}
		entry.HoursWorked, err = decimal.NewFromString(hours)
		if err != nil {
			return nil, fmt.Errorf("failed to decode hours worked: %w", err)
		}
		entry.ShiftTypeID = shift.String
		entry.LocationID = location.String
		entry.RoleID = role.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// RESOLUTION CACHE (engine.ResolutionCacheStore interface)
// =============================================================================

func (s *Store) GetResolutionCache(ctx context.Context, key engine.ResolutionKey) (*engine.ResolvedStructure, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT resolved_json FROM resolution_cache
		WHERE template_id = ? AND version = ? AND as_of = ?`,
		key.TemplateID, key.Version, key.AsOf).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resolved engine.ResolvedStructure
	if err := json.Unmarshal([]byte(payload), &resolved); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached resolution: %w", err)
	}
	return &resolved, true, nil
}

func (s *Store) SaveResolutionCache(ctx context.Context, key engine.ResolutionKey, resolved *engine.ResolvedStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(resolved)
	if err != nil {
		return err
	}

	// Last write wins: the value is deterministic per key, so racing
	// populators store identical content.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resolution_cache (template_id, version, as_of, resolved_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(template_id, version, as_of) DO UPDATE SET
			resolved_json = excluded.resolved_json`,
		key.TemplateID, key.Version, key.AsOf, string(payload))
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"resolution_cache", "time_entries", "overrides", "assignments", "inclusions", "components", "templates"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func scanTemplate(row interface{ Scan(...any) error }) (*engine.Template, error) {
	var (
		t              engine.Template
		version        string
		effFrom, effTo sql.NullString
	)
	err := row.Scan(&t.ID, &t.OrgID, &t.Code, &version, &t.Name, &t.Status,
		&effFrom, &effTo, &t.Currency, &t.PayFrequency, &t.IsOrganizationDefault)
	if err != nil {
		return nil, err
	}
	t.Version, err = engine.ParseSemVer(version)
	if err != nil {
		return nil, err
	}
	rng, err := scanRange(effFrom, effTo)
	if err != nil {
		return nil, err
	}
	t.Effective = rng
	return &t, nil
}

func scanRange(from, to sql.NullString) (engine.EffectiveRange, error) {
	var rng engine.EffectiveRange
	if from.Valid && from.String != "" {
		parsed, err := engine.ParseTimePoint(from.String)
		if err != nil {
			return rng, err
		}
		rng.From = parsed
	}
	if to.Valid && to.String != "" {
		parsed, err := engine.ParseTimePoint(to.String)
		if err != nil {
			return rng, err
		}
		rng.To = &parsed
	}
	return rng, nil
}

func rangeFrom(rng engine.EffectiveRange) any {
	if rng.From.Time.IsZero() {
		return nil
	}
	return rng.From.String()
}

func rangeTo(rng engine.EffectiveRange) any {
	if rng.To == nil {
		return nil
	}
	return rng.To.String()
}

func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *engine.ValueLimits:
		if val == nil {
			return nil, nil
		}
	case *engine.PatternDescriptor:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalNullableSlice(codes []engine.ComponentCode) (any, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
