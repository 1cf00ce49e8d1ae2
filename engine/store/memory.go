// Package store provides engine.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/payroll-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	templates   map[engine.TemplateID]engine.Template
	components  map[engine.TemplateID][]engine.Component
	inclusions  map[engine.TemplateID][]engine.TemplateInclusion
	assignments map[engine.WorkerID][]engine.WorkerStructureAssignment
	overrides   map[engine.AssignmentID][]engine.ComponentOverride
	timeEntries map[engine.WorkerID][]engine.TimeEntry
	resolutions map[engine.ResolutionKey]*engine.ResolvedStructure
}

func NewMemory() *Memory {
	return &Memory{
		templates:   make(map[engine.TemplateID]engine.Template),
		components:  make(map[engine.TemplateID][]engine.Component),
		inclusions:  make(map[engine.TemplateID][]engine.TemplateInclusion),
		assignments: make(map[engine.WorkerID][]engine.WorkerStructureAssignment),
		overrides:   make(map[engine.AssignmentID][]engine.ComponentOverride),
		timeEntries: make(map[engine.WorkerID][]engine.TimeEntry),
		resolutions: make(map[engine.ResolutionKey]*engine.ResolvedStructure),
	}
}

var _ engine.Store = (*Memory)(nil)

// =============================================================================
// TEMPLATE READS
// =============================================================================

func (m *Memory) FindTemplateByID(_ context.Context, id engine.TemplateID) (*engine.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return nil, engine.ErrTemplateNotFound
	}
	return &t, nil
}

func (m *Memory) FindTemplateByCode(_ context.Context, orgID engine.OrgID, code string, version *engine.SemVer) (*engine.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *engine.Template
	for id := range m.templates {
		t := m.templates[id]
		if t.OrgID != orgID || t.Code != code {
			continue
		}
		if version != nil {
			// A pinned version resolves regardless of status; the caller
			// froze it deliberately at assignment time.
			if t.Version.Compare(*version) == 0 {
				return &t, nil
			}
			continue
		}
		if t.Status != engine.StatusActive {
			continue
		}
		if best == nil || t.Version.Compare(best.Version) > 0 {
			copied := t
			best = &copied
		}
	}
	if best == nil {
		return nil, engine.ErrTemplateNotFound
	}
	return best, nil
}

func (m *Memory) GetTemplateComponents(_ context.Context, id engine.TemplateID) ([]engine.Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.templates[id]; !ok {
		return nil, engine.ErrTemplateNotFound
	}
	out := make([]engine.Component, len(m.components[id]))
	copy(out, m.components[id])
	return out, nil
}

func (m *Memory) FindTemplateInclusions(_ context.Context, id engine.TemplateID) ([]engine.TemplateInclusion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.templates[id]; !ok {
		return nil, engine.ErrTemplateNotFound
	}
	out := make([]engine.TemplateInclusion, len(m.inclusions[id]))
	copy(out, m.inclusions[id])
	return out, nil
}

func (m *Memory) ListTemplates(_ context.Context, orgID engine.OrgID) ([]engine.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Template
	for _, t := range m.templates {
		if t.OrgID == orgID {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// TEMPLATE WRITES
// =============================================================================

func (m *Memory) SaveTemplate(_ context.Context, template engine.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.templates[template.ID]; ok && existing.Status != engine.StatusDraft {
		return engine.ErrImmutableTemplate
	}
	if template.IsOrganizationDefault {
		for id, t := range m.templates {
			if t.OrgID == template.OrgID && t.IsOrganizationDefault && id != template.ID {
				t.IsOrganizationDefault = false
				m.templates[id] = t
			}
		}
	}
	m.templates[template.ID] = template
	return nil
}

func (m *Memory) UpdateTemplateStatus(_ context.Context, id engine.TemplateID, next engine.TemplateStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[id]
	if !ok {
		return engine.ErrTemplateNotFound
	}
	if !t.Status.CanTransitionTo(next) {
		return engine.ErrInvalidStatusTransition
	}
	t.Status = next
	m.templates[id] = t
	return nil
}

func (m *Memory) SaveComponents(_ context.Context, id engine.TemplateID, components []engine.Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[id]
	if !ok {
		return engine.ErrTemplateNotFound
	}
	if t.Status != engine.StatusDraft {
		return engine.ErrImmutableTemplate
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
		components[i].TemplateID = id
	}
	stored := make([]engine.Component, len(components))
	copy(stored, components)
	m.components[id] = stored
	return nil
}

func (m *Memory) SaveInclusions(_ context.Context, id engine.TemplateID, inclusions []engine.TemplateInclusion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[id]
	if !ok {
		return engine.ErrTemplateNotFound
	}
	if t.Status != engine.StatusDraft {
		return engine.ErrImmutableTemplate
	}
	priorities := make(map[int]bool, len(inclusions))
	for i := range inclusions {
		if priorities[inclusions[i].Priority] {
			return engine.ErrDuplicatePriority
		}
		priorities[inclusions[i].Priority] = true
		inclusions[i].ParentID = id
	}
	stored := make([]engine.TemplateInclusion, len(inclusions))
	copy(stored, inclusions)
	m.inclusions[id] = stored
	return nil
}

// =============================================================================
// ASSIGNMENTS & OVERRIDES
// =============================================================================

func (m *Memory) SaveAssignment(_ context.Context, assignment engine.WorkerStructureAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.assignments[assignment.WorkerID]
	for i := range existing {
		if existing[i].ID == assignment.ID {
			continue
		}
		if existing[i].Effective.Overlaps(assignment.Effective) {
			// Supersede: soft-close the prior assignment the day before the
			// new one takes effect.
			closed := assignment.Effective.From.AddDays(-1)
			existing[i].Effective.To = &closed
		}
	}
	m.assignments[assignment.WorkerID] = append(existing, assignment)
	return nil
}

func (m *Memory) GetCurrentWorkerStructure(_ context.Context, workerID engine.WorkerID, at engine.TimePoint) (*engine.WorkerStructureAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.assignments[workerID] {
		a := m.assignments[workerID][i]
		if a.IsActive(at) {
			return &a, nil
		}
	}
	return nil, engine.ErrAssignmentNotFound
}

func (m *Memory) SaveOverride(_ context.Context, override engine.ComponentOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := override.Validate(); err != nil {
		return err
	}
	m.overrides[override.AssignmentID] = append(m.overrides[override.AssignmentID], override)
	return nil
}

func (m *Memory) GetWorkerOverrides(_ context.Context, assignmentID engine.AssignmentID) ([]engine.ComponentOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.ComponentOverride, len(m.overrides[assignmentID]))
	copy(out, m.overrides[assignmentID])
	return out, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (m *Memory) SaveTimeEntry(_ context.Context, workerID engine.WorkerID, entry engine.TimeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timeEntries[workerID] = append(m.timeEntries[workerID], entry)
	return nil
}

func (m *Memory) FindApprovedTimeEntries(_ context.Context, workerID engine.WorkerID, from, to engine.TimePoint) ([]engine.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.TimeEntry
	for _, entry := range m.timeEntries[workerID] {
		if from.BeforeOrEqual(entry.Date) && entry.Date.BeforeOrEqual(to) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// =============================================================================
// RESOLUTION CACHE
// =============================================================================

func (m *Memory) GetResolutionCache(_ context.Context, key engine.ResolutionKey) (*engine.ResolvedStructure, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resolved, ok := m.resolutions[key]
	return resolved, ok, nil
}

func (m *Memory) SaveResolutionCache(_ context.Context, key engine.ResolutionKey, resolved *engine.ResolvedStructure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Last write wins: the value is deterministic per key, so racing
	// populators store identical content.
	m.resolutions[key] = resolved
	return nil
}
