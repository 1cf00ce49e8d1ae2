/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the boundary between the engine and storage. The engine only
  READS template, assignment, and attendance data; its single write is
  resolution-cache population, which is idempotent (the computed value is
  deterministic for a given key, so racing writers are harmless).

KEY INTERFACES:
  TemplateStore:        Template, component, and inclusion lookups
  AssignmentStore:      Worker structure assignments and overrides
  AttendanceStore:      Approved time entries for pattern qualification
  ResolutionCacheStore: Resolved-structure cache keyed by exact version

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing/dev

SEE ALSO:
  - resolver.go: Consumes TemplateStore + ResolutionCacheStore
  - pipeline.go: Consumes AssignmentStore
  - pattern.go: Consumes AttendanceStore
*/
package engine

import "context"

// =============================================================================
// READ INTERFACES
// =============================================================================

// TemplateStore provides template graph lookups.
type TemplateStore interface {
	// FindTemplateByID returns the template or ErrTemplateNotFound.
	FindTemplateByID(ctx context.Context, id TemplateID) (*Template, error)

	// FindTemplateByCode resolves a template by organization and code.
	// A nil version means "latest active version".
	FindTemplateByCode(ctx context.Context, orgID OrgID, code string, version *SemVer) (*Template, error)

	// GetTemplateComponents returns the template's own components.
	GetTemplateComponents(ctx context.Context, id TemplateID) ([]Component, error)

	// FindTemplateInclusions returns the template's direct inclusions.
	FindTemplateInclusions(ctx context.Context, id TemplateID) ([]TemplateInclusion, error)
}

// AssignmentStore provides worker structure lookups.
type AssignmentStore interface {
	// GetCurrentWorkerStructure returns the assignment covering the given
	// date, or ErrAssignmentNotFound.
	GetCurrentWorkerStructure(ctx context.Context, workerID WorkerID, at TimePoint) (*WorkerStructureAssignment, error)

	// GetWorkerOverrides returns all overrides attached to an assignment.
	GetWorkerOverrides(ctx context.Context, assignmentID AssignmentID) ([]ComponentOverride, error)
}

// AttendanceStore provides approved time-entry history.
type AttendanceStore interface {
	// FindApprovedTimeEntries returns approved entries in [from, to],
	// inclusive, in no guaranteed order.
	FindApprovedTimeEntries(ctx context.Context, workerID WorkerID, from, to TimePoint) ([]TimeEntry, error)
}

// =============================================================================
// RESOLUTION CACHE
// =============================================================================

// ResolutionCacheStore caches resolved structures. Because the key embeds the
// exact template version, republishing a template naturally produces a new
// key; stale entries are never looked up again rather than actively evicted.
type ResolutionCacheStore interface {
	GetResolutionCache(ctx context.Context, key ResolutionKey) (*ResolvedStructure, bool, error)
	SaveResolutionCache(ctx context.Context, key ResolutionKey, resolved *ResolvedStructure) error
}

// =============================================================================
// FULL STORE - Read interfaces plus management writes
// =============================================================================

// Store is the full persistence surface used by the API layer. The engine
// itself only depends on the narrow read interfaces above.
type Store interface {
	TemplateStore
	AssignmentStore
	AttendanceStore
	ResolutionCacheStore

	// SaveTemplate creates or updates a template. Updates are rejected with
	// ErrImmutableTemplate once the template has left draft. Saving a
	// template with IsOrganizationDefault=true clears the flag on any other
	// template of the same organization.
	SaveTemplate(ctx context.Context, template Template) error

	// UpdateTemplateStatus applies a lifecycle transition, enforcing the
	// monotonic forward-only order.
	UpdateTemplateStatus(ctx context.Context, id TemplateID, next TemplateStatus) error

	// SaveComponents replaces a draft template's component list.
	SaveComponents(ctx context.Context, id TemplateID, components []Component) error

	// SaveInclusions replaces a draft template's inclusion list. Rejects
	// duplicate priorities with ErrDuplicatePriority.
	SaveInclusions(ctx context.Context, id TemplateID, inclusions []TemplateInclusion) error

	// ListTemplates returns all templates for an organization.
	ListTemplates(ctx context.Context, orgID OrgID) ([]Template, error)

	// SaveAssignment stores an assignment, soft-closing any prior assignment
	// of the same worker whose effective range overlaps.
	SaveAssignment(ctx context.Context, assignment WorkerStructureAssignment) error

	// SaveOverride attaches an override to an assignment.
	SaveOverride(ctx context.Context, override ComponentOverride) error

	// SaveTimeEntry records an approved time entry.
	SaveTimeEntry(ctx context.Context, workerID WorkerID, entry TimeEntry) error
}
