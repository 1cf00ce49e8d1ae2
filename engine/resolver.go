/*
resolver.go - Template composition resolver

PURPOSE:
  Flattens a template's inclusion graph into one ordered component list.
  Templates inherit components from included templates; each inclusion
  carries a priority (lower merges first, i.e. lower precedence) and a merge
  mode that decides what happens on component code collisions.

ALGORITHM (depth-first, priority-ordered merge):
  1. Cache lookup by (template id, exact version, as-of-or-"current")
  2. Load inclusions active as of the reference date, sorted by priority
  3. Structural cycle check against the active recursion path - a cycle is
     a hard failure naming the cycle, never silently truncated
  4. Recursively resolve each included template (each sibling branch gets
     its own copy of the visited set), apply the inclusion's allow/deny
     filter, merge by mode:
       merge:    first writer wins (skip codes already present)
       override: last writer wins (always replace)
       additive: sum default amounts, fixed components only
  5. The template's OWN components merge last with override semantics -
     direct components always beat anything inherited
  6. Sort by sequence order (ties broken by code), cache, return

DEPTH BOUND:
  Nesting is capped (default 10) as a defensive bound against pathological
  configurations, even though cycles are already rejected structurally.

SEE ALSO:
  - types.go: TemplateInclusion, MergeMode
  - store.go: TemplateStore, ResolutionCacheStore
  - pipeline.go: Consumes the resolved component list
*/
package engine

import (
	"context"
	"fmt"
	"sort"
)

// DefaultMaxDepth bounds inclusion nesting.
const DefaultMaxDepth = 10

// =============================================================================
// RESOLVED STRUCTURE & CACHE KEY
// =============================================================================

// ResolutionKey identifies one cached resolution. The exact version is part
// of the key, so republishing a template produces a fresh key and stale
// entries simply stop being looked up.
type ResolutionKey struct {
	TemplateID TemplateID
	Version    string
	AsOf       string // "current" or a YYYY-MM-DD date
}

// ResolvedStructure is the fully merged, ordered component list plus the
// set of templates that contributed to it.
type ResolvedStructure struct {
	TemplateID   TemplateID
	Version      SemVer
	Components   []Component
	Contributing []TemplateID
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Templates TemplateStore
	Cache     ResolutionCacheStore // nil disables caching
	MaxDepth  int
}

func NewResolver(templates TemplateStore, cache ResolutionCacheStore) *Resolver {
	return &Resolver{Templates: templates, Cache: cache, MaxDepth: DefaultMaxDepth}
}

// Resolve flattens the template's inclusion graph as of the given date.
// A nil asOf resolves "current" (today's inclusions).
func (r *Resolver) Resolve(ctx context.Context, templateID TemplateID, asOf *TimePoint) (*ResolvedStructure, error) {
	template, err := r.Templates.FindTemplateByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	at := Today()
	keyAsOf := "current"
	if asOf != nil {
		at = *asOf
		keyAsOf = asOf.String()
	}
	key := ResolutionKey{TemplateID: templateID, Version: template.Version.String(), AsOf: keyAsOf}

	if r.Cache != nil {
		if cached, ok, err := r.Cache.GetResolutionCache(ctx, key); err == nil && ok {
			return cached, nil
		}
	}

	acc := newMergeAccumulator()
	contributing, err := r.resolveInto(ctx, acc, template, at, map[TemplateID]bool{}, nil, 0)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedStructure{
		TemplateID:   templateID,
		Version:      template.Version,
		Components:   acc.sorted(),
		Contributing: contributing,
	}

	if r.Cache != nil {
		// Best-effort population: the value is deterministic for this key,
		// so racing writers are harmless and a failed write only costs a
		// recomputation on the next call.
		_ = r.Cache.SaveResolutionCache(ctx, key, resolved)
	}
	return resolved, nil
}

// resolveInto merges the template's inherited and own components into acc and
// returns the contributing template ids in merge order.
func (r *Resolver) resolveInto(ctx context.Context, acc *mergeAccumulator, template *Template, at TimePoint, visited map[TemplateID]bool, path []TemplateID, depth int) ([]TemplateID, error) {
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: template %s at depth %d", ErrMaxDepthExceeded, template.ID, depth)
	}
	if visited[template.ID] {
		return nil, &CircularInclusionError{Cycle: append(append([]TemplateID{}, path...), template.ID)}
	}
	visited[template.ID] = true
	path = append(path, template.ID)

	inclusions, err := r.Templates.FindTemplateInclusions(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	inclusions = activeInclusions(inclusions, at)
	if err := checkPriorities(template.ID, inclusions); err != nil {
		return nil, err
	}
	sort.Slice(inclusions, func(i, j int) bool { return inclusions[i].Priority < inclusions[j].Priority })

	var contributing []TemplateID
	for _, inc := range inclusions {
		included, err := r.Templates.FindTemplateByCode(ctx, template.OrgID, inc.IncludedCode, inc.VersionPin)
		if err != nil {
			return nil, err
		}

		// Each inclusion resolves into its own accumulator so the filter and
		// merge mode apply to the included template's final list, not to
		// intermediate state. Sibling branches get a copy of the visited set
		// so shared (diamond) ancestors don't falsely read as cycles.
		sub := newMergeAccumulator()
		subContributing, err := r.resolveInto(ctx, sub, included, at, copyVisited(visited), path, depth+1)
		if err != nil {
			return nil, err
		}

		for _, component := range sub.ordered() {
			if !inc.Admits(component.Code) {
				continue
			}
			if err := acc.merge(component, inc.MergeMode); err != nil {
				return nil, err
			}
		}
		contributing = appendContributing(contributing, subContributing...)
	}

	// Own components merge last and always win over anything inherited.
	own, err := r.Templates.GetTemplateComponents(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	for _, component := range own {
		if err := acc.merge(component, MergeModeOverride); err != nil {
			return nil, err
		}
	}
	return appendContributing(contributing, template.ID), nil
}

func activeInclusions(inclusions []TemplateInclusion, at TimePoint) []TemplateInclusion {
	var active []TemplateInclusion
	for _, inc := range inclusions {
		if inc.Effective.Contains(at) {
			active = append(active, inc)
		}
	}
	return active
}

func checkPriorities(parent TemplateID, inclusions []TemplateInclusion) error {
	seen := make(map[int]bool, len(inclusions))
	for _, inc := range inclusions {
		if seen[inc.Priority] {
			return fmt.Errorf("%w: template %s priority %d", ErrDuplicatePriority, parent, inc.Priority)
		}
		seen[inc.Priority] = true
	}
	return nil
}

func copyVisited(visited map[TemplateID]bool) map[TemplateID]bool {
	out := make(map[TemplateID]bool, len(visited))
	for id := range visited {
		out[id] = true
	}
	return out
}

func appendContributing(list []TemplateID, ids ...TemplateID) []TemplateID {
	for _, id := range ids {
		present := false
		for _, existing := range list {
			if existing == id {
				present = true
				break
			}
		}
		if !present {
			list = append(list, id)
		}
	}
	return list
}

// =============================================================================
// MERGE ACCUMULATOR - Ordered map from component code to component
// =============================================================================

type mergeAccumulator struct {
	order  []ComponentCode
	byCode map[ComponentCode]Component
}

func newMergeAccumulator() *mergeAccumulator {
	return &mergeAccumulator{byCode: make(map[ComponentCode]Component)}
}

func (a *mergeAccumulator) merge(component Component, mode MergeMode) error {
	existing, present := a.byCode[component.Code]
	if !present {
		a.order = append(a.order, component.Code)
		a.byCode[component.Code] = component
		return nil
	}

	switch mode {
	case MergeModeMerge:
		// First writer wins: keep the existing component.
		return nil
	case MergeModeOverride:
		a.byCode[component.Code] = component
		return nil
	case MergeModeAdditive:
		// Only defined for fixed-amount components; anything else is an
		// explicit error, never a guess.
		if existing.Calc.Type != CalcFixed || component.Calc.Type != CalcFixed {
			return fmt.Errorf("%w: additive merge of %s (%s + %s)",
				ErrUnsupportedMergeMode, component.Code, existing.Calc.Type, component.Calc.Type)
		}
		summed := existing
		summed.Calc = CalcConfig{
			Type:  CalcFixed,
			Fixed: &FixedCalc{Amount: existing.Calc.Fixed.Amount.Add(component.Calc.Fixed.Amount)},
		}
		a.byCode[component.Code] = summed
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMergeMode, mode)
	}
}

func (a *mergeAccumulator) ordered() []Component {
	out := make([]Component, 0, len(a.order))
	for _, code := range a.order {
		out = append(out, a.byCode[code])
	}
	return out
}

// sorted returns the merged set ordered by sequence, ties broken by code so
// the ordering is a stable total order.
func (a *mergeAccumulator) sorted() []Component {
	out := a.ordered()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SequenceOrder != out[j].SequenceOrder {
			return out[i].SequenceOrder < out[j].SequenceOrder
		}
		return out[i].Code < out[j].Code
	})
	return out
}
