// Package ownership maps changed bundle files to the context files whose
// ownership authorizes a change-type, and binds those contexts to their
// approver groups.
package ownership

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-set/v2"
	"github.com/ohler55/ojg/jp"
	"github.com/rs/zerolog/log"

	"github.com/changegate/internal/changetypes"
	"github.com/changegate/pkg/models"
)

// Querier answers the lookups context resolution needs from the bundle query
// service. Calls are synchronous and are not retried here; a failing query
// surfaces as an ordinary error at resolution time.
type Querier interface {
	// ResolveSelector answers a cross-system (bundle://) context selector,
	// parameterized by the changed file's path. It returns context file
	// paths which need not appear in the diffed content at all.
	ResolveSelector(ctx context.Context, selector, changedFilePath string) ([]string, error)
	// FileContent fetches the current content and schema of a bundle file.
	FileContent(ctx context.Context, path string) (content any, schema string, err error)
}

// Resolver resolves the context file refs owning a change. It is threaded
// through every call that needs it; its lifecycle belongs to the caller of
// the top-level gate run.
type Resolver struct {
	registry *changetypes.Registry
	querier  Querier
}

// NewResolver builds a resolver over one configuration snapshot.
func NewResolver(registry *changetypes.Registry, querier Querier) *Resolver {
	return &Resolver{registry: registry, querier: querier}
}

// FindContextFileRefs determines which context file(s) authorize the given
// change-type for one changed file: the changed file itself on a direct
// schema match, the files selected by the detectors' context selectors, or
// the answers of a cross-system selector query. Contexts resolved through
// hierarchical ownership expansion are appended; visited carries the already
// expanded file paths so a cyclic hierarchy truncates instead of recursing
// forever. A schema mismatch yields no context and no error.
func (r *Resolver) FindContextFileRefs(ctx context.Context, change *models.BundleFileChange, proc *changetypes.Processor, visited *set.Set[string]) ([]models.FileRef, error) {
	refs, err := r.resolveDirect(ctx, change, proc)
	if err != nil {
		return nil, err
	}

	expanded, err := r.expandOwnership(ctx, refs, proc, visited)
	if err != nil {
		return nil, err
	}
	return append(refs, expanded...), nil
}

func (r *Resolver) resolveDirect(ctx context.Context, change *models.BundleFileChange, proc *changetypes.Processor) ([]models.FileRef, error) {
	// Direct match: the changed file is its own context.
	if proc.ContextType() == change.FileRef.FileType && proc.ContextSchema() == change.FileRef.Schema {
		return []models.FileRef{change.FileRef}, nil
	}

	paths := set.New[string](0)
	for _, det := range proc.Detectors() {
		if det.Context == nil || !det.Matches(change.FileRef) {
			continue
		}
		switch det.Context.Scheme {
		case changetypes.SelectorSchemeContent:
			selectContextPaths(det.Context, change, paths)
		case changetypes.SelectorSchemeBundle:
			answers, err := r.querier.ResolveSelector(ctx, det.Context.Selector.String(), change.FileRef.Path)
			if err != nil {
				return nil, fmt.Errorf("cross-system selector for change type %q on %s: %w",
					proc.Name(), change.FileRef.Path, err)
			}
			paths.InsertSlice(answers)
		}
	}

	sorted := paths.Slice()
	sort.Strings(sorted)
	refs := make([]models.FileRef, 0, len(sorted))
	for _, p := range sorted {
		refs = append(refs, models.FileRef{
			FileType: proc.ContextType(),
			Path:     p,
			Schema:   proc.ContextSchema(),
		})
	}
	return refs, nil
}

// selectContextPaths evaluates an in-content selector against both sides of
// the change and applies the declared set difference: `added` keeps paths
// present only in the new content, `removed` only in the old, and an
// unconditional selector keeps the union of both sides.
func selectContextPaths(sel *changetypes.ContextSelector, change *models.BundleFileChange, into *set.Set[string]) {
	oldSet := selectStrings(sel.Selector, change.Old)
	newSet := selectStrings(sel.Selector, change.New)
	switch sel.When {
	case changetypes.WhenAdded:
		into.InsertSet(newSet.Difference(oldSet))
	case changetypes.WhenRemoved:
		into.InsertSet(oldSet.Difference(newSet))
	default:
		into.InsertSet(oldSet.Union(newSet))
	}
}

func selectStrings(expr jp.Expr, content any) *set.Set[string] {
	out := set.New[string](0)
	if content == nil {
		return out
	}
	for _, v := range expr.Get(content) {
		if s, ok := v.(string); ok {
			out.Insert(s)
		}
	}
	return out
}

// expandOwnership recursively resolves the change-types this processor names
// as additional sources of ownership (e.g. namespace -> app -> parent app).
func (r *Resolver) expandOwnership(ctx context.Context, refs []models.FileRef, proc *changetypes.Processor, visited *set.Set[string]) ([]models.FileRef, error) {
	if len(proc.OwnershipRefs()) == 0 {
		return nil, nil
	}

	var out []models.FileRef
	for _, ref := range refs {
		if visited.Contains(ref.Path) {
			// A cyclic ownership hierarchy truncates expansion here.
			log.Debug().Str("file", ref.Path).Msg("ownership expansion cycle truncated")
			continue
		}
		visited.Insert(ref.Path)

		content, schema, err := r.querier.FileContent(ctx, ref.Path)
		if err != nil {
			return nil, fmt.Errorf("ownership expansion of %s: %w", ref.Path, err)
		}
		pseudo := &models.BundleFileChange{
			FileRef: models.FileRef{FileType: ref.FileType, Path: ref.Path, Schema: schema},
			Old:     content,
			New:     content,
		}
		for _, name := range proc.OwnershipRefs() {
			parent, ok := r.registry.Get(name)
			if !ok {
				// Validated at registry build; reaching this is a bug.
				return nil, fmt.Errorf("%w: %q", changetypes.ErrUnknownChangeType, name)
			}
			more, err := r.FindContextFileRefs(ctx, pseudo, parent, visited)
			if err != nil {
				return nil, err
			}
			out = append(out, more...)
		}
	}
	return out, nil
}
