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

// BuildContexts resolves, for one changed file, every change-type context
// that could authorize part of it: one context per (change-type, context
// file, role binding), plus contexts carried by implicit ownership selectors.
// Contexts with an empty approver set are dropped; nobody could ever approve
// through them.
func (r *Resolver) BuildContexts(ctx context.Context, change *models.BundleFileChange, store *ApproverStore) ([]*models.ChangeTypeContext, error) {
	var contexts []*models.ChangeTypeContext
	for _, proc := range r.registry.Processors() {
		refs, err := r.FindContextFileRefs(ctx, change, proc, set.New[string](0))
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			bound, err := r.bindContexts(ctx, change, proc, ref, store)
			if err != nil {
				return nil, err
			}
			contexts = append(contexts, bound...)
		}
	}
	log.Debug().
		Str("file", change.FileRef.Path).
		Int("contexts", len(contexts)).
		Msg("resolved change type contexts")
	return contexts, nil
}

func (r *Resolver) bindContexts(ctx context.Context, change *models.BundleFileChange, proc *changetypes.Processor, ref models.FileRef, store *ApproverStore) ([]*models.ChangeTypeContext, error) {
	var contexts []*models.ChangeTypeContext

	for _, binding := range store.BindingsFor(proc.Name(), ref.Path) {
		if len(binding.Approvers) == 0 {
			continue
		}
		contexts = append(contexts, &models.ChangeTypeContext{
			ChangeType:  proc,
			Origin:      fmt.Sprintf("role:%s", binding.Origin),
			ContextFile: ref,
			Approvers:   binding.Approvers,
		})
	}

	implicit, err := r.implicitApprovers(ctx, change, proc, ref)
	if err != nil {
		return nil, err
	}
	for _, binding := range implicit {
		if len(binding.Approvers) == 0 {
			continue
		}
		contexts = append(contexts, &models.ChangeTypeContext{
			ChangeType:  proc,
			Origin:      fmt.Sprintf("implicit:%s", binding.Selector),
			ContextFile: ref,
			Approvers:   binding.Approvers,
		})
	}
	return contexts, nil
}

// implicitBinding is one implicit-ownership selector with the approvers it
// yielded from the context file content.
type implicitBinding struct {
	Selector  string
	Approvers []models.Approver
}

// implicitApprovers evaluates the processor's implicit-ownership selectors
// against the context file content, yielding approver usernames per selector.
func (r *Resolver) implicitApprovers(ctx context.Context, change *models.BundleFileChange, proc *changetypes.Processor, ref models.FileRef) ([]implicitBinding, error) {
	if len(proc.ImplicitOwnership()) == 0 {
		return nil, nil
	}

	content, err := r.contextContent(ctx, change, ref)
	if err != nil {
		return nil, fmt.Errorf("implicit ownership of %s: %w", ref.Path, err)
	}
	if content == nil {
		return nil, nil
	}

	var out []implicitBinding
	for _, io := range proc.ImplicitOwnership() {
		expr, err := jp.ParseString(io.Selector)
		if err != nil {
			// Selector syntax is validated at registry build.
			return nil, fmt.Errorf("%w: %q", changetypes.ErrInvalidPathExpression, io.Selector)
		}
		binding := implicitBinding{Selector: io.Selector}
		sorted := selectStrings(expr, content).Slice()
		sort.Strings(sorted)
		for _, username := range sorted {
			binding.Approvers = append(binding.Approvers, models.Approver{Username: username})
		}
		out = append(out, binding)
	}
	return out, nil
}

func (r *Resolver) contextContent(ctx context.Context, change *models.BundleFileChange, ref models.FileRef) (any, error) {
	if ref == change.FileRef {
		// A deleted file only has its old content to read ownership from.
		if change.IsFileDeletion() {
			return change.Old, nil
		}
		return change.New, nil
	}
	content, _, err := r.querier.FileContent(ctx, ref.Path)
	return content, err
}
