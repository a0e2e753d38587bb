// Package coverage matches diffs against the paths a change-type context is
// allowed to touch, splitting diffs into finer-grained pieces when a context
// authorizes only part of a diff's subtree.
package coverage

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog/log"

	"github.com/changegate/pkg/models"
)

// CoverChanges matches every diff of the change against the context's
// allowed changed paths. Allowed paths are computed against both trees: the
// new tree covers added and changed values, the old tree covers removed
// values, which only exist there.
//
// A diff whose path sits at or below an allowed path gets the context as
// direct coverage. A diff whose path is a strict ancestor of an allowed path
// is split into one fragment per changed child; the authorized fragment gets
// direct coverage and the remaining fragments stay uncovered, so several
// change-types can jointly authorize disjoint edits to the same object but a
// single partial authorization never covers the rest. Calls for independent
// contexts compose; inserting a split below an existing split point descends
// and merges instead of duplicating.
func CoverChanges(ctx *models.ChangeTypeContext, change *models.BundleFileChange) error {
	allowed, err := allowedPaths(ctx, change)
	if err != nil {
		return fmt.Errorf("coverage for change type %q on %s: %w",
			ctx.ChangeType.Name(), change.FileRef.Path, err)
	}
	if len(allowed) == 0 {
		return nil
	}

	for _, dc := range change.Diffs {
		for _, path := range allowed {
			apply(dc, path, ctx)
		}
	}
	log.Debug().
		Str("file", change.FileRef.Path).
		Str("change_type", ctx.ChangeType.Name()).
		Int("allowed_paths", len(allowed)).
		Msg("matched diffs against change type context")
	return nil
}

func allowedPaths(ctx *models.ChangeTypeContext, change *models.BundleFileChange) ([]models.Path, error) {
	var allowed []models.Path
	seen := map[string]bool{}
	for _, content := range []any{change.New, change.Old} {
		paths, err := ctx.ChangeType.AllowedChangedPaths(change.FileRef, content, ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if key := p.String(); !seen[key] {
				seen[key] = true
				allowed = append(allowed, p)
			}
		}
	}
	return allowed, nil
}

func apply(dc *models.DiffCoverage, allowed models.Path, ctx *models.ChangeTypeContext) {
	switch {
	case dc.Diff.Path.HasPrefix(allowed):
		attach(dc, ctx)
	case dc.Diff.Path.IsStrictAncestorOf(allowed):
		insertSplit(dc, allowed, ctx)
	}
}

func attach(dc *models.DiffCoverage, ctx *models.ChangeTypeContext) {
	for _, existing := range dc.Coverage {
		if existing == ctx {
			return
		}
	}
	dc.Coverage = append(dc.Coverage, ctx)
}

// insertSplit attaches ctx to the split node addressing path, descending
// through existing splits to the correct nesting level. Each split level is
// materialized in full the first time it is needed: one node per changed
// child of the diff's subtree, not just the authorized one. The parent then
// only counts as covered once the fragments jointly account for the whole
// diff.
func insertSplit(dc *models.DiffCoverage, path models.Path, ctx *models.ChangeTypeContext) {
	expandSplits(dc)
	for _, split := range dc.Splits {
		switch {
		case path.Equal(split.Diff.Path):
			attach(split, ctx)
			return
		case split.Diff.Path.IsStrictAncestorOf(path):
			insertSplit(split, path, ctx)
			return
		}
	}
}

// expandSplits creates one split child per changed child of the diff's
// subtree. Children with equal values on both sides carry no change and get
// no node. A level already expanded, by this call chain or an earlier
// coverage pass, is left alone.
func expandSplits(dc *models.DiffCoverage) {
	if len(dc.Splits) > 0 {
		return
	}
	for _, tok := range childTokens(dc.Diff) {
		var child models.Path
		if tok.List {
			child = dc.Diff.Path.Elem(tok.Index)
		} else {
			child = dc.Diff.Path.Child(tok.Field)
		}
		dc.Splits = append(dc.Splits, newSplitNode(dc, child))
	}
}

// childTokens enumerates the immediate children of the diff's subtree on
// both sides, in deterministic order, skipping children whose old and new
// values are equal.
func childTokens(d *models.Diff) []models.PathToken {
	var tokens []models.PathToken
	seen := map[models.PathToken]bool{}
	add := func(tok models.PathToken) {
		if seen[tok] {
			return
		}
		seen[tok] = true
		oldVal, oldOK := models.Path{tok}.ValueAt(d.Old)
		newVal, newOK := models.Path{tok}.ValueAt(d.New)
		if oldOK && newOK && cmp.Equal(oldVal, newVal) {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, side := range []any{d.Old, d.New} {
		switch v := side.(type) {
		case map[string]any:
			fields := make([]string, 0, len(v))
			for field := range v {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			for _, field := range fields {
				add(models.PathToken{Field: field})
			}
		case []any:
			for i := range v {
				add(models.PathToken{Index: i, List: true})
			}
		}
	}
	return tokens
}

// newSplitNode derives the split child's diff from the parent diff by
// navigating the parent's old/new values along the relative path.
func newSplitNode(parent *models.DiffCoverage, path models.Path) *models.DiffCoverage {
	rel := path.RelativeTo(parent.Diff.Path)
	oldVal, oldOK := rel.ValueAt(parent.Diff.Old)
	newVal, newOK := rel.ValueAt(parent.Diff.New)
	if parent.Diff.Old == nil {
		oldOK = false
	}
	if parent.Diff.New == nil {
		newOK = false
	}

	kind := parent.Diff.Kind
	switch {
	case oldOK && newOK:
		kind = models.DiffKindChanged
	case newOK:
		kind = models.DiffKindAdded
	case oldOK:
		kind = models.DiffKindRemoved
	}

	diff := models.Diff{Path: path, Kind: kind}
	if oldOK {
		diff.Old = oldVal
	}
	if newOK {
		diff.New = newVal
	}
	return models.NewDiffCoverage(diff)
}
