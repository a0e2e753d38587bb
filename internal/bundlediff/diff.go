// Package bundlediff computes structural diffs between the old and new
// content trees of configuration bundle files. Sequences are compared
// order-insensitively using an identity predicate, so reordering a list of
// identified objects produces no diffs.
package bundlediff

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"

	"github.com/changegate/pkg/models"
)

// DiffTrees compares two content trees and returns the ordered list of
// localized changes between them. Both trees are nested structures of
// map[string]any, []any and scalar values. A nil old tree yields a single
// root Added diff, a nil new tree a single root Removed diff, and two
// deep-equal trees yield no diffs at all.
func DiffTrees(old, new any) []models.Diff {
	switch {
	case old == nil && new == nil:
		return nil
	case old == nil:
		return []models.Diff{{Path: models.RootPath(), Kind: models.DiffKindAdded, New: new}}
	case new == nil:
		return []models.Diff{{Path: models.RootPath(), Kind: models.DiffKindRemoved, Old: old}}
	}
	return diffValues(models.RootPath(), old, new)
}

func diffValues(path models.Path, old, new any) []models.Diff {
	oldMap, oldIsMap := old.(map[string]any)
	newMap, newIsMap := new.(map[string]any)
	if oldIsMap && newIsMap {
		return diffMaps(path, oldMap, newMap)
	}

	oldSeq, oldIsSeq := old.([]any)
	newSeq, newIsSeq := new.([]any)
	if oldIsSeq && newIsSeq {
		return diffSequences(path, oldSeq, newSeq)
	}

	if cmp.Equal(old, new) {
		return nil
	}
	return []models.Diff{{Path: path, Kind: models.DiffKindChanged, Old: old, New: new}}
}

func diffMaps(path models.Path, old, new map[string]any) []models.Diff {
	var diffs []models.Diff
	for _, key := range sortedKeys(old) {
		oldVal := old[key]
		newVal, ok := new[key]
		if !ok {
			diffs = append(diffs, models.Diff{
				Path: path.Child(key),
				Kind: models.DiffKindRemoved,
				Old:  oldVal,
			})
			continue
		}
		diffs = append(diffs, diffValues(path.Child(key), oldVal, newVal)...)
	}
	for _, key := range sortedKeys(new) {
		if _, ok := old[key]; !ok {
			diffs = append(diffs, models.Diff{
				Path: path.Child(key),
				Kind: models.DiffKindAdded,
				New:  new[key],
			})
		}
	}
	return diffs
}

func diffSequences(path models.Path, old, new []any) []models.Diff {
	var diffs []models.Diff
	matches, removed, added := matchElements(old, new)

	for _, m := range matches {
		diffs = append(diffs, diffValues(path.Elem(m.newIndex), old[m.oldIndex], new[m.newIndex])...)
	}
	for _, i := range removed {
		diffs = append(diffs, models.Diff{
			Path: path.Elem(i),
			Kind: models.DiffKindRemoved,
			Old:  old[i],
		})
	}
	for _, i := range added {
		diffs = append(diffs, models.Diff{
			Path: path.Elem(i),
			Kind: models.DiffKindAdded,
			New:  new[i],
		})
	}
	return diffs
}

func sortedKeys(m map[string]any) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
