package bundlediff

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
)

// IdentifierField is the designated field that marks a sequence element as an
// identified logical item. Two elements carrying equal identifiers are the
// same item regardless of their position in the sequence.
const IdentifierField = "__identifier"

// RefField marks single-key reference objects; the reference target is the
// element's identity.
const RefField = "$ref"

// identity is the result of the identity predicate for one sequence element.
// An explicit result (instead of a thrown "cannot compare" signal) lets the
// matcher branch on it directly.
type identity struct {
	identified bool
	id         string
}

// identify applies the identity predicate: an element is identified if it
// carries the designated identifier field, or if it is a single-key reference
// object. Everything else is unidentified and falls back to similarity
// matching.
func identify(elem any) identity {
	m, ok := elem.(map[string]any)
	if !ok {
		return identity{}
	}
	if id, ok := m[IdentifierField]; ok {
		return identity{identified: true, id: fmt.Sprintf("%v", id)}
	}
	if len(m) == 1 {
		if ref, ok := m[RefField]; ok {
			return identity{identified: true, id: fmt.Sprintf("%v", ref)}
		}
	}
	return identity{}
}

type elementMatch struct {
	oldIndex int
	newIndex int
}

// matchElements pairs up the elements of two sequences order-insensitively.
// Identified elements match iff their identifiers are equal; an identified
// element never matches an unidentified one. Unidentified elements are paired
// by a deterministic attribute-overlap heuristic. Unmatched old elements are
// reported as removed, unmatched new elements as added.
func matchElements(old, new []any) (matches []elementMatch, removed, added []int) {
	oldIDs := make([]identity, len(old))
	for i, e := range old {
		oldIDs[i] = identify(e)
	}
	newIDs := make([]identity, len(new))
	for i, e := range new {
		newIDs[i] = identify(e)
	}

	newByID := map[string]int{}
	for i, id := range newIDs {
		if id.identified {
			newByID[id.id] = i
		}
	}

	usedNew := make([]bool, len(new))
	var looseOld []int
	for i, id := range oldIDs {
		if !id.identified {
			looseOld = append(looseOld, i)
			continue
		}
		if j, ok := newByID[id.id]; ok && !usedNew[j] {
			matches = append(matches, elementMatch{oldIndex: i, newIndex: j})
			usedNew[j] = true
		} else {
			removed = append(removed, i)
		}
	}

	var looseNew []int
	for i, id := range newIDs {
		if !id.identified && !usedNew[i] {
			looseNew = append(looseNew, i)
		}
	}

	heuristic, removedLoose, addedLoose := matchBySimilarity(old, new, looseOld, looseNew)
	matches = append(matches, heuristic...)
	removed = append(removed, removedLoose...)
	added = append(added, addedLoose...)

	for i, id := range newIDs {
		if id.identified && !usedNew[i] {
			added = append(added, i)
		}
	}
	sort.Ints(removed)
	sort.Ints(added)
	return matches, removed, added
}

// matchBySimilarity pairs unidentified elements by attribute overlap: for
// every candidate pair a score in [0,1] is computed and pairs are taken
// greedily from the highest score down, with index order breaking ties so the
// outcome is deterministic. Pairs scoring zero stay unmatched.
func matchBySimilarity(old, new []any, oldIdx, newIdx []int) (matches []elementMatch, removed, added []int) {
	type candidate struct {
		score    float64
		oldIndex int
		newIndex int
	}
	var candidates []candidate
	for _, i := range oldIdx {
		for _, j := range newIdx {
			if s := similarity(old[i], new[j]); s > 0 {
				candidates = append(candidates, candidate{score: s, oldIndex: i, newIndex: j})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		if candidates[a].oldIndex != candidates[b].oldIndex {
			return candidates[a].oldIndex < candidates[b].oldIndex
		}
		return candidates[a].newIndex < candidates[b].newIndex
	})

	usedOld := map[int]bool{}
	usedNew := map[int]bool{}
	for _, c := range candidates {
		if usedOld[c.oldIndex] || usedNew[c.newIndex] {
			continue
		}
		usedOld[c.oldIndex] = true
		usedNew[c.newIndex] = true
		matches = append(matches, elementMatch{oldIndex: c.oldIndex, newIndex: c.newIndex})
	}
	for _, i := range oldIdx {
		if !usedOld[i] {
			removed = append(removed, i)
		}
	}
	for _, j := range newIdx {
		if !usedNew[j] {
			added = append(added, j)
		}
	}
	return matches, removed, added
}

// similarity scores how alike two unidentified elements are. Deep-equal
// values score 1. Mappings score by the fraction of keys whose values agree.
// Differing scalars of the same kind score a small residual so a lone changed
// scalar pairs up instead of appearing as remove+add.
func similarity(a, b any) float64 {
	if cmp.Equal(a, b) {
		return 1
	}
	am, aOK := a.(map[string]any)
	bm, bOK := b.(map[string]any)
	if aOK && bOK {
		if len(am) == 0 && len(bm) == 0 {
			return 1
		}
		equal := 0
		union := len(bm)
		for k, av := range am {
			bv, ok := bm[k]
			if !ok {
				union++
				continue
			}
			if cmp.Equal(av, bv) {
				equal++
			}
		}
		return float64(equal) / float64(union)
	}
	if aOK != bOK {
		return 0
	}
	if fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b) {
		return 0.1
	}
	return 0
}
