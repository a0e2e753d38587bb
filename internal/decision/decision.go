package decision

import (
	"github.com/hashicorp/go-set/v2"
	"github.com/samber/lo"

	"github.com/changegate/pkg/models"
)

// FragmentsContext is the derived pseudo-context credited when a split
// diff's fragments are all individually approved.
const FragmentsContext = "fragments"

// ChangeDecision is the aggregated approval state for one diff. The flag
// maps are keyed by context identity, not by user: membership, not the
// individual, is the authorization unit. It is recomputed on every
// evaluation by replaying the comment stream; nothing mutates it
// incrementally.
type ChangeDecision struct {
	File     models.FileRef
	Coverage *models.DiffCoverage

	Approve     map[string]bool
	Hold        map[string]bool
	AutoApprove map[string]bool

	contextIDs []string
	Children   []*ChangeDecision
}

// IsApproved reports the final approval verdict for the diff: any explicit
// context approval, or auto-approval by every covering context (of which
// there must be at least one).
func (cd *ChangeDecision) IsApproved() bool {
	for _, approved := range cd.Approve {
		if approved {
			return true
		}
	}
	if len(cd.contextIDs) == 0 {
		return false
	}
	for _, id := range cd.contextIDs {
		if !cd.AutoApprove[id] {
			return false
		}
	}
	return true
}

// IsHeld reports whether any covering context, or any fragment, holds the
// diff.
func (cd *ChangeDecision) IsHeld() bool {
	for _, held := range cd.Hold {
		if held {
			return true
		}
	}
	for _, child := range cd.Children {
		if child.IsHeld() {
			return true
		}
	}
	return false
}

// ApplyDecisionsToChanges replays the parsed decisions over every diff of
// every change. A command toggles the flag for each covering context whose
// approver set contains its author; disabled change-types are skipped. A
// context auto-approves when its sole approver is the designated bot and
// that bot issued no hold. A split diff additionally gains the fragments
// pseudo-approval when every fragment ends up approved and not held.
func ApplyDecisionsToChanges(changes []*models.BundleFileChange, decisions []models.Decision, botUsername string) []*ChangeDecision {
	var out []*ChangeDecision
	for _, change := range changes {
		for _, dc := range change.Diffs {
			out = append(out, decide(change.FileRef, dc, decisions, botUsername))
		}
	}
	return out
}

func decide(file models.FileRef, dc *models.DiffCoverage, decisions []models.Decision, botUsername string) *ChangeDecision {
	cd := &ChangeDecision{
		File:        file,
		Coverage:    dc,
		Approve:     map[string]bool{},
		Hold:        map[string]bool{},
		AutoApprove: map[string]bool{},
	}

	for _, ctx := range dc.ActiveCoverage() {
		id := ctx.ID()
		cd.contextIDs = append(cd.contextIDs, id)
		for _, d := range decisions {
			if !ctx.HasApprover(d.Approver) {
				continue
			}
			switch d.Command {
			case models.CommandApprove:
				cd.Approve[id] = true
			case models.CommandCancelApprove:
				cd.Approve[id] = false
			case models.CommandHold:
				cd.Hold[id] = true
			case models.CommandCancelHold:
				cd.Hold[id] = false
			}
		}
		if len(ctx.Approvers) == 1 && ctx.Approvers[0].Username == botUsername && !cd.Hold[id] {
			cd.AutoApprove[id] = true
		}
	}

	for _, split := range dc.Splits {
		cd.Children = append(cd.Children, decide(file, split, decisions, botUsername))
	}
	if len(cd.Children) > 0 {
		fragmentsApproved := lo.EveryBy(cd.Children, func(child *ChangeDecision) bool {
			return child.IsApproved() && !child.IsHeld()
		})
		if fragmentsApproved {
			cd.Approve[FragmentsContext] = true
		}
	}
	return cd
}

// OverallPriority selects the merge-request-wide priority: the least severe
// priority present among the change-type processors involved in covering any
// change. The second return value is false when nothing is covered.
func OverallPriority(changes []*models.BundleFileChange) (models.Priority, bool) {
	present := set.New[models.Priority](0)
	for _, change := range changes {
		for _, dc := range change.Diffs {
			collectPriorities(dc, present)
		}
	}
	for _, p := range models.PrioritiesBySeverity {
		if present.Contains(p) {
			return p, true
		}
	}
	return "", false
}

func collectPriorities(dc *models.DiffCoverage, into *set.Set[models.Priority]) {
	for _, ctx := range dc.ActiveCoverage() {
		into.Insert(ctx.ChangeType.Priority())
	}
	for _, split := range dc.Splits {
		collectPriorities(split, into)
	}
}

// Admitted reports whether a change is admitted for the allowed-approver
// set: every distinct restrictive change-type covering some diff must have
// at least one of its approvers in the set. Non-restrictive change-types do
// not block admission. This gate backs good-to-test escalation, where the
// set holds the requesting actor plus the designated good-to-test approvers.
func Admitted(changes []*models.BundleFileChange, allowedApprovers *set.Set[string]) bool {
	restrictive := map[string]*set.Set[string]{}
	for _, change := range changes {
		for _, dc := range change.Diffs {
			collectRestrictive(dc, restrictive)
		}
	}
	for _, approvers := range restrictive {
		if approvers.Intersect(allowedApprovers).Empty() {
			return false
		}
	}
	return true
}

func collectRestrictive(dc *models.DiffCoverage, into map[string]*set.Set[string]) {
	for _, ctx := range dc.ActiveCoverage() {
		if !ctx.ChangeType.Restrictive() {
			continue
		}
		name := ctx.ChangeType.Name()
		if into[name] == nil {
			into[name] = set.New[string](len(ctx.Approvers))
		}
		for _, a := range ctx.Approvers {
			into[name].Insert(a.Username)
		}
	}
	for _, split := range dc.Splits {
		collectRestrictive(split, into)
	}
}

// SelfServiceable reports whether every diff of every change is covered.
func SelfServiceable(changes []*models.BundleFileChange) bool {
	if len(changes) == 0 {
		return false
	}
	for _, change := range changes {
		if len(change.Diffs) == 0 {
			// Metadata-only changes carry no coverable diff.
			return false
		}
		for _, dc := range change.Diffs {
			if !dc.IsCovered() {
				return false
			}
		}
	}
	return true
}
