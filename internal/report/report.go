// Package report renders the coverage/decision outcome of a gate run for the
// hosting collaborator: a per-diff table suitable for an MR comment or the
// console, the self-serviceable verdict and the label changes to apply.
package report

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/samber/lo"

	"github.com/changegate/internal/decision"
	"github.com/changegate/pkg/models"
)

// Labels managed by the gate.
const (
	SelfServiceableLabel = "self-serviceable"
	ApprovedLabel        = "approved"
	HoldLabel            = "do-not-merge/hold"
	PriorityLabelPrefix  = "priority/"
)

// Row is one rendered line of the report: one diff under one covering
// context, or an uncovered diff with empty context columns.
type Row struct {
	File         string
	Path         string
	ChangeType   string
	Context      string
	Approvers    []models.Approver
	OldRepr      string
	NewRepr      string
	ValueDiff    string
	MetadataOnly bool
	Covered      bool
	Disabled     bool
	Approved     bool
	Held         bool
}

// Report is the complete outcome of one gate evaluation.
type Report struct {
	Rows            []Row
	SelfServiceable bool
	Approved        bool
	Held            bool
	Priority        models.Priority
	HasPriority     bool
}

// Build assembles the report from the covered changes and their decisions.
func Build(changes []*models.BundleFileChange, decisions []*decision.ChangeDecision) *Report {
	r := &Report{
		SelfServiceable: decision.SelfServiceable(changes),
	}
	r.Priority, r.HasPriority = decision.OverallPriority(changes)

	fileNames := map[models.FileRef]string{}
	for _, change := range changes {
		name := change.FileRef.Path
		switch {
		case change.IsFileCreation():
			name += " (new file)"
		case change.IsFileDeletion():
			name += " (deleted)"
		}
		fileNames[change.FileRef] = name
	}

	approved := len(decisions) > 0
	for _, cd := range decisions {
		file := fileNames[cd.File]
		if file == "" {
			file = cd.File.Path
		}
		r.Rows = append(r.Rows, buildRows(cd, file)...)
		if !cd.IsApproved() {
			approved = false
		}
		if cd.IsHeld() {
			r.Held = true
		}
	}
	r.Approved = approved && r.SelfServiceable
	return r
}

func buildRows(cd *decision.ChangeDecision, file string) []Row {
	var rows []Row
	dc := cd.Coverage
	oldRepr, newRepr, valueDiff := valueColumns(dc.Diff)

	if len(dc.Coverage) == 0 && len(cd.Children) == 0 {
		rows = append(rows, Row{
			File:         file,
			Path:         dc.Diff.Path.String(),
			OldRepr:      oldRepr,
			NewRepr:      newRepr,
			ValueDiff:    valueDiff,
			MetadataOnly: dc.Diff.IsMetadataOnly(),
		})
	}

	for _, ctx := range dc.Coverage {
		id := ctx.ID()
		rows = append(rows, Row{
			File:         file,
			Path:         dc.Diff.Path.String(),
			ChangeType:   ctx.ChangeType.Name(),
			Context:      ctx.ContextFile.Path,
			Approvers:    ctx.Approvers,
			OldRepr:      oldRepr,
			NewRepr:      newRepr,
			ValueDiff:    valueDiff,
			MetadataOnly: dc.Diff.IsMetadataOnly(),
			Covered:      true,
			Disabled:     ctx.Disabled(),
			Approved:     cd.Approve[id] || cd.AutoApprove[id],
			Held:         cd.Hold[id],
		})
	}

	for _, child := range cd.Children {
		rows = append(rows, buildRows(child, file)...)
	}
	return rows
}

// Markdown renders the report as a merge request comment.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("## Change coverage\n\n")
	if r.SelfServiceable {
		b.WriteString("All changes are covered by change types and can be self-serviced.\n\n")
	} else {
		b.WriteString("Some changes are not covered by any change type and require a full review.\n\n")
	}
	if r.HasPriority {
		b.WriteString(fmt.Sprintf("Priority: `%s`\n\n", r.Priority))
	}

	b.WriteString("| File | Path | Change type | Context | Approvers | Status |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, row := range r.Rows {
		b.WriteString(fmt.Sprintf("| %s | `%s` | %s | %s | %s | %s |\n",
			row.File, row.Path, orDash(row.ChangeType), orDash(row.Context),
			orDash(approverList(row.Approvers)), status(row)))
	}

	seen := map[string]bool{}
	for _, row := range r.Rows {
		if row.ValueDiff == "" {
			continue
		}
		key := row.File + " " + row.Path
		if seen[key] {
			continue
		}
		seen[key] = true
		b.WriteString(fmt.Sprintf("\n<details><summary>%s <code>%s</code></summary>\n\n```diff\n%s```\n\n</details>\n",
			row.File, row.Path, row.ValueDiff))
	}
	return b.String()
}

// Table renders the report as a plain console table.
func (r *Report) Table() string {
	var b strings.Builder
	for _, row := range r.Rows {
		b.WriteString(fmt.Sprintf("%-40s %-30s %-25s %-10s\n",
			row.File, row.Path, orDash(row.ChangeType), status(row)))
		if row.ValueDiff != "" {
			b.WriteString(row.ValueDiff)
		}
	}
	b.WriteString(fmt.Sprintf("\nself-serviceable: %v  approved: %v  held: %v\n",
		r.SelfServiceable, r.Approved, r.Held))
	return b.String()
}

// Labels returns the conditional label changes for the merge request.
func (r *Report) Labels() (add, remove []string) {
	flag := func(label string, on bool) {
		if on {
			add = append(add, label)
		} else {
			remove = append(remove, label)
		}
	}
	flag(SelfServiceableLabel, r.SelfServiceable)
	flag(ApprovedLabel, r.Approved)
	flag(HoldLabel, r.Held)

	for _, p := range models.PrioritiesBySeverity {
		label := PriorityLabelPrefix + string(p)
		flag(label, r.HasPriority && p == r.Priority)
	}
	return add, remove
}

func status(row Row) string {
	switch {
	case !row.Covered && row.MetadataOnly:
		return "checksum only"
	case !row.Covered:
		return "not covered"
	case row.Disabled:
		return "disabled"
	case row.Held:
		return "held"
	case row.Approved:
		return "approved"
	default:
		return "awaiting approval"
	}
}

func approverList(approvers []models.Approver) string {
	names := lo.Map(approvers, func(a models.Approver, _ int) string {
		if a.TagOnMergeRequests {
			return "@" + a.Username
		}
		return a.Username
	})
	return strings.Join(names, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

const maxValueRepr = 120

// valueColumns renders the diff's value columns. A pair of multi-line string
// values, as carried by resource file contents, renders as a unified diff
// instead of a truncated structural repr.
func valueColumns(d *models.Diff) (oldRepr, newRepr, valueDiff string) {
	oldStr, oldIsStr := d.Old.(string)
	newStr, newIsStr := d.New.(string)
	if oldIsStr && newIsStr && (strings.Contains(oldStr, "\n") || strings.Contains(newStr, "\n")) {
		if ud, err := ValueDiff(oldStr, newStr); err == nil && ud != "" {
			return "(multi-line)", "(multi-line)", ud
		}
	}
	return valueRepr(d.Old), valueRepr(d.New), ""
}

// valueRepr renders a diff value compactly; long values are truncated.
func valueRepr(v any) string {
	if v == nil {
		return ""
	}
	repr := oj.JSON(v, &oj.Options{Sort: true})
	if len(repr) > maxValueRepr {
		repr = repr[:maxValueRepr] + "..."
	}
	return repr
}

// ValueDiff renders a unified diff between two multi-line string values, for
// resource file contents where a structural repr reads poorly.
func ValueDiff(old, new string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(new),
		FromFile: "old",
		ToFile:   "new",
		Context:  3,
	})
}
