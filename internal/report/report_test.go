package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/changegate/internal/decision"
	"github.com/changegate/pkg/models"
)

type reportPolicy struct {
	name     string
	priority models.Priority
	disabled bool
}

func (p *reportPolicy) Name() string                 { return p.name }
func (p *reportPolicy) ContextType() models.FileType { return models.FileTypeDatafile }
func (p *reportPolicy) ContextSchema() string        { return "" }
func (p *reportPolicy) Priority() models.Priority    { return p.priority }
func (p *reportPolicy) Disabled() bool               { return p.disabled }
func (p *reportPolicy) Restrictive() bool            { return false }
func (p *reportPolicy) AllowedChangedPaths(models.FileRef, any, *models.ChangeTypeContext) ([]models.Path, error) {
	return nil, nil
}

func coveredFixture(approver string) ([]*models.BundleFileChange, []*decision.ChangeDecision, *models.ChangeTypeContext) {
	ctx := &models.ChangeTypeContext{
		ChangeType:  &reportPolicy{name: "saas-promote", priority: models.PriorityMedium},
		Origin:      "role:app-sre",
		ContextFile: models.FileRef{Path: "/services/app/deploy.yml"},
		Approvers:   []models.Approver{{Username: approver, TagOnMergeRequests: true}},
	}
	dc := models.NewDiffCoverage(models.Diff{
		Path: models.RootPath().Child("ref"),
		Kind: models.DiffKindChanged,
		Old:  "abc",
		New:  "def",
	})
	dc.Coverage = []*models.ChangeTypeContext{ctx}
	changes := []*models.BundleFileChange{{
		FileRef: models.FileRef{FileType: models.FileTypeDatafile, Path: "/services/app/deploy.yml"},
		Diffs:   []*models.DiffCoverage{dc},
	}}
	return changes, nil, ctx
}

func TestBuild_ApprovedRun(t *testing.T) {
	changes, _, _ := coveredFixture("alice")
	decisions := decision.ApplyDecisionsToChanges(changes, []models.Decision{
		{Approver: "alice", Command: models.CommandApprove},
	}, "change-owners-bot")

	r := Build(changes, decisions)
	require.True(t, r.SelfServiceable)
	require.True(t, r.Approved)
	require.False(t, r.Held)
	require.True(t, r.HasPriority)
	require.Equal(t, models.PriorityMedium, r.Priority)

	require.Len(t, r.Rows, 1)
	row := r.Rows[0]
	require.True(t, row.Covered)
	require.True(t, row.Approved)
	require.Equal(t, "saas-promote", row.ChangeType)
	require.Equal(t, "approved", status(row))
}

func TestBuild_AwaitingApproval(t *testing.T) {
	changes, _, _ := coveredFixture("alice")
	decisions := decision.ApplyDecisionsToChanges(changes, nil, "change-owners-bot")

	r := Build(changes, decisions)
	require.True(t, r.SelfServiceable)
	require.False(t, r.Approved)
	require.Equal(t, "awaiting approval", status(r.Rows[0]))
}

func TestBuild_UncoveredDiff(t *testing.T) {
	changes := []*models.BundleFileChange{{
		FileRef: models.FileRef{Path: "/f.yml"},
		Diffs: []*models.DiffCoverage{models.NewDiffCoverage(models.Diff{
			Path: models.RootPath().Child("x"),
			Kind: models.DiffKindAdded,
			New:  1,
		})},
	}}
	decisions := decision.ApplyDecisionsToChanges(changes, nil, "change-owners-bot")

	r := Build(changes, decisions)
	require.False(t, r.SelfServiceable)
	require.False(t, r.Approved)
	require.Equal(t, "not covered", status(r.Rows[0]))
}

func TestBuild_HeldRun(t *testing.T) {
	changes, _, _ := coveredFixture("alice")
	decisions := decision.ApplyDecisionsToChanges(changes, []models.Decision{
		{Approver: "alice", Command: models.CommandApprove},
		{Approver: "alice", Command: models.CommandHold},
	}, "change-owners-bot")

	r := Build(changes, decisions)
	require.True(t, r.Held)
	require.Equal(t, "held", status(r.Rows[0]))
}

func TestLabels(t *testing.T) {
	changes, _, _ := coveredFixture("alice")
	decisions := decision.ApplyDecisionsToChanges(changes, []models.Decision{
		{Approver: "alice", Command: models.CommandApprove},
	}, "change-owners-bot")
	r := Build(changes, decisions)

	add, remove := r.Labels()
	require.Contains(t, add, SelfServiceableLabel)
	require.Contains(t, add, ApprovedLabel)
	require.Contains(t, add, PriorityLabelPrefix+"medium")
	require.Contains(t, remove, HoldLabel)
	require.Contains(t, remove, PriorityLabelPrefix+"critical")
	require.NotContains(t, remove, PriorityLabelPrefix+"medium")
}

func TestMarkdownRendersRows(t *testing.T) {
	changes, _, _ := coveredFixture("alice")
	decisions := decision.ApplyDecisionsToChanges(changes, nil, "change-owners-bot")
	r := Build(changes, decisions)

	md := r.Markdown()
	require.Contains(t, md, "| /services/app/deploy.yml | `$.ref` |")
	require.Contains(t, md, "saas-promote")
	require.Contains(t, md, "@alice")
	require.Contains(t, md, "`medium`")
}

func TestBuild_MetadataOnlyChange(t *testing.T) {
	changes := []*models.BundleFileChange{{
		FileRef: models.FileRef{FileType: models.FileTypeResourcefile, Path: "/resources/deploy.yml"},
		Old:     map[string]any{"path": "/old/deploy.yml"},
		New:     map[string]any{"path": "/resources/deploy.yml"},
		Diffs: []*models.DiffCoverage{models.NewDiffCoverage(
			models.MetadataOnlyDiff("abc", "def"),
		)},
	}}
	decisions := decision.ApplyDecisionsToChanges(changes, nil, "change-owners-bot")

	r := Build(changes, decisions)
	require.Len(t, r.Rows, 1)
	require.True(t, r.Rows[0].MetadataOnly)
	require.Equal(t, "checksum only", status(r.Rows[0]))
}

func TestBuild_AnnotatesCreatedAndDeletedFiles(t *testing.T) {
	changes := []*models.BundleFileChange{
		{
			FileRef: models.FileRef{Path: "/new.yml"},
			New:     map[string]any{"name": "n"},
			Diffs: []*models.DiffCoverage{models.NewDiffCoverage(models.Diff{
				Path: models.RootPath(),
				Kind: models.DiffKindAdded,
				New:  map[string]any{"name": "n"},
			})},
		},
		{
			FileRef: models.FileRef{Path: "/gone.yml"},
			Old:     map[string]any{"name": "g"},
			Diffs: []*models.DiffCoverage{models.NewDiffCoverage(models.Diff{
				Path: models.RootPath(),
				Kind: models.DiffKindRemoved,
				Old:  map[string]any{"name": "g"},
			})},
		},
	}
	decisions := decision.ApplyDecisionsToChanges(changes, nil, "change-owners-bot")

	r := Build(changes, decisions)
	require.Len(t, r.Rows, 2)
	require.Equal(t, "/new.yml (new file)", r.Rows[0].File)
	require.Equal(t, "/gone.yml (deleted)", r.Rows[1].File)
}

func TestMarkdownRendersMultilineValueDiff(t *testing.T) {
	ctx := &models.ChangeTypeContext{
		ChangeType:  &reportPolicy{name: "resource-update", priority: models.PriorityMedium},
		Origin:      "role:app-sre",
		ContextFile: models.FileRef{Path: "/services/app/app.yml"},
		Approvers:   []models.Approver{{Username: "alice"}},
	}
	dc := models.NewDiffCoverage(models.Diff{
		Path: models.RootPath().Child("content"),
		Kind: models.DiffKindChanged,
		Old:  "replicas: 2\nimage: v1\n",
		New:  "replicas: 3\nimage: v1\n",
	})
	dc.Coverage = []*models.ChangeTypeContext{ctx}
	changes := []*models.BundleFileChange{{
		FileRef: models.FileRef{FileType: models.FileTypeResourcefile, Path: "/resources/deploy.yml"},
		Old:     map[string]any{},
		New:     map[string]any{},
		Diffs:   []*models.DiffCoverage{dc},
	}}
	decisions := decision.ApplyDecisionsToChanges(changes, nil, "change-owners-bot")

	r := Build(changes, decisions)
	require.Len(t, r.Rows, 1)
	require.Equal(t, "(multi-line)", r.Rows[0].OldRepr)
	require.NotEmpty(t, r.Rows[0].ValueDiff)

	md := r.Markdown()
	require.Contains(t, md, "```diff")
	require.Contains(t, md, "-replicas: 2")
	require.Contains(t, md, "+replicas: 3")

	table := r.Table()
	require.Contains(t, table, "-replicas: 2")
}

func TestValueRepr_Truncation(t *testing.T) {
	require.Equal(t, "", valueRepr(nil))
	require.Equal(t, `"abc"`, valueRepr("abc"))
	long := valueRepr(strings.Repeat("x", 500))
	require.True(t, strings.HasSuffix(long, "..."))
	require.LessOrEqual(t, len(long), maxValueRepr+len(`..."`))
}

func TestValueDiff(t *testing.T) {
	out, err := ValueDiff("a\nb\nc\n", "a\nB\nc\n")
	require.NoError(t, err)
	require.Contains(t, out, "-b")
	require.Contains(t, out, "+B")
}
