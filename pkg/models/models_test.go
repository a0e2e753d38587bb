package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubPolicy struct {
	name     string
	disabled bool
}

func (s *stubPolicy) Name() string            { return s.name }
func (s *stubPolicy) ContextType() FileType   { return FileTypeDatafile }
func (s *stubPolicy) ContextSchema() string   { return "" }
func (s *stubPolicy) Priority() Priority      { return PriorityHigh }
func (s *stubPolicy) Disabled() bool          { return s.disabled }
func (s *stubPolicy) Restrictive() bool       { return false }
func (s *stubPolicy) AllowedChangedPaths(FileRef, any, *ChangeTypeContext) ([]Path, error) {
	return nil, nil
}

func TestMetadataOnlyDiff(t *testing.T) {
	d := MetadataOnlyDiff("abc", "def")
	require.True(t, d.IsMetadataOnly())
	require.Equal(t, "$.sha256sum", d.Path.String())
	require.Equal(t, DiffKindChanged, d.Kind)

	require.False(t, Diff{Path: RootPath(), Kind: DiffKindChanged}.IsMetadataOnly())
	require.False(t, Diff{Path: RootPath().Child(ChecksumField), Kind: DiffKindAdded}.IsMetadataOnly())
}

func TestChangeTypeContextID(t *testing.T) {
	ctx := &ChangeTypeContext{
		ChangeType:  &stubPolicy{name: "role-membership"},
		Origin:      "role:app-sre",
		ContextFile: FileRef{FileType: FileTypeDatafile, Path: "/access/role-1.yml"},
	}
	require.Equal(t, "role-membership:role:app-sre:/access/role-1.yml", ctx.ID())
}

func TestChangeTypeContextHasApprover(t *testing.T) {
	ctx := &ChangeTypeContext{
		Approvers: []Approver{{Username: "alice"}, {Username: "bob"}},
	}
	require.True(t, ctx.HasApprover("alice"))
	require.False(t, ctx.HasApprover("carol"))
}

func TestDiffCoverageActiveCoverage_SkipsDisabled(t *testing.T) {
	enabled := &ChangeTypeContext{ChangeType: &stubPolicy{name: "on"}}
	disabled := &ChangeTypeContext{ChangeType: &stubPolicy{name: "off", disabled: true}}

	dc := NewDiffCoverage(Diff{Path: RootPath(), Kind: DiffKindChanged})
	dc.Coverage = []*ChangeTypeContext{disabled, enabled}

	active := dc.ActiveCoverage()
	require.Len(t, active, 1)
	require.Same(t, enabled, active[0])
}

func TestDiffCoverageIsCovered(t *testing.T) {
	enabled := &ChangeTypeContext{ChangeType: &stubPolicy{name: "on"}}
	disabled := &ChangeTypeContext{ChangeType: &stubPolicy{name: "off", disabled: true}}

	uncovered := NewDiffCoverage(Diff{Path: RootPath()})
	require.False(t, uncovered.IsCovered())

	onlyDisabled := NewDiffCoverage(Diff{Path: RootPath()})
	onlyDisabled.Coverage = []*ChangeTypeContext{disabled}
	require.False(t, onlyDisabled.IsCovered())

	direct := NewDiffCoverage(Diff{Path: RootPath()})
	direct.Coverage = []*ChangeTypeContext{enabled}
	require.True(t, direct.IsCovered())

	// A parent with no coverage of its own is covered when every split is.
	split := NewDiffCoverage(Diff{Path: RootPath()})
	covered := NewDiffCoverage(Diff{Path: RootPath().Child("a")})
	covered.Coverage = []*ChangeTypeContext{enabled}
	bare := NewDiffCoverage(Diff{Path: RootPath().Child("b")})

	split.Splits = []*DiffCoverage{covered, bare}
	require.False(t, split.IsCovered())

	bare.Coverage = []*ChangeTypeContext{enabled}
	require.True(t, split.IsCovered())
}

func TestBundleFileChangeLifecycle(t *testing.T) {
	creation := &BundleFileChange{New: map[string]any{}}
	require.True(t, creation.IsFileCreation())
	require.False(t, creation.IsFileDeletion())

	deletion := &BundleFileChange{Old: map[string]any{}}
	require.True(t, deletion.IsFileDeletion())
	require.False(t, deletion.IsFileCreation())

	update := &BundleFileChange{Old: map[string]any{}, New: map[string]any{}}
	require.False(t, update.IsFileCreation())
	require.False(t, update.IsFileDeletion())
}

func TestValidPriority(t *testing.T) {
	for _, p := range PrioritiesBySeverity {
		require.True(t, ValidPriority(p))
	}
	require.False(t, ValidPriority("p1"))
}
