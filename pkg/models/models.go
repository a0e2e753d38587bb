package models

import (
	"fmt"
	"time"
)

// File identity

// FileType distinguishes the two kinds of files a configuration bundle holds.
type FileType string

const (
	FileTypeDatafile     FileType = "datafile"
	FileTypeResourcefile FileType = "resourcefile"
)

// FileRef identifies one file inside the configuration bundle. It is an
// immutable value type and is used as a map key.
type FileRef struct {
	FileType FileType `json:"file_type"`
	Path     string   `json:"path"`
	Schema   string   `json:"schema,omitempty"`
}

func (f FileRef) String() string {
	return fmt.Sprintf("%s:%s", f.FileType, f.Path)
}

// Diff model

// DiffKind classifies one localized change inside a file's content tree.
type DiffKind string

const (
	DiffKindAdded   DiffKind = "added"
	DiffKindRemoved DiffKind = "removed"
	DiffKindChanged DiffKind = "changed"
)

// ChecksumField is the resource-file envelope field carrying the content
// checksum. A diff on it alone means the file moved without a semantic change.
const ChecksumField = "sha256sum"

// Diff is one localized change inside a file's old/new content trees.
type Diff struct {
	Path Path     `json:"path"`
	Kind DiffKind `json:"kind"`
	Old  any      `json:"old,omitempty"`
	New  any      `json:"new,omitempty"`
}

// MetadataOnlyDiff is the sentinel diff emitted when a file's checksum changed
// but no semantic diff exists (e.g. a pure rename).
func MetadataOnlyDiff(oldSum, newSum any) Diff {
	return Diff{
		Path: RootPath().Child(ChecksumField),
		Kind: DiffKindChanged,
		Old:  oldSum,
		New:  newSum,
	}
}

// IsMetadataOnly reports whether the diff is the checksum sentinel.
func (d Diff) IsMetadataOnly() bool {
	return d.Kind == DiffKindChanged && len(d.Path) == 1 &&
		d.Path[0] == PathToken{Field: ChecksumField}
}

// Approval model

// Approver is one member of a context's approver group.
type Approver struct {
	Username           string `json:"org_username"`
	TagOnMergeRequests bool   `json:"tag_on_merge_requests"`
}

// Priority orders change-types by operational severity. The merge request as
// a whole is labeled with the least severe priority present in its coverage.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// PrioritiesBySeverity lists every priority from least to most severe.
var PrioritiesBySeverity = []Priority{
	PriorityLow,
	PriorityMedium,
	PriorityHigh,
	PriorityUrgent,
	PriorityCritical,
}

// ValidPriority reports whether p names a known priority.
func ValidPriority(p Priority) bool {
	for _, known := range PrioritiesBySeverity {
		if p == known {
			return true
		}
	}
	return false
}

// ChangeTypePolicy is the read-only view of a resolved change-type processor
// that contexts, coverage and decision folding need. The concrete processor
// lives in the changetypes package.
type ChangeTypePolicy interface {
	Name() string
	ContextType() FileType
	ContextSchema() string
	Priority() Priority
	Disabled() bool
	Restrictive() bool
	// AllowedChangedPaths returns the concrete paths inside content matched
	// by this change-type's path expressions for the given file, resolving
	// templated selectors against the bound context first.
	AllowedChangedPaths(file FileRef, content any, ctx *ChangeTypeContext) ([]Path, error)
}

// ChangeTypeContext binds a change-type to a concrete usage: the context file
// whose ownership authorizes the change, and the approvers that ownership
// carries. Contexts are ephemeral, created during coverage matching.
type ChangeTypeContext struct {
	ChangeType  ChangeTypePolicy `json:"-"`
	Origin      string           `json:"origin"`
	ContextFile FileRef          `json:"context_file"`
	Approvers   []Approver       `json:"approvers"`
}

// ID returns the context identity used to key decision state. Approval is
// granted to the context, not to an individual, so the identity is the
// change-type bound to its context file.
func (c *ChangeTypeContext) ID() string {
	return fmt.Sprintf("%s:%s:%s", c.ChangeType.Name(), c.Origin, c.ContextFile.Path)
}

// Disabled reports whether the underlying change-type is disabled.
func (c *ChangeTypeContext) Disabled() bool {
	return c.ChangeType.Disabled()
}

// HasApprover reports whether username belongs to the context's approver set.
func (c *ChangeTypeContext) HasApprover(username string) bool {
	for _, a := range c.Approvers {
		if a.Username == username {
			return true
		}
	}
	return false
}

// Coverage model

// DiffCoverage wraps a Diff with the contexts that cover it and, when a
// change-type authorizes only part of the diff's subtree, an ordered list of
// finer-grained split children covering disjoint sub-paths.
type DiffCoverage struct {
	Diff     *Diff                `json:"diff"`
	Coverage []*ChangeTypeContext `json:"coverage,omitempty"`
	Splits   []*DiffCoverage      `json:"splits,omitempty"`
}

// NewDiffCoverage wraps a raw diff with empty coverage.
func NewDiffCoverage(d Diff) *DiffCoverage {
	diff := d
	return &DiffCoverage{Diff: &diff}
}

// ActiveCoverage returns the covering contexts whose change-type is enabled.
func (dc *DiffCoverage) ActiveCoverage() []*ChangeTypeContext {
	var active []*ChangeTypeContext
	for _, ctx := range dc.Coverage {
		if !ctx.Disabled() {
			active = append(active, ctx)
		}
	}
	return active
}

// IsCovered reports whether the diff is authorized: either at least one
// enabled context covers it directly, or every split child is recursively
// covered. A parent needs no coverage of its own when its fragments jointly
// account for the whole diff.
func (dc *DiffCoverage) IsCovered() bool {
	if len(dc.ActiveCoverage()) > 0 {
		return true
	}
	if len(dc.Splits) == 0 {
		return false
	}
	for _, split := range dc.Splits {
		if !split.IsCovered() {
			return false
		}
	}
	return true
}

// BundleFileChange is everything known about one changed file in a bundle
// comparison: its identity, both content trees and the covered diffs between
// them. old==nil means the file was created, new==nil means it was deleted;
// both present with no diffs means a metadata-only change such as a rename.
type BundleFileChange struct {
	FileRef FileRef         `json:"file_ref"`
	Old     any             `json:"old,omitempty"`
	New     any             `json:"new,omitempty"`
	Diffs   []*DiffCoverage `json:"diffs"`
}

// IsFileCreation reports whether the change introduces the file.
func (b *BundleFileChange) IsFileCreation() bool {
	return b.Old == nil && b.New != nil
}

// IsFileDeletion reports whether the change removes the file.
func (b *BundleFileChange) IsFileDeletion() bool {
	return b.Old != nil && b.New == nil
}

// Comment stream

// Comment is one comment on the merge request under review. The MR
// description is fed through as a pseudo-comment authored by the MR author.
type Comment struct {
	Username  string    `json:"username"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Command is one recognized approval command parsed from a comment line.
type Command string

const (
	CommandApprove       Command = "/lgtm"
	CommandCancelApprove Command = "/lgtm cancel"
	CommandHold          Command = "/hold"
	CommandCancelHold    Command = "/hold cancel"
	CommandGoodToTest    Command = "/good-to-test"
)

// Decision is one approval command attributed to its author.
type Decision struct {
	Approver string  `json:"approver"`
	Command  Command `json:"command"`
}
