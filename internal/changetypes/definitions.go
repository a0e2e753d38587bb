// Package changetypes validates and flattens change-type definitions into
// processors: the resolved policy objects that declare which paths of which
// file schemas are self-approvable and under which ownership context.
package changetypes

import "errors"

// Change-detector provider kinds. Anything else is rejected at load time with
// ErrUnsupportedProvider.
const (
	ProviderJSONPath      = "jsonPath"
	ProviderChangeTypeRef = "changeTypeRef"
)

// Context selector protocols. The empty scheme evaluates the selector against
// the changed file's own content; the bundle scheme queries the bundle
// service instead.
const (
	SelectorSchemeContent = ""
	SelectorSchemeBundle  = "bundle"
)

// Context selector set-difference modes.
const (
	WhenAdded   = "added"
	WhenRemoved = "removed"
)

var (
	// ErrUnsupportedProvider marks a change-detector or implicit-ownership
	// entry with an unrecognized provider tag.
	ErrUnsupportedProvider = errors.New("unsupported change detector provider")
	// ErrUnknownSelectorProtocol marks a context selector with an
	// unrecognized scheme.
	ErrUnknownSelectorProtocol = errors.New("unknown selector protocol")
	// ErrInvalidPathExpression marks a selector that fails to parse.
	ErrInvalidPathExpression = errors.New("invalid path expression")
	// ErrInheritanceCycle marks a cycle in the inherits relation.
	ErrInheritanceCycle = errors.New("change type inheritance cycle")
	// ErrIncompatibleInheritance marks an inheritance chain whose members
	// disagree on context type or context schema.
	ErrIncompatibleInheritance = errors.New("incompatible change type inheritance")
	// ErrUnknownChangeType marks a reference to an undefined change type.
	ErrUnknownChangeType = errors.New("unknown change type")
)

// ChangeTypeV1 is the schema-validated change-type definition as fetched from
// the bundle query service.
type ChangeTypeV1 struct {
	Name              string                `json:"name" yaml:"name"`
	Description       string                `json:"description,omitempty" yaml:"description,omitempty"`
	ContextType       string                `json:"contextType" yaml:"contextType"`
	ContextSchema     string                `json:"contextSchema,omitempty" yaml:"contextSchema,omitempty"`
	Disabled          bool                  `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Priority          string                `json:"priority,omitempty" yaml:"priority,omitempty"`
	Restrictive       bool                  `json:"restrictive,omitempty" yaml:"restrictive,omitempty"`
	Inherit           []ChangeTypeRefV1     `json:"inherit,omitempty" yaml:"inherit,omitempty"`
	Changes           []ChangeDetectorV1    `json:"changes,omitempty" yaml:"changes,omitempty"`
	ImplicitOwnership []ImplicitOwnershipV1 `json:"implicitOwnership,omitempty" yaml:"implicitOwnership,omitempty"`
}

// ChangeTypeRefV1 references another change type by name.
type ChangeTypeRefV1 struct {
	Name string `json:"name" yaml:"name"`
}

// ChangeDetectorV1 is the tagged union of change-detector providers. The
// Provider field selects the variant; registry construction matches on it and
// fails for anything unrecognized.
type ChangeDetectorV1 struct {
	Provider string `json:"provider" yaml:"provider"`

	// jsonPath provider fields.
	ChangeSchema      string             `json:"changeSchema,omitempty" yaml:"changeSchema,omitempty"`
	JSONPathSelectors []string           `json:"jsonPathSelectors,omitempty" yaml:"jsonPathSelectors,omitempty"`
	Context           *ContextSelectorV1 `json:"context,omitempty" yaml:"context,omitempty"`

	// changeTypeRef provider fields: other change types whose contexts are
	// additional owners of this one (hierarchical ownership expansion).
	ChangeTypes []ChangeTypeRefV1 `json:"changeTypes,omitempty" yaml:"changeTypes,omitempty"`
}

// ContextSelectorV1 declares how a change detector locates the context file
// owning a change: a selector evaluated against the changed file's content or
// against the bundle service, restricted by an optional set-difference mode.
type ContextSelectorV1 struct {
	Selector string `json:"selector" yaml:"selector"`
	When     string `json:"when,omitempty" yaml:"when,omitempty"`
}

// ImplicitOwnershipV1 declares approvers derived from the context file itself
// rather than from role membership.
type ImplicitOwnershipV1 struct {
	Provider string `json:"provider" yaml:"provider"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
}
