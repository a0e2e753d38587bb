package changetypes

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/changegate/pkg/models"
)

// ctxFilePathVar is the template variable a selector may carry; it is bound
// to the owning context's file path when the expression is resolved.
const ctxFilePathVar = "{{ctx_file_path}}"

// PathExpression is one allowed-changed-path selector. Non-templated
// expressions are parsed once at load time; templated ones are resolved per
// context before matching.
type PathExpression struct {
	template string
	parsed   jp.Expr
}

func newPathExpression(selector string) (*PathExpression, error) {
	pe := &PathExpression{template: selector}
	probe := selector
	if strings.Contains(selector, ctxFilePathVar) {
		probe = strings.ReplaceAll(selector, ctxFilePathVar, "ctx-file-path-probe")
	}
	expr, err := jp.ParseString(probe)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPathExpression, selector, err)
	}
	if probe == selector {
		pe.parsed = expr
	}
	return pe, nil
}

// Templated reports whether the expression depends on the bound context.
func (pe *PathExpression) Templated() bool {
	return pe.parsed == nil
}

// String returns the original selector text.
func (pe *PathExpression) String() string {
	return pe.template
}

// Resolve returns the concrete JSONPath for the given context, substituting
// the context file path into templated selectors.
func (pe *PathExpression) Resolve(ctx *models.ChangeTypeContext) (jp.Expr, error) {
	if pe.parsed != nil {
		return pe.parsed, nil
	}
	if ctx == nil {
		return nil, fmt.Errorf("%w: %q requires a bound context", ErrInvalidPathExpression, pe.template)
	}
	concrete := strings.ReplaceAll(pe.template, ctxFilePathVar, ctx.ContextFile.Path)
	expr, err := jp.ParseString(concrete)
	if err != nil {
		return nil, fmt.Errorf("%w: %q resolved to %q: %v", ErrInvalidPathExpression, pe.template, concrete, err)
	}
	return expr, nil
}

// ContextSelector is the resolved form of a detector's context selector.
type ContextSelector struct {
	Scheme   string
	Selector jp.Expr
	When     string
}

// Detector is the resolved jsonPath change detector: the file schema it
// watches, the allowed-changed-path selectors and the optional context
// selector used for ownership resolution.
type Detector struct {
	ChangeFileType models.FileType
	ChangeSchema   string
	Selectors      []*PathExpression
	Context        *ContextSelector
}

// Matches reports whether the detector watches the given file.
func (d *Detector) Matches(file models.FileRef) bool {
	return d.ChangeFileType == file.FileType && d.ChangeSchema == file.Schema
}

// Processor is the resolved, validated form of a change-type definition.
// Inheritance has been flattened into it: its detectors are the union of its
// own and all of its ancestors'.
type Processor struct {
	name              string
	description       string
	contextType       models.FileType
	contextSchema     string
	priority          models.Priority
	disabled          bool
	restrictive       bool
	detectors         []*Detector
	ownershipRefs     []string
	implicitOwnership []ImplicitOwnershipV1
	inheritedFrom     []string
}

var _ models.ChangeTypePolicy = (*Processor)(nil)

func (p *Processor) Name() string                          { return p.name }
func (p *Processor) Description() string                   { return p.description }
func (p *Processor) ContextType() models.FileType          { return p.contextType }
func (p *Processor) ContextSchema() string                 { return p.contextSchema }
func (p *Processor) Priority() models.Priority             { return p.priority }
func (p *Processor) Disabled() bool                        { return p.disabled }
func (p *Processor) Restrictive() bool                     { return p.restrictive }
func (p *Processor) InheritedFrom() []string               { return p.inheritedFrom }
func (p *Processor) OwnershipRefs() []string               { return p.ownershipRefs }
func (p *Processor) ImplicitOwnership() []ImplicitOwnershipV1 {
	return p.implicitOwnership
}

// Detectors returns every detector watching the given file.
func (p *Processor) Detectors() []*Detector { return p.detectors }

// DetectorsFor returns the detectors applicable to one file.
func (p *Processor) DetectorsFor(file models.FileRef) []*Detector {
	var out []*Detector
	for _, d := range p.detectors {
		if d.Matches(file) {
			out = append(out, d)
		}
	}
	return out
}

// AllowedChangedPaths returns the concrete paths inside content matched by
// this processor's path expressions for the given file, resolving templated
// selectors against the bound context first. The result is deduplicated but
// otherwise unordered.
func (p *Processor) AllowedChangedPaths(file models.FileRef, content any, ctx *models.ChangeTypeContext) ([]models.Path, error) {
	if content == nil {
		return nil, nil
	}
	var paths []models.Path
	seen := map[string]bool{}
	for _, det := range p.DetectorsFor(file) {
		for _, sel := range det.Selectors {
			expr, err := sel.Resolve(ctx)
			if err != nil {
				return nil, err
			}
			for _, loc := range expr.Locate(content, 0) {
				path, err := models.PathFromJSONPath(loc)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidPathExpression, err)
				}
				if key := path.String(); !seen[key] {
					seen[key] = true
					paths = append(paths, path)
				}
			}
		}
	}
	return paths, nil
}
