package changetypes

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/changegate/pkg/models"
)

// Registry holds every resolved change-type processor of one configuration
// snapshot. Construction fails on the first configuration error: a silently
// skipped change-type would leave its schema under-protected.
type Registry struct {
	processors map[string]*Processor
	ordered    []*Processor
}

// Get looks up a processor by change-type name.
func (r *Registry) Get(name string) (*Processor, bool) {
	p, ok := r.processors[name]
	return p, ok
}

// Processors returns every processor in definition order.
func (r *Registry) Processors() []*Processor {
	return r.ordered
}

// node is one arena entry of the inheritance graph: a definition plus its
// inherit edges resolved to arena indices. The own* fields snapshot the
// definition's own detectors so flattening merges each ancestor exactly once
// regardless of arena order.
type node struct {
	def           ChangeTypeV1
	proc          *Processor
	inherits      []int
	ownDetectors  []*Detector
	ownRefs       []string
	ownImplicit   []ImplicitOwnershipV1
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// BuildRegistry validates the definitions, rejects inheritance cycles and
// flattens each change type's detectors with the union of its ancestors'.
func BuildRegistry(defs []ChangeTypeV1) (*Registry, error) {
	arena := make([]*node, 0, len(defs))
	index := map[string]int{}
	for _, def := range defs {
		if _, dup := index[def.Name]; dup {
			return nil, fmt.Errorf("duplicate change type %q", def.Name)
		}
		proc, err := buildProcessor(def)
		if err != nil {
			return nil, err
		}
		index[def.Name] = len(arena)
		arena = append(arena, &node{
			def:          def,
			proc:         proc,
			ownDetectors: append([]*Detector(nil), proc.detectors...),
			ownRefs:      append([]string(nil), proc.ownershipRefs...),
			ownImplicit:  append([]ImplicitOwnershipV1(nil), proc.implicitOwnership...),
		})
	}

	// Resolve inherit edges into arena indices before any traversal.
	for _, n := range arena {
		for _, ref := range n.def.Inherit {
			parent, ok := index[ref.Name]
			if !ok {
				return nil, fmt.Errorf("%w: %q inherits undefined %q",
					ErrUnknownChangeType, n.def.Name, ref.Name)
			}
			n.inherits = append(n.inherits, parent)
		}
		for _, refName := range n.proc.ownershipRefs {
			if _, ok := index[refName]; !ok {
				return nil, fmt.Errorf("%w: %q references undefined %q",
					ErrUnknownChangeType, n.def.Name, refName)
			}
		}
	}

	if err := detectCycles(arena); err != nil {
		return nil, err
	}

	for i, n := range arena {
		if err := flatten(arena, i); err != nil {
			return nil, err
		}
		log.Debug().
			Str("change_type", n.def.Name).
			Int("detectors", len(n.proc.detectors)).
			Strs("inherited_from", n.proc.inheritedFrom).
			Msg("resolved change type processor")
	}

	reg := &Registry{processors: make(map[string]*Processor, len(arena))}
	for _, n := range arena {
		reg.processors[n.def.Name] = n.proc
		reg.ordered = append(reg.ordered, n.proc)
	}
	return reg, nil
}

// detectCycles runs a gray/black depth-first traversal over the inherits
// relation. A cycle fails the whole snapshot and the error names every
// processor on it.
func detectCycles(arena []*node) error {
	colors := make([]int, len(arena))
	var stack []int

	var visit func(i int) error
	visit = func(i int) error {
		colors[i] = colorGray
		stack = append(stack, i)
		for _, parent := range arena[i].inherits {
			switch colors[parent] {
			case colorWhite:
				if err := visit(parent); err != nil {
					return err
				}
			case colorGray:
				var names []string
				for j := len(stack) - 1; j >= 0; j-- {
					names = append(names, arena[stack[j]].def.Name)
					if stack[j] == parent {
						break
					}
				}
				return fmt.Errorf("%w: %s", ErrInheritanceCycle, strings.Join(names, " -> "))
			}
		}
		stack = stack[:len(stack)-1]
		colors[i] = colorBlack
		return nil
	}

	for i := range arena {
		if colors[i] == colorWhite {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// flatten merges every ancestor's detectors into the processor at arena index
// i. The merge is a union; duplicate selectors are harmless. All processors
// in one inheritance chain must agree on context type and, where set, on
// context schema.
func flatten(arena []*node, i int) error {
	self := arena[i]
	seen := map[int]bool{i: true}
	queue := append([]int(nil), self.inherits...)
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]
		if seen[j] {
			continue
		}
		seen[j] = true
		ancestor := arena[j]

		if ancestor.proc.contextType != self.proc.contextType {
			return fmt.Errorf("%w: %q (%s) inherits %q (%s) with a different context type",
				ErrIncompatibleInheritance, self.def.Name, self.proc.contextType,
				ancestor.def.Name, ancestor.proc.contextType)
		}
		if ancestor.proc.contextSchema != "" && self.proc.contextSchema != "" &&
			ancestor.proc.contextSchema != self.proc.contextSchema {
			return fmt.Errorf("%w: %q (%s) inherits %q (%s) with a different context schema",
				ErrIncompatibleInheritance, self.def.Name, self.proc.contextSchema,
				ancestor.def.Name, ancestor.proc.contextSchema)
		}

		self.proc.detectors = append(self.proc.detectors, ancestor.ownDetectors...)
		self.proc.ownershipRefs = appendMissing(self.proc.ownershipRefs, ancestor.ownRefs)
		self.proc.implicitOwnership = append(self.proc.implicitOwnership, ancestor.ownImplicit...)
		self.proc.inheritedFrom = append(self.proc.inheritedFrom, ancestor.def.Name)
		queue = append(queue, ancestor.inherits...)
	}
	return nil
}

func appendMissing(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

// buildProcessor validates one definition in isolation: provider tags,
// selector syntax and protocols, context type and priority.
func buildProcessor(def ChangeTypeV1) (*Processor, error) {
	contextType, err := parseFileType(def.ContextType)
	if err != nil {
		return nil, fmt.Errorf("change type %q: %w", def.Name, err)
	}

	priority := models.Priority(def.Priority)
	if def.Priority == "" {
		priority = models.PriorityHigh
	} else if !models.ValidPriority(priority) {
		return nil, fmt.Errorf("change type %q: unknown priority %q", def.Name, def.Priority)
	}

	proc := &Processor{
		name:          def.Name,
		description:   def.Description,
		contextType:   contextType,
		contextSchema: def.ContextSchema,
		priority:      priority,
		disabled:      def.Disabled,
		restrictive:   def.Restrictive,
	}

	for _, change := range def.Changes {
		switch change.Provider {
		case ProviderJSONPath:
			det, err := buildDetector(def, change)
			if err != nil {
				return nil, err
			}
			proc.detectors = append(proc.detectors, det)
		case ProviderChangeTypeRef:
			for _, ref := range change.ChangeTypes {
				proc.ownershipRefs = appendMissing(proc.ownershipRefs, []string{ref.Name})
			}
		default:
			return nil, fmt.Errorf("change type %q: %w: %q",
				def.Name, ErrUnsupportedProvider, change.Provider)
		}
	}

	for _, io := range def.ImplicitOwnership {
		if io.Provider != ProviderJSONPath {
			return nil, fmt.Errorf("change type %q: implicit ownership: %w: %q",
				def.Name, ErrUnsupportedProvider, io.Provider)
		}
		if _, err := newPathExpression(io.Selector); err != nil {
			return nil, fmt.Errorf("change type %q: implicit ownership: %w", def.Name, err)
		}
		proc.implicitOwnership = append(proc.implicitOwnership, io)
	}

	return proc, nil
}

func buildDetector(def ChangeTypeV1, change ChangeDetectorV1) (*Detector, error) {
	det := &Detector{
		ChangeFileType: models.FileTypeDatafile,
		ChangeSchema:   change.ChangeSchema,
	}
	if change.ChangeSchema == "" {
		// A detector without its own change schema watches the context
		// schema itself.
		det.ChangeFileType = models.FileType(def.ContextType)
		det.ChangeSchema = def.ContextSchema
	}

	for _, sel := range change.JSONPathSelectors {
		pe, err := newPathExpression(sel)
		if err != nil {
			return nil, fmt.Errorf("change type %q: %w", def.Name, err)
		}
		det.Selectors = append(det.Selectors, pe)
	}

	if change.Context != nil {
		cs, err := buildContextSelector(def.Name, change.Context)
		if err != nil {
			return nil, err
		}
		det.Context = cs
	}
	return det, nil
}

func buildContextSelector(changeType string, sel *ContextSelectorV1) (*ContextSelector, error) {
	scheme := SelectorSchemeContent
	selector := sel.Selector
	if idx := strings.Index(selector, "://"); idx >= 0 {
		scheme = selector[:idx]
		selector = selector[idx+len("://"):]
	}
	switch scheme {
	case SelectorSchemeContent, SelectorSchemeBundle:
	default:
		return nil, fmt.Errorf("change type %q: %w: %q", changeType, ErrUnknownSelectorProtocol, scheme)
	}

	switch sel.When {
	case "", WhenAdded, WhenRemoved:
	default:
		return nil, fmt.Errorf("change type %q: unknown context selector condition %q", changeType, sel.When)
	}

	pe, err := newPathExpression(selector)
	if err != nil {
		return nil, fmt.Errorf("change type %q: context selector: %w", changeType, err)
	}
	if pe.Templated() {
		return nil, fmt.Errorf("change type %q: context selector %q must not be templated", changeType, sel.Selector)
	}
	expr, err := pe.Resolve(nil)
	if err != nil {
		return nil, err
	}
	return &ContextSelector{Scheme: scheme, Selector: expr, When: sel.When}, nil
}

func parseFileType(s string) (models.FileType, error) {
	switch models.FileType(s) {
	case models.FileTypeDatafile, models.FileTypeResourcefile:
		return models.FileType(s), nil
	}
	return "", fmt.Errorf("unknown context type %q", s)
}
