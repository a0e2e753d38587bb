package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// PathToken is one step in a structured content path: either a field name
// inside a mapping or an index inside a sequence.
type PathToken struct {
	Field string `json:"field,omitempty"`
	Index int    `json:"index,omitempty"`
	List  bool   `json:"list,omitempty"`
}

// Path addresses a value inside a file's content tree. The zero-length path
// addresses the root of the tree.
type Path []PathToken

// RootPath returns the canonical root path.
func RootPath() Path {
	return Path{}
}

// Child returns a new path descending into the given mapping field.
func (p Path) Child(field string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, PathToken{Field: field})
}

// Elem returns a new path descending into the given sequence index.
func (p Path) Elem(index int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, PathToken{Index: index, List: true})
}

// IsRoot reports whether the path addresses the whole content tree.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Equal reports whether two paths address the same location.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix addresses the same location as p or an
// ancestor of it. The root path is a prefix of every path.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// IsStrictAncestorOf reports whether p addresses a strict ancestor of other.
func (p Path) IsStrictAncestorOf(other Path) bool {
	return len(p) < len(other) && other.HasPrefix(p)
}

// RelativeTo strips an ancestor prefix from the path. The caller must ensure
// the prefix relation holds first.
func (p Path) RelativeTo(prefix Path) Path {
	return p[len(prefix):]
}

// String renders the canonical dotted/indexed notation used everywhere a path
// is displayed or compared textually: `$` for the root, `$.metadata.name` for
// fields, `$.items[3]` for sequence elements. Field names containing a
// separator character are single-quoted so the rendering stays unambiguous.
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('$')
	for _, tok := range p {
		if tok.List {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(tok.Index))
			b.WriteByte(']')
			continue
		}
		b.WriteByte('.')
		if strings.ContainsAny(tok.Field, ".[]' ") {
			b.WriteByte('\'')
			b.WriteString(strings.ReplaceAll(tok.Field, "'", `\'`))
			b.WriteByte('\'')
		} else {
			b.WriteString(tok.Field)
		}
	}
	return b.String()
}

// Parent returns the path one level up. The root path is its own parent.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

// PathFromJSONPath converts a normalized JSONPath location, as produced by
// locating an expression inside a content tree, into a Path.
func PathFromJSONPath(expr jp.Expr) (Path, error) {
	path := RootPath()
	for _, frag := range expr {
		switch f := frag.(type) {
		case jp.Root:
			// leading '$'
		case jp.Child:
			path = path.Child(string(f))
		case jp.Nth:
			path = path.Elem(int(f))
		default:
			return nil, fmt.Errorf("unexpected fragment %T in located path %s", frag, expr)
		}
	}
	return path, nil
}

// ValueAt navigates tree along the path and returns the addressed value.
// The second return value is false when the path does not exist in the tree.
func (p Path) ValueAt(tree any) (any, bool) {
	cur := tree
	for _, tok := range p {
		if tok.List {
			seq, ok := cur.([]any)
			if !ok || tok.Index < 0 || tok.Index >= len(seq) {
				return nil, false
			}
			cur = seq[tok.Index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[tok.Field]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
