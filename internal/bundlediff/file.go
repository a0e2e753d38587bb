package bundlediff

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/changegate/pkg/models"
)

// ErrInvalidBundleMetadata marks an upstream contract violation in the bundle
// diff document, e.g. a resource-file envelope without its content checksum.
var ErrInvalidBundleMetadata = errors.New("invalid bundle metadata")

// DatafileChange is the per-datafile entry of a bundle diff document.
type DatafileChange struct {
	Path   string `json:"path" yaml:"path"`
	Schema string `json:"schema" yaml:"schema"`
	Old    any    `json:"old,omitempty" yaml:"old,omitempty"`
	New    any    `json:"new,omitempty" yaml:"new,omitempty"`
}

// ResourcefileContent is one side of a resource-file change: the raw content,
// an optional declared schema and the content checksum.
type ResourcefileContent struct {
	Content   string `json:"content" yaml:"content"`
	Schema    string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Sha256Sum string `json:"sha256sum" yaml:"sha256sum"`
}

// ResourcefileChange is the per-resource-file entry of a bundle diff document.
type ResourcefileChange struct {
	Path string               `json:"path" yaml:"path"`
	Old  *ResourcefileContent `json:"old,omitempty" yaml:"old,omitempty"`
	New  *ResourcefileContent `json:"new,omitempty" yaml:"new,omitempty"`
}

// DiffDatafile diffs one datafile change into a BundleFileChange.
func DiffDatafile(ch DatafileChange) *models.BundleFileChange {
	change := &models.BundleFileChange{
		FileRef: models.FileRef{
			FileType: models.FileTypeDatafile,
			Path:     ch.Path,
			Schema:   ch.Schema,
		},
		Old: ch.Old,
		New: ch.New,
	}
	for _, d := range DiffTrees(ch.Old, ch.New) {
		change.Diffs = append(change.Diffs, models.NewDiffCoverage(d))
	}
	return change
}

// DiffResourcefile diffs one resource-file change. Content is parsed as
// structured data when it declares a schema; unparsable content degrades to
// scalar-string diffing. When the checksum changed but the parsed contents
// yield no semantic diff (a pure rename or move), a single metadata-only
// sentinel diff is emitted so downstream consumers can still classify the
// change. A checksum missing from a present envelope is a contract violation
// reported as ErrInvalidBundleMetadata; the returned change then carries the
// unprocessed diff list.
func DiffResourcefile(ch ResourcefileChange) (*models.BundleFileChange, error) {
	change := &models.BundleFileChange{
		FileRef: models.FileRef{
			FileType: models.FileTypeResourcefile,
			Path:     ch.Path,
			Schema:   resourceSchema(ch),
		},
	}
	if ch.Old != nil {
		change.Old = parseResourceContent(ch.Path, ch.Old)
	}
	if ch.New != nil {
		change.New = parseResourceContent(ch.Path, ch.New)
	}

	for _, d := range DiffTrees(change.Old, change.New) {
		change.Diffs = append(change.Diffs, models.NewDiffCoverage(d))
	}

	if ch.Old == nil || ch.New == nil {
		return change, nil
	}
	if ch.Old.Sha256Sum == "" || ch.New.Sha256Sum == "" {
		return change, fmt.Errorf("%w: resource file %s has no %s", ErrInvalidBundleMetadata, ch.Path, models.ChecksumField)
	}
	if ch.Old.Sha256Sum != ch.New.Sha256Sum && len(change.Diffs) == 0 {
		change.Diffs = append(change.Diffs,
			models.NewDiffCoverage(models.MetadataOnlyDiff(ch.Old.Sha256Sum, ch.New.Sha256Sum)))
	}
	return change, nil
}

func resourceSchema(ch ResourcefileChange) string {
	if ch.New != nil && ch.New.Schema != "" {
		return ch.New.Schema
	}
	if ch.Old != nil {
		return ch.Old.Schema
	}
	return ""
}

// parseResourceContent opportunistically parses structured resource content.
// Files without a declared schema, or with content that fails to parse, are
// treated as a single opaque scalar string.
func parseResourceContent(path string, rc *ResourcefileContent) any {
	if rc.Schema == "" {
		return rc.Content
	}
	var tree any
	if err := yaml.Unmarshal([]byte(rc.Content), &tree); err != nil {
		log.Debug().Str("file", path).Err(err).Msg("resource content not parsable, diffing as scalar")
		return rc.Content
	}
	return normalize(tree)
}

// normalize rewrites yaml.v3 map[any]any mappings into map[string]any so the
// diff walk sees one mapping shape regardless of the source format.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
