package bundlediff

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/changegate/pkg/models"
)

// Document is the bundle diff document supplied by the bundle comparison
// collaborator: one entry per changed datafile and resource file.
type Document struct {
	Datafiles     []DatafileChange     `json:"datafiles" yaml:"datafiles"`
	Resourcefiles []ResourcefileChange `json:"resourcefiles" yaml:"resourcefiles"`
}

// ParseDocument decodes a bundle diff document from JSON or YAML bytes.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bundle diff document: %w", err)
	}
	for i := range doc.Datafiles {
		doc.Datafiles[i].Old = normalize(doc.Datafiles[i].Old)
		doc.Datafiles[i].New = normalize(doc.Datafiles[i].New)
	}
	return &doc, nil
}

// Changes diffs every file in the document. A post-processing failure on one
// file does not abort the comparison: that file keeps its unprocessed diff
// list and the error is logged, so one malformed file cannot block review of
// all others.
func (d *Document) Changes() []*models.BundleFileChange {
	changes := make([]*models.BundleFileChange, 0, len(d.Datafiles)+len(d.Resourcefiles))
	for _, df := range d.Datafiles {
		changes = append(changes, DiffDatafile(df))
	}
	for _, rf := range d.Resourcefiles {
		change, err := DiffResourcefile(rf)
		if err != nil {
			log.Warn().Str("file", rf.Path).Err(err).
				Msg("resource file diff post-processing failed, keeping unprocessed diffs")
		}
		changes = append(changes, change)
	}
	return changes
}
