// Package reconcile converts between the document tree and the flat
// annotation list, in both directions, preserving annotation identity while
// tolerating text drift, duplication, and partial matches.
package reconcile

import (
	"context"
	"log"

	"argmap/api/internal/doc"
	"argmap/api/internal/registry"
	"argmap/api/internal/tombstone"
)

// Reconciler performs extraction (document → annotations) and injection
// (annotations → document). It never fails on content problems; unmatched
// or ambiguous cases degrade to best-effort placement or a logged drop.
type Reconciler struct {
	registry *registry.Registry
	tombs    tombstone.Store
}

// New creates a reconciler backed by the given type registry and tombstone
// store. tombs may be nil, in which case no deletion window is honored.
func New(reg *registry.Registry, tombs tombstone.Store) *Reconciler {
	return &Reconciler{registry: reg, tombs: tombs}
}

// Extract walks the document in reading order and returns one annotation
// record per distinct highlight mark id, ordered by document position.
// The first occurrence of an id wins; ids inside the recently-removed
// window are skipped even when a stray mark still references them. When
// prior is supplied, graph positions and the createdExternally flag carry
// over by id so re-extraction does not lose them.
func (r *Reconciler) Extract(ctx context.Context, document doc.Node, prior []doc.Annotation) []doc.Annotation {
	priorByID := make(map[string]doc.Annotation, len(prior))
	for _, ann := range prior {
		priorByID[ann.ID] = ann
	}

	seen := make(map[string]bool)
	annotations := make([]doc.Annotation, 0)
	offset := 0

	for index, paragraph := range document.Content {
		if index > 0 {
			offset++ // paragraph boundary counts as one newline
		}
		for _, run := range paragraph.Content {
			if run.Type != doc.NodeText {
				continue
			}
			length := len([]rune(run.Text))
			for _, mark := range run.Marks {
				id := mark.HighlightID()
				if id == "" || seen[id] {
					continue
				}
				if r.tombs != nil && r.tombs.IsRemoved(ctx, id) {
					log.Printf("reconcile: skipping recently removed annotation %s", id)
					continue
				}
				annotationType := r.resolveType(id, mark)
				annotation := doc.Annotation{
					ID:         id,
					Type:       annotationType,
					Text:       run.Text,
					StartIndex: offset,
					EndIndex:   offset + length,
				}
				if previous, ok := priorByID[id]; ok {
					annotation.Position = previous.Position
					annotation.CreatedExternally = previous.CreatedExternally
				}
				r.registry.Set(id, annotationType)
				seen[id] = true
				annotations = append(annotations, annotation)
			}
			offset += length
		}
	}
	return annotations
}

// resolveType resolves a mark's annotation type by priority: the mark's own
// highlightType attribute, its generic type attribute, the registry, then
// the claim default.
func (r *Reconciler) resolveType(id string, mark doc.Mark) string {
	if mark.Attrs.HighlightType != "" {
		return mark.Attrs.HighlightType
	}
	if mark.Attrs.Kind != "" {
		return mark.Attrs.Kind
	}
	if cached := r.registry.Get(id); cached != "" {
		return cached
	}
	log.Printf("reconcile: no resolvable type for mark %s, defaulting to %s", id, doc.TypeClaim)
	return doc.TypeClaim
}
