package workspace

import (
	"context"
	"fmt"

	"argmap/api/internal/doc"
	"argmap/api/internal/util"
)

// AddAnnotation creates an annotation from the claims view. When relatedTo
// names an existing annotation, a relationship from the new annotation to
// it is added in the same write (the add-evidence path). The persisted
// document is fetched fresh and re-injected so concurrent edits are not
// clobbered.
func (c *Coordinator) AddAnnotation(ctx context.Context, sessionID, annotationType, text, relatedTo string) (doc.Annotation, error) {
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return doc.Annotation{}, err
	}
	if relatedTo != "" && !hasAnnotation(content.Annotations, relatedTo) {
		return doc.Annotation{}, fmt.Errorf("related annotation %s does not exist", relatedTo)
	}

	annotation := doc.Annotation{
		ID:                util.NewID("ann"),
		Type:              doc.NormalizeType(annotationType),
		Text:              text,
		CreatedExternally: true,
	}
	c.registry.Set(annotation.ID, annotation.Type)

	annotations := append(content.Annotations, annotation)
	relationships := content.Relationships
	if relatedTo != "" {
		relationships = append(relationships, doc.Relationship{SourceID: annotation.ID, TargetID: relatedTo})
	}

	injected := c.reconciler.Inject(content.Document, annotations)
	annotations = c.reconciler.Extract(ctx, injected, annotations)
	relationships = pruneDangling(relationships, annotations)

	if err := c.store.UpdateWorkingContent(ctx, sessionID, injected, annotations, relationships); err != nil {
		return doc.Annotation{}, fmt.Errorf("add annotation: %w", err)
	}
	c.record(ctx, sessionID, "add annotation", injected, annotations, relationships)

	for _, candidate := range annotations {
		if candidate.ID == annotation.ID {
			return candidate, nil
		}
	}
	return annotation, nil
}

// EditAnnotation updates an annotation's text and/or type, propagating the
// text change into the canonical document. Empty arguments leave the
// corresponding field unchanged.
func (c *Coordinator) EditAnnotation(ctx context.Context, sessionID, annotationID, newText, newType string) (doc.Annotation, error) {
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return doc.Annotation{}, err
	}

	index := -1
	for i, annotation := range content.Annotations {
		if annotation.ID == annotationID {
			index = i
			break
		}
	}
	if index < 0 {
		return doc.Annotation{}, fmt.Errorf("annotation %s does not exist", annotationID)
	}

	if newText != "" {
		content.Annotations[index].Text = newText
	}
	if newType != "" {
		content.Annotations[index].Type = doc.NormalizeType(newType)
	}
	c.registry.Set(annotationID, content.Annotations[index].Type)

	injected := c.reconciler.Inject(content.Document, content.Annotations)
	annotations := c.reconciler.Extract(ctx, injected, content.Annotations)
	relationships := pruneDangling(content.Relationships, annotations)

	if err := c.store.UpdateWorkingContent(ctx, sessionID, injected, annotations, relationships); err != nil {
		return doc.Annotation{}, fmt.Errorf("edit annotation: %w", err)
	}
	c.record(ctx, sessionID, "edit annotation", injected, annotations, relationships)

	for _, candidate := range annotations {
		if candidate.ID == annotationID {
			return candidate, nil
		}
	}
	return content.Annotations[index], nil
}

// DeleteAnnotation removes an annotation, its mark, and every relationship
// touching it, as one atomic triple write. The id additionally enters the
// recently-removed set so an extraction pass racing against an editor
// deletion cannot resurrect it from a stale tree.
func (c *Coordinator) DeleteAnnotation(ctx context.Context, sessionID, annotationID string) error {
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return err
	}
	if !hasAnnotation(content.Annotations, annotationID) {
		return fmt.Errorf("annotation %s does not exist", annotationID)
	}

	if c.tombs != nil {
		if err := c.tombs.MarkRemoved(ctx, annotationID); err != nil {
			return fmt.Errorf("mark removed: %w", err)
		}
	}

	annotations := make([]doc.Annotation, 0, len(content.Annotations)-1)
	for _, annotation := range content.Annotations {
		if annotation.ID != annotationID {
			annotations = append(annotations, annotation)
		}
	}
	relationships := doc.PruneRelationships(content.Relationships, annotationID)

	injected := c.reconciler.Inject(content.Document, annotations)

	if err := c.store.UpdateWorkingContent(ctx, sessionID, injected, annotations, relationships); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	c.registry.Delete(annotationID)
	c.record(ctx, sessionID, "delete annotation", injected, annotations, relationships)
	return nil
}
