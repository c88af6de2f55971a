package workspace

import (
	"context"
	"fmt"

	"argmap/api/internal/doc"
	"argmap/api/internal/util"
)

// PositionUpdate moves one graph node.
type PositionUpdate struct {
	ID       string       `json:"id"`
	Position doc.Position `json:"position"`
}

// UpdatePositions merges position changes from the graph view into the
// annotation list. The document and relationships are unaffected.
func (c *Coordinator) UpdatePositions(ctx context.Context, sessionID string, updates []PositionUpdate) error {
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return err
	}
	byID := make(map[string]doc.Position, len(updates))
	for _, update := range updates {
		byID[update.ID] = update.Position
	}
	for i := range content.Annotations {
		if position, ok := byID[content.Annotations[i].ID]; ok {
			moved := position
			content.Annotations[i].Position = &moved
		}
	}
	if err := c.store.UpdateWorkingContent(ctx, sessionID, content.Document, content.Annotations, content.Relationships); err != nil {
		return fmt.Errorf("update positions: %w", err)
	}
	return nil
}

// AddNode creates a graph-born annotation and appends its representative
// text to the canonical document. Returns the new annotation.
func (c *Coordinator) AddNode(ctx context.Context, sessionID, annotationType, text string, position *doc.Position) (doc.Annotation, error) {
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return doc.Annotation{}, err
	}

	annotation := doc.Annotation{
		ID:                util.NewID("ann"),
		Type:              doc.NormalizeType(annotationType),
		Text:              text,
		Position:          position,
		CreatedExternally: true,
	}
	c.registry.Set(annotation.ID, annotation.Type)

	annotations := append(content.Annotations, annotation)
	injected := c.reconciler.Inject(content.Document, annotations)
	annotations = c.reconciler.Extract(ctx, injected, annotations)

	if err := c.store.UpdateWorkingContent(ctx, sessionID, injected, annotations, content.Relationships); err != nil {
		return doc.Annotation{}, fmt.Errorf("add node: %w", err)
	}
	c.record(ctx, sessionID, "add node", injected, annotations, content.Relationships)

	for _, candidate := range annotations {
		if candidate.ID == annotation.ID {
			return candidate, nil
		}
	}
	return annotation, nil
}

// Connect adds a directed relationship between two existing annotations.
// Duplicates and edges touching unknown or just-deleted annotations are
// rejected.
func (c *Coordinator) Connect(ctx context.Context, sessionID, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("relationship endpoints must differ")
	}
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return err
	}
	if !hasAnnotation(content.Annotations, sourceID) || !hasAnnotation(content.Annotations, targetID) {
		return fmt.Errorf("relationship endpoint does not exist")
	}
	if c.tombs != nil && (c.tombs.IsRemoved(ctx, sourceID) || c.tombs.IsRemoved(ctx, targetID)) {
		return fmt.Errorf("relationship endpoint was just deleted")
	}
	candidate := doc.Relationship{SourceID: sourceID, TargetID: targetID}
	if doc.HasRelationship(content.Relationships, candidate) {
		return nil
	}
	relationships := append(content.Relationships, candidate)
	if err := c.store.UpdateWorkingContent(ctx, sessionID, content.Document, content.Annotations, relationships); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect removes a directed relationship. Removing a missing edge is a
// no-op.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID, sourceID, targetID string) error {
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return err
	}
	relationships := make([]doc.Relationship, 0, len(content.Relationships))
	for _, rel := range content.Relationships {
		if rel.SourceID == sourceID && rel.TargetID == targetID {
			continue
		}
		relationships = append(relationships, rel)
	}
	if len(relationships) == len(content.Relationships) {
		return nil
	}
	if err := c.store.UpdateWorkingContent(ctx, sessionID, content.Document, content.Annotations, relationships); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func hasAnnotation(annotations []doc.Annotation, id string) bool {
	for _, annotation := range annotations {
		if annotation.ID == id {
			return true
		}
	}
	return false
}
