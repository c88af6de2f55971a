// Package workspace coordinates changes from the three editing surfaces
// (document editor, graph view, claims view) into canonical session state,
// so that the other two surfaces' next read reflects every change.
package workspace

import (
	"context"
	"fmt"
	"log"

	"argmap/api/internal/analysis"
	"argmap/api/internal/doc"
	"argmap/api/internal/layout"
	"argmap/api/internal/reconcile"
	"argmap/api/internal/registry"
	"argmap/api/internal/store"
	"argmap/api/internal/tombstone"
)

// Store is the slice of the session store the coordinator needs. Canonical
// state is last-write-wins at the granularity of the full {document,
// annotations, relationships} triple; every mutation re-reads the latest
// persisted state immediately before computing its update.
type Store interface {
	GetSession(ctx context.Context, id string) (store.Session, error)
	GetEffectiveContent(ctx context.Context, id string) (store.EffectiveContent, error)
	UpdateInputContent(ctx context.Context, id string, document doc.Node) error
	UpdateAnalysedContent(ctx context.Context, id string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error
	UpdateWorkingContent(ctx context.Context, id string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error
	ResetToInput(ctx context.Context, id string) error
}

// Analyzer runs one analysis over plain text.
type Analyzer interface {
	Run(ctx context.Context, plainText string) (*analysis.Result, error)
}

// Recorder persists a snapshot of canonical state for history browsing.
// Implementations must not fail the main write path; errors are logged by
// the coordinator.
type Recorder interface {
	RecordState(ctx context.Context, sessionID, message string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error
}

// Archiver stores raw analysis payloads out of band.
type Archiver interface {
	StoreRaw(ctx context.Context, sessionID, payload string) error
}

// Coordinator applies view changes to canonical state. Recorder and
// Archiver are optional; a nil value disables the concern.
type Coordinator struct {
	store      Store
	reconciler *reconcile.Reconciler
	registry   *registry.Registry
	tombs      tombstone.Store
	analyzer   Analyzer
	recorder   Recorder
	archiver   Archiver
}

// New wires a coordinator. analyzer may be nil when no analysis backend is
// configured; Analyze then fails with a clear error.
func New(st Store, reg *registry.Registry, tombs tombstone.Store, analyzer Analyzer) *Coordinator {
	return &Coordinator{
		store:      st,
		reconciler: reconcile.New(reg, tombs),
		registry:   reg,
		tombs:      tombs,
		analyzer:   analyzer,
	}
}

// WithRecorder attaches a history recorder.
func (c *Coordinator) WithRecorder(recorder Recorder) *Coordinator {
	c.recorder = recorder
	return c
}

// WithArchiver attaches a raw-payload archiver.
func (c *Coordinator) WithArchiver(archiver Archiver) *Coordinator {
	c.archiver = archiver
	return c
}

// EffectiveContent returns what the views should render, with graph
// positions derived for any annotation that lacks one. Derived positions
// are not persisted; they are recomputed deterministically on each read.
func (c *Coordinator) EffectiveContent(ctx context.Context, sessionID string) (store.EffectiveContent, error) {
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return store.EffectiveContent{}, err
	}
	content.Annotations = layout.Derive(content.Annotations, content.Relationships)
	return content, nil
}

// ApplyDocumentChange handles a content-change event from the document
// editor. When skipExtraction is set (used right after a deletion
// transaction) only the document is written and the annotation list stays
// untouched, so a transient not-yet-settled tree is never extracted.
// Otherwise extraction re-runs with the previous annotation list as the
// position-preserving baseline.
func (c *Coordinator) ApplyDocumentChange(ctx context.Context, sessionID string, document doc.Node, skipExtraction bool) error {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.AnalysedAt == nil {
		return c.store.UpdateInputContent(ctx, sessionID, document)
	}

	annotations := session.Annotations
	if !skipExtraction {
		annotations = c.reconciler.Extract(ctx, document, session.Annotations)
	}
	relationships := pruneDangling(session.Relationships, annotations)
	if skipExtraction {
		relationships = session.Relationships
	}
	if err := c.store.UpdateWorkingContent(ctx, sessionID, document, annotations, relationships); err != nil {
		return fmt.Errorf("apply document change: %w", err)
	}
	c.record(ctx, sessionID, "document edit", document, annotations, relationships)
	return nil
}

// Analyze runs the analysis pipeline over the session's current text and
// commits the resulting triple, moving the session to analysis status.
func (c *Coordinator) Analyze(ctx context.Context, sessionID string) (store.EffectiveContent, error) {
	if c.analyzer == nil {
		return store.EffectiveContent{}, fmt.Errorf("no analysis backend configured")
	}
	content, err := c.store.GetEffectiveContent(ctx, sessionID)
	if err != nil {
		return store.EffectiveContent{}, err
	}
	plainText := doc.PlainText(content.Document)

	result, err := c.analyzer.Run(ctx, plainText)
	if err != nil {
		return store.EffectiveContent{}, err
	}
	if c.archiver != nil {
		if archiveErr := c.archiver.StoreRaw(ctx, sessionID, result.Raw); archiveErr != nil {
			log.Printf("workspace: archive analysis payload for %s: %v", sessionID, archiveErr)
		}
	}

	injected := c.reconciler.Inject(content.Document, result.Annotations)
	annotations := c.reconciler.Extract(ctx, injected, result.Annotations)
	annotations = layout.Derive(annotations, result.Relationships)
	relationships := pruneDangling(result.Relationships, annotations)

	if err := c.store.UpdateAnalysedContent(ctx, sessionID, injected, annotations, relationships); err != nil {
		return store.EffectiveContent{}, fmt.Errorf("commit analysis: %w", err)
	}
	c.record(ctx, sessionID, "analysis", injected, annotations, relationships)
	return store.EffectiveContent{
		Document:      injected,
		Annotations:   annotations,
		Relationships: relationships,
		Analysed:      true,
	}, nil
}

// ResetToInput discards the analysed triple and blanks the input document.
// The caller is responsible for having confirmed this destructive step.
func (c *Coordinator) ResetToInput(ctx context.Context, sessionID string) error {
	if err := c.store.ResetToInput(ctx, sessionID); err != nil {
		return err
	}
	c.record(ctx, sessionID, "reset to input", doc.Empty(), nil, nil)
	return nil
}

// pruneDangling drops relationships whose endpoints are not both present in
// the annotation list.
func pruneDangling(relationships []doc.Relationship, annotations []doc.Annotation) []doc.Relationship {
	present := make(map[string]bool, len(annotations))
	for _, annotation := range annotations {
		present[annotation.ID] = true
	}
	kept := make([]doc.Relationship, 0, len(relationships))
	for _, rel := range relationships {
		if present[rel.SourceID] && present[rel.TargetID] {
			kept = append(kept, rel)
		}
	}
	return kept
}

func (c *Coordinator) record(ctx context.Context, sessionID, message string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordState(ctx, sessionID, message, document, annotations, relationships); err != nil {
		log.Printf("workspace: record history for %s: %v", sessionID, err)
	}
}
