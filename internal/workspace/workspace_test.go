package workspace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"argmap/api/internal/analysis"
	"argmap/api/internal/doc"
	"argmap/api/internal/registry"
	"argmap/api/internal/store"
	"argmap/api/internal/tombstone"
)

type fakeStore struct {
	sessions map[string]*store.Session
	writes   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*store.Session)}
}

func (f *fakeStore) seed(id, text string) {
	now := time.Now()
	f.sessions[id] = &store.Session{
		ID:            id,
		Title:         "test session",
		Status:        store.StatusInput,
		InputDocument: doc.New(text),
		Annotations:   []doc.Annotation{},
		Relationships: []doc.Relationship{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (f *fakeStore) GetSession(_ context.Context, id string) (store.Session, error) {
	session, ok := f.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return *session, nil
}

func (f *fakeStore) GetEffectiveContent(ctx context.Context, id string) (store.EffectiveContent, error) {
	session, ok := f.sessions[id]
	if !ok {
		return store.EffectiveContent{}, store.ErrNotFound
	}
	if session.AnalysedAt != nil {
		return store.EffectiveContent{
			Document:      session.Document,
			Annotations:   session.Annotations,
			Relationships: session.Relationships,
			Analysed:      true,
		}, nil
	}
	return store.EffectiveContent{
		Document:      session.InputDocument,
		Annotations:   []doc.Annotation{},
		Relationships: []doc.Relationship{},
	}, nil
}

func (f *fakeStore) UpdateInputContent(_ context.Context, id string, document doc.Node) error {
	session, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	session.InputDocument = document
	if session.Status == store.StatusDraft {
		session.Status = store.StatusInput
	}
	f.writes++
	return nil
}

func (f *fakeStore) UpdateAnalysedContent(_ context.Context, id string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error {
	session, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	session.Document = document
	session.Annotations = annotations
	session.Relationships = relationships
	session.Status = store.StatusAnalysis
	if session.AnalysedAt == nil {
		session.AnalysedAt = &now
	}
	f.writes++
	return nil
}

func (f *fakeStore) UpdateWorkingContent(_ context.Context, id string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error {
	session, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	session.Document = document
	session.Annotations = annotations
	session.Relationships = relationships
	if session.AnalysedAt == nil {
		session.AnalysedAt = &now
	}
	f.writes++
	return nil
}

func (f *fakeStore) ResetToInput(_ context.Context, id string) error {
	session, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	session.InputDocument = doc.Empty()
	session.Document = doc.Node{}
	session.Annotations = []doc.Annotation{}
	session.Relationships = []doc.Relationship{}
	session.Status = store.StatusInput
	session.AnalysedAt = nil
	f.writes++
	return nil
}

type fakeAnalyzer struct {
	result *analysis.Result
	err    error
	calls  int
}

func (f *fakeAnalyzer) Run(_ context.Context, _ string) (*analysis.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

const orangesText = "I think oranges are the best fruit because they are rich in vitamin C.\nSome people prefer lemons for their stronger taste."

func orangesResult() *analysis.Result {
	return &analysis.Result{
		Annotations: []doc.Annotation{
			{ID: "h1", Type: doc.TypeClaim, Text: "oranges are the best fruit"},
			{ID: "h2", Type: doc.TypeEvidence, Text: "they are rich in vitamin C"},
			{ID: "h3", Type: doc.TypeCounterargument, Text: "Some people prefer lemons"},
		},
		Relationships: []doc.Relationship{
			{SourceID: "h2", TargetID: "h1"},
			{SourceID: "h3", TargetID: "h1"},
		},
		Raw: `{"highlights":[]}`,
	}
}

func newTestCoordinator(st Store, analyzer Analyzer) *Coordinator {
	return New(st, registry.New(), tombstone.NewMemoryStore(time.Minute), analyzer)
}

func TestAnalyzeCommitsTriple(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})

	content, err := coordinator.Analyze(context.Background(), "ses_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(content.Annotations) != 3 {
		t.Fatalf("expected 3 annotations, got %d", len(content.Annotations))
	}
	if len(content.Relationships) != 2 {
		t.Fatalf("expected 2 relationships, got %d", len(content.Relationships))
	}
	if got := doc.PlainText(content.Document); got != orangesText {
		t.Errorf("analysis changed the words:\n%q\n%q", got, orangesText)
	}
	for _, annotation := range content.Annotations {
		if annotation.Position == nil {
			t.Errorf("annotation %s has no derived position", annotation.ID)
		}
	}
	session := st.sessions["ses_1"]
	if session.Status != store.StatusAnalysis {
		t.Errorf("status = %q, want analysis", session.Status)
	}
}

func TestAnalyzeSurfacesPipelineError(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	wantErr := &analysis.ValidationError{Reason: "bad payload"}
	coordinator := newTestCoordinator(st, &fakeAnalyzer{err: wantErr})

	_, err := coordinator.Analyze(context.Background(), "ses_1")
	var validationErr *analysis.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if st.sessions["ses_1"].AnalysedAt != nil {
		t.Error("failed analysis must not commit state")
	}
}

func TestApplyDocumentChangeBeforeAnalysisUpdatesInput(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, nil)

	updated := doc.New("Completely new text.")
	if err := coordinator.ApplyDocumentChange(context.Background(), "ses_1", updated, false); err != nil {
		t.Fatal(err)
	}
	if got := doc.PlainText(st.sessions["ses_1"].InputDocument); got != "Completely new text." {
		t.Errorf("input document not updated: %q", got)
	}
	if st.sessions["ses_1"].AnalysedAt != nil {
		t.Error("input update must not mark the session analysed")
	}
}

func TestApplyDocumentChangeReextracts(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}

	// Simulate an editor change: drop the counterargument's mark but keep
	// its words, then notify the coordinator.
	session := st.sessions["ses_1"]
	edited := doc.Clone(session.Document)
	last := &edited.Content[len(edited.Content)-1]
	last.Content = []doc.Node{doc.TextNode(doc.ParagraphText(*last))}

	if err := coordinator.ApplyDocumentChange(ctx, "ses_1", edited, false); err != nil {
		t.Fatal(err)
	}
	session = st.sessions["ses_1"]
	if len(session.Annotations) != 2 {
		t.Fatalf("expected 2 annotations after mark removal, got %d", len(session.Annotations))
	}
	for _, rel := range session.Relationships {
		if rel.SourceID == "h3" || rel.TargetID == "h3" {
			t.Errorf("dangling relationship survived: %+v", rel)
		}
	}
}

func TestApplyDocumentChangeSkipExtractionLeavesAnnotations(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}
	before := len(st.sessions["ses_1"].Annotations)

	// Mid-deletion tree: marks gone, but the change is flagged transient.
	stripped := doc.New(orangesText)
	if err := coordinator.ApplyDocumentChange(ctx, "ses_1", stripped, true); err != nil {
		t.Fatal(err)
	}
	if got := len(st.sessions["ses_1"].Annotations); got != before {
		t.Errorf("skip-extraction change altered annotations: %d != %d", got, before)
	}
}

func TestUpdatePositionsTouchesOnlyPositions(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}
	documentBefore := doc.PlainText(st.sessions["ses_1"].Document)

	err := coordinator.UpdatePositions(ctx, "ses_1", []PositionUpdate{
		{ID: "h1", Position: doc.Position{X: 10, Y: 20}},
	})
	if err != nil {
		t.Fatal(err)
	}
	session := st.sessions["ses_1"]
	if doc.PlainText(session.Document) != documentBefore {
		t.Error("position update touched the document")
	}
	for _, annotation := range session.Annotations {
		if annotation.ID == "h1" {
			if annotation.Position == nil || annotation.Position.X != 10 {
				t.Errorf("position not applied: %+v", annotation.Position)
			}
		}
	}
}

func TestAddNodeAppendsRepresentativeText(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}

	annotation, err := coordinator.AddNode(ctx, "ses_1", doc.TypeQuestion, "What about grapefruit?", &doc.Position{X: 5, Y: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !annotation.CreatedExternally {
		t.Error("graph-born node must be flagged createdExternally")
	}
	session := st.sessions["ses_1"]
	if !strings.Contains(doc.PlainText(session.Document), "What about grapefruit?") {
		t.Error("representative text not appended to document")
	}
	if !hasAnnotation(session.Annotations, annotation.ID) {
		t.Error("new node missing from annotation list")
	}
}

func TestConnectDeduplicatesAndValidates(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}
	before := len(st.sessions["ses_1"].Relationships)

	// Duplicate of an existing edge.
	if err := coordinator.Connect(ctx, "ses_1", "h2", "h1"); err != nil {
		t.Fatal(err)
	}
	if got := len(st.sessions["ses_1"].Relationships); got != before {
		t.Errorf("duplicate edge added: %d != %d", got, before)
	}

	if err := coordinator.Connect(ctx, "ses_1", "h2", "missing"); err == nil {
		t.Error("edge to unknown annotation must fail")
	}
	if err := coordinator.Connect(ctx, "ses_1", "h2", "h2"); err == nil {
		t.Error("self edge must fail")
	}

	if err := coordinator.Connect(ctx, "ses_1", "h1", "h3"); err != nil {
		t.Fatal(err)
	}
	if got := len(st.sessions["ses_1"].Relationships); got != before+1 {
		t.Errorf("new edge not added: %d", got)
	}
}

func TestDisconnectRemovesEdge(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}

	if err := coordinator.Disconnect(ctx, "ses_1", "h2", "h1"); err != nil {
		t.Fatal(err)
	}
	for _, rel := range st.sessions["ses_1"].Relationships {
		if rel.SourceID == "h2" && rel.TargetID == "h1" {
			t.Error("edge still present after disconnect")
		}
	}
	// Removing it again is a no-op.
	if err := coordinator.Disconnect(ctx, "ses_1", "h2", "h1"); err != nil {
		t.Fatal(err)
	}
}

func TestAddAnnotationWithRelationship(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}

	annotation, err := coordinator.AddAnnotation(ctx, "ses_1", doc.TypeEvidence, "stronger taste", "h1")
	if err != nil {
		t.Fatal(err)
	}
	session := st.sessions["ses_1"]
	found := false
	for _, rel := range session.Relationships {
		if rel.SourceID == annotation.ID && rel.TargetID == "h1" {
			found = true
		}
	}
	if !found {
		t.Error("supporting relationship not created")
	}

	if _, err := coordinator.AddAnnotation(ctx, "ses_1", doc.TypeEvidence, "x", "missing"); err == nil {
		t.Error("relatedTo must reference an existing annotation")
	}
}

func TestManualAnnotationKeepsInputStatus(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, nil)
	ctx := context.Background()

	annotation, err := coordinator.AddAnnotation(ctx, "ses_1", doc.TypeClaim, "oranges are the best fruit", "")
	if err != nil {
		t.Fatal(err)
	}
	session := st.sessions["ses_1"]
	if session.Status != store.StatusInput {
		t.Errorf("status = %q, want input; only the pipeline may move a session to analysis", session.Status)
	}
	if !hasAnnotation(session.Annotations, annotation.ID) {
		t.Error("manual annotation missing from stored state")
	}

	// The annotation must still be served as effective content.
	content, err := coordinator.EffectiveContent(ctx, "ses_1")
	if err != nil {
		t.Fatal(err)
	}
	if !hasAnnotation(content.Annotations, annotation.ID) {
		t.Error("manual annotation missing from effective content")
	}

	if _, err := coordinator.AddNode(ctx, "ses_1", doc.TypeQuestion, "Why oranges?", &doc.Position{X: 1, Y: 1}); err != nil {
		t.Fatal(err)
	}
	if st.sessions["ses_1"].Status != store.StatusInput {
		t.Errorf("status after AddNode = %q, want input", st.sessions["ses_1"].Status)
	}
}

func TestEditAnnotationPropagatesIntoDocument(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}

	edited, err := coordinator.EditAnnotation(ctx, "ses_1", "h1", "oranges are a top-tier fruit", "")
	if err != nil {
		t.Fatal(err)
	}
	if edited.Text != "oranges are a top-tier fruit" {
		t.Errorf("text = %q", edited.Text)
	}
	if !strings.Contains(doc.PlainText(st.sessions["ses_1"].Document), "top-tier fruit") {
		t.Error("edit not propagated into document text")
	}
	if hasAnnotation(st.sessions["ses_1"].Annotations, "h1") != true {
		t.Error("id changed across edit")
	}
}

func TestDeleteAnnotationIsAtomicTriple(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	tombs := tombstone.NewMemoryStore(time.Minute)
	coordinator := New(st, registry.New(), tombs, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}
	wordsBefore := doc.PlainText(st.sessions["ses_1"].Document)

	if err := coordinator.DeleteAnnotation(ctx, "ses_1", "h2"); err != nil {
		t.Fatal(err)
	}
	session := st.sessions["ses_1"]
	if hasAnnotation(session.Annotations, "h2") {
		t.Error("annotation record survived deletion")
	}
	for _, rel := range session.Relationships {
		if rel.SourceID == "h2" || rel.TargetID == "h2" {
			t.Errorf("relationship touching deleted annotation survived: %+v", rel)
		}
	}
	if doc.PlainText(session.Document) != wordsBefore {
		t.Error("deletion removed words, not just the mark")
	}
	if !tombs.IsRemoved(ctx, "h2") {
		t.Error("deleted id not tombstoned")
	}

	if err := coordinator.DeleteAnnotation(ctx, "ses_1", "h2"); err == nil {
		t.Error("deleting a missing annotation must fail")
	}
}

func TestResetToInputClearsEverything(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}

	if err := coordinator.ResetToInput(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}
	session := st.sessions["ses_1"]
	if session.Status != store.StatusInput {
		t.Errorf("status = %q, want input", session.Status)
	}
	if len(session.Annotations) != 0 || len(session.Relationships) != 0 {
		t.Error("reset left annotation state behind")
	}
	if doc.PlainText(session.InputDocument) != "" {
		t.Error("reset left input text behind")
	}
}

func TestEffectiveContentDerivesPositions(t *testing.T) {
	st := newFakeStore()
	st.seed("ses_1", orangesText)
	coordinator := newTestCoordinator(st, &fakeAnalyzer{result: orangesResult()})
	ctx := context.Background()
	if _, err := coordinator.Analyze(ctx, "ses_1"); err != nil {
		t.Fatal(err)
	}
	// Wipe stored positions to simulate pre-layout data.
	for i := range st.sessions["ses_1"].Annotations {
		st.sessions["ses_1"].Annotations[i].Position = nil
	}

	content, err := coordinator.EffectiveContent(ctx, "ses_1")
	if err != nil {
		t.Fatal(err)
	}
	for _, annotation := range content.Annotations {
		if annotation.Position == nil {
			t.Errorf("annotation %s has no position", annotation.ID)
		}
	}
}

func TestOperationsOnMissingSessionSurfaceNotFound(t *testing.T) {
	coordinator := newTestCoordinator(newFakeStore(), nil)
	ctx := context.Background()

	if _, err := coordinator.EffectiveContent(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := coordinator.ApplyDocumentChange(ctx, "nope", doc.Empty(), false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
