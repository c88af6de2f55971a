package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"argmap/api/internal/doc"
	"argmap/api/internal/store"
)

func TestDocumentToHTMLRendersHighlights(t *testing.T) {
	document := doc.Node{Type: doc.NodeDoc, Content: []doc.Node{
		doc.Paragraph(
			doc.TextNode("I think "),
			doc.TextNode("oranges are the best fruit", doc.HighlightMark("ann-1", doc.TypeClaim)),
			doc.TextNode("."),
		),
	}}

	html := DocumentToHTML(document)

	if !strings.Contains(html, `<mark class="hl-claim" data-annotation-id="ann-1">oranges are the best fruit</mark>`) {
		t.Errorf("highlight not rendered: %s", html)
	}
	if !strings.Contains(html, "<p>I think ") {
		t.Errorf("paragraph not rendered: %s", html)
	}
}

func TestDocumentToHTMLEscapesText(t *testing.T) {
	document := doc.Node{Type: doc.NodeDoc, Content: []doc.Node{
		doc.Paragraph(doc.TextNode("<script>alert(1)</script>")),
	}}

	html := DocumentToHTML(document)

	if strings.Contains(html, "<script>") {
		t.Errorf("unescaped markup in output: %s", html)
	}
}

func TestBuildAppendixGroupsSupportUnderTargets(t *testing.T) {
	annotations := []doc.Annotation{
		{ID: "c1", Type: doc.TypeClaim, Text: "oranges are the best fruit"},
		{ID: "e1", Type: doc.TypeEvidence, Text: "rich in vitamin C"},
		{ID: "q1", Type: doc.TypeQuestion, Text: "compared to what?"},
	}
	relationships := []doc.Relationship{{SourceID: "e1", TargetID: "c1"}}

	claims := buildAppendix(annotations, relationships)

	if len(claims) != 2 {
		t.Fatalf("expected 2 appendix entries, got %d", len(claims))
	}
	if claims[0].Text != "oranges are the best fruit" || len(claims[0].Support) != 1 {
		t.Errorf("claim entry wrong: %+v", claims[0])
	}
	if claims[0].Support[0].Type != doc.TypeEvidence {
		t.Errorf("support type = %q", claims[0].Support[0].Type)
	}
	if claims[1].Text != "compared to what?" {
		t.Errorf("standalone annotation missing: %+v", claims[1])
	}
}

func TestRenderDocumentHTMLIncludesAppendix(t *testing.T) {
	data := TemplateData{
		Title:       "Test Session",
		Status:      "analysis",
		ContentHTML: "<p>body</p>",
		UpdatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Claims: []TemplateClaim{
			{Type: doc.TypeClaim, Text: "main claim", Support: []TemplateSupport{
				{Type: doc.TypeEvidence, Text: "proof"},
			}},
		},
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	for _, want := range []string{"Test Session", "<p>body</p>", "main claim", "proof"} {
		if !strings.Contains(html, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

type fakeExportStore struct {
	session store.Session
	content store.EffectiveContent
}

func (f *fakeExportStore) GetSession(_ context.Context, _ string) (store.Session, error) {
	return f.session, nil
}

func (f *fakeExportStore) GetEffectiveContent(_ context.Context, _ string) (store.EffectiveContent, error) {
	return f.content, nil
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService(&fakeExportStore{
		session: store.Session{ID: "ses-1", Title: "t", Status: store.StatusInput},
		content: store.EffectiveContent{Document: doc.Empty()},
	})

	_, err := svc.Export(context.Background(), Request{SessionID: "ses-1", Format: "csv"})
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("expected unsupported-format error, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"My Great Argument":   "My-Great-Argument",
		"":                    "document",
		"a/b\\c":              "abc",
		strings.Repeat("x", 60): strings.Repeat("x", 50),
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
