package doc

import "testing"

func TestPlainTextJoinsParagraphsWithNewline(t *testing.T) {
	document := Node{Type: NodeDoc, Content: []Node{
		Paragraph(TextNode("first "), TextNode("paragraph", HighlightMark("a", TypeClaim))),
		Paragraph(TextNode("second paragraph")),
	}}

	got := PlainText(document)
	want := "first paragraph\nsecond paragraph"
	if got != want {
		t.Errorf("PlainText() = %q, want %q", got, want)
	}
}

func TestNewSplitsTextIntoParagraphs(t *testing.T) {
	document := New("one\ntwo\n\nthree")
	if document.Type != NodeDoc {
		t.Fatalf("root type = %q", document.Type)
	}
	if len(document.Content) != 3 {
		t.Fatalf("expected 3 paragraphs, got %d", len(document.Content))
	}
	// Blank lines produce no paragraph, so the round trip collapses them.
	if got := PlainText(document); got != "one\ntwo\nthree" {
		t.Errorf("round trip = %q", got)
	}
}

func TestNewEmptyText(t *testing.T) {
	if got := PlainText(New("")); got != "" {
		t.Errorf("PlainText(New(\"\")) = %q", got)
	}
	if got := PlainText(Empty()); got != "" {
		t.Errorf("PlainText(Empty()) = %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := Node{Type: NodeDoc, Content: []Node{
		Paragraph(TextNode("hello", HighlightMark("a", TypeEvidence))),
	}}

	clone := Clone(original)
	clone.Content[0].Content[0].Text = "changed"
	clone.Content[0].Content[0].Marks[0].Attrs.ID = "b"

	if original.Content[0].Content[0].Text != "hello" {
		t.Error("clone shares text with original")
	}
	if original.Content[0].Content[0].Marks[0].Attrs.ID != "a" {
		t.Error("clone shares marks with original")
	}
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"claim":      TypeClaim,
		" Evidence ": TypeEvidence,
		"CAUSE":      TypeCause,
		"unknown":    TypeClaim,
		"":           TypeClaim,
	}
	for input, want := range cases {
		if got := NormalizeType(input); got != want {
			t.Errorf("NormalizeType(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPruneRelationships(t *testing.T) {
	relationships := []Relationship{
		{SourceID: "a", TargetID: "b"},
		{SourceID: "b", TargetID: "c"},
		{SourceID: "c", TargetID: "a"},
	}

	kept := PruneRelationships(relationships, "a")
	if len(kept) != 1 || kept[0].SourceID != "b" {
		t.Errorf("PruneRelationships = %+v", kept)
	}
}

func TestHasRelationshipIsDirectional(t *testing.T) {
	relationships := []Relationship{{SourceID: "a", TargetID: "b"}}
	if !HasRelationship(relationships, Relationship{SourceID: "a", TargetID: "b"}) {
		t.Error("existing edge not found")
	}
	if HasRelationship(relationships, Relationship{SourceID: "b", TargetID: "a"}) {
		t.Error("reverse edge should not match")
	}
}
