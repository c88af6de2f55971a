// Package doc defines the canonical data model: a ProseMirror-shaped
// document tree, the annotation records extracted from it, and the directed
// relationships between annotations.
package doc

import "strings"

// Node is a node in the document tree. A document is a Node of type "doc"
// containing "paragraph" nodes, which contain "text" nodes. Only text nodes
// carry Text and Marks.
type Node struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Marks   []Mark `json:"marks,omitempty"`
	Content []Node `json:"content,omitempty"`
}

// Mark attaches one annotation to a text run. Type is always "highlight";
// the annotation identity lives in Attrs.
type Mark struct {
	Type  string    `json:"type"`
	Attrs MarkAttrs `json:"attrs"`
}

// MarkAttrs carries the annotation id and its semantic type. HighlightType
// and Kind are the same value under two names; both are written so that
// consumers expecting either attribute keep working.
type MarkAttrs struct {
	ID            string `json:"id"`
	HighlightType string `json:"highlightType,omitempty"`
	Kind          string `json:"type,omitempty"`
}

const (
	NodeDoc       = "doc"
	NodeParagraph = "paragraph"
	NodeText      = "text"
	MarkHighlight = "highlight"
)

// HighlightMark builds a highlight mark for the given annotation.
func HighlightMark(id, annotationType string) Mark {
	return Mark{
		Type: MarkHighlight,
		Attrs: MarkAttrs{
			ID:            id,
			HighlightType: annotationType,
			Kind:          annotationType,
		},
	}
}

// TextNode builds a text run with the given marks.
func TextNode(text string, marks ...Mark) Node {
	return Node{Type: NodeText, Text: text, Marks: marks}
}

// Paragraph builds a paragraph node from text runs.
func Paragraph(runs ...Node) Node {
	return Node{Type: NodeParagraph, Content: runs}
}

// New builds a document from plain text, one paragraph per non-empty line.
func New(text string) Node {
	paragraphs := make([]Node, 0)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		paragraphs = append(paragraphs, Paragraph(TextNode(trimmed)))
	}
	return Node{Type: NodeDoc, Content: paragraphs}
}

// Empty returns a document with no content.
func Empty() Node {
	return Node{Type: NodeDoc, Content: []Node{}}
}

// PlainText concatenates all text runs in reading order. Paragraphs are
// joined with a single newline so that character offsets are stable across
// paragraph boundaries.
func PlainText(document Node) string {
	var builder strings.Builder
	writePlainText(&builder, document, true)
	return builder.String()
}

func writePlainText(builder *strings.Builder, node Node, first bool) {
	if node.Type == NodeText {
		builder.WriteString(node.Text)
		return
	}
	for i, child := range node.Content {
		if child.Type == NodeParagraph && !(first && i == 0) {
			builder.WriteString("\n")
		}
		writePlainText(builder, child, false)
	}
}

// Clone deep-copies a node tree. Mutating the copy never touches the
// original's slices.
func Clone(node Node) Node {
	copied := node
	if node.Marks != nil {
		copied.Marks = make([]Mark, len(node.Marks))
		copy(copied.Marks, node.Marks)
	}
	if node.Content != nil {
		copied.Content = make([]Node, len(node.Content))
		for i, child := range node.Content {
			copied.Content[i] = Clone(child)
		}
	}
	return copied
}

// ParagraphText concatenates the text runs of a single paragraph.
func ParagraphText(paragraph Node) string {
	var builder strings.Builder
	for _, run := range paragraph.Content {
		if run.Type == NodeText {
			builder.WriteString(run.Text)
		}
	}
	return builder.String()
}

// HighlightID returns the annotation id of a mark, or "" for non-highlight
// marks.
func (m Mark) HighlightID() string {
	if m.Type != MarkHighlight {
		return ""
	}
	return m.Attrs.ID
}
