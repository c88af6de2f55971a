package export

import (
	"fmt"
	"html"
	"strings"

	"argmap/api/internal/doc"
)

// DocumentToHTML renders the document tree to HTML. Highlight marks become
// <mark> elements classed by annotation type so exported output keeps the
// color coding of the editor.
func DocumentToHTML(document doc.Node) string {
	var builder strings.Builder
	renderNode(&builder, document)
	return builder.String()
}

func renderNode(builder *strings.Builder, node doc.Node) {
	switch node.Type {
	case doc.NodeDoc:
		for _, child := range node.Content {
			renderNode(builder, child)
		}
	case doc.NodeParagraph:
		builder.WriteString("<p>")
		for _, child := range node.Content {
			renderNode(builder, child)
		}
		builder.WriteString("</p>\n")
	case doc.NodeText:
		builder.WriteString(renderText(node))
	default:
		for _, child := range node.Content {
			renderNode(builder, child)
		}
	}
}

func renderText(node doc.Node) string {
	text := html.EscapeString(node.Text)
	for i := len(node.Marks) - 1; i >= 0; i-- {
		mark := node.Marks[i]
		if mark.Type != doc.MarkHighlight {
			continue
		}
		annotationType := mark.Attrs.HighlightType
		if annotationType == "" {
			annotationType = mark.Attrs.Kind
		}
		text = fmt.Sprintf(`<mark class="hl-%s" data-annotation-id="%s">%s</mark>`,
			html.EscapeString(doc.NormalizeType(annotationType)),
			html.EscapeString(mark.Attrs.ID),
			text)
	}
	return text
}
