package reconcile

import (
	"log"
	"sort"
	"strings"

	"argmap/api/internal/doc"
)

// span is one contiguous annotated range inside a paragraph. Annotations
// sharing the exact same range collapse into one span with a mark per
// annotation.
type span struct {
	start, end  int // rune offsets in the paragraph's current text
	text        string
	annotations []doc.Annotation
}

// Inject builds a new document carrying exactly the marks for the given
// annotations. The input document is deep-copied, never mutated. An
// annotation is placed by its existing mark id first; only annotations the
// document has never seen fall back to substring search. When an
// annotation's text differs from the text under its mark, the document text
// is updated in place. Marks in the input whose id is absent from the
// annotation list are removed; the words underneath stay.
func (r *Reconciler) Inject(document doc.Node, annotations []doc.Annotation) doc.Node {
	result := doc.Clone(document)
	if result.Content == nil {
		result.Content = []doc.Node{}
	}

	placed := make(map[string]bool, len(annotations))
	assigned := make(map[int][]doc.Annotation)
	for _, annotation := range annotations {
		if annotation.ID == "" {
			continue
		}
		if index, ok := paragraphWithMark(result, annotation.ID); ok {
			assigned[index] = append(assigned[index], annotation)
			placed[annotation.ID] = true
			continue
		}
		if annotation.Text != "" {
			if index, ok := paragraphContaining(result, annotation.Text); ok {
				assigned[index] = append(assigned[index], annotation)
				placed[annotation.ID] = true
			}
		}
	}

	for i := range result.Content {
		result.Content[i] = r.rebuildParagraph(result.Content[i], assigned[i])
	}

	for _, annotation := range annotations {
		if annotation.ID == "" || placed[annotation.ID] {
			continue
		}
		if annotation.CreatedExternally && strings.TrimSpace(annotation.Text) != "" {
			// Graph-born node with no home in the text yet. Append its
			// representative text as a new fully-marked paragraph.
			result.Content = append(result.Content, doc.Paragraph(
				doc.TextNode(annotation.Text, doc.HighlightMark(annotation.ID, annotation.Type)),
			))
			r.registry.Set(annotation.ID, annotation.Type)
			continue
		}
		log.Printf("reconcile: dropping annotation %s, no mark or matching text in document", annotation.ID)
	}

	return result
}

// rebuildParagraph reassembles a paragraph's text runs from the annotations
// assigned to it. Everything not covered by an annotation becomes a plain
// run. Ranges that partially overlap an earlier range are clipped; ranges
// swallowed entirely are dropped with a log line.
func (r *Reconciler) rebuildParagraph(paragraph doc.Node, annotations []doc.Annotation) doc.Node {
	text := doc.ParagraphText(paragraph)
	if len(annotations) == 0 {
		if text == "" {
			return doc.Node{Type: paragraph.Type}
		}
		return doc.Node{Type: paragraph.Type, Content: []doc.Node{doc.TextNode(text)}}
	}

	runes := []rune(text)
	existing := markRanges(paragraph)

	var spans []*span
	for _, annotation := range annotations {
		var start, end int
		if rng, ok := existing[annotation.ID]; ok {
			start, end = rng.start, rng.end
		} else {
			index := runeIndex(text, annotation.Text)
			if index < 0 {
				log.Printf("reconcile: dropping annotation %s, text not found in assigned paragraph", annotation.ID)
				continue
			}
			start, end = index, index+len([]rune(annotation.Text))
		}

		current := findSpan(spans, start, end)
		if current == nil {
			current = &span{start: start, end: end, text: string(runes[start:end])}
			spans = append(spans, current)
		}
		current.annotations = append(current.annotations, annotation)
		if annotation.Text != "" && annotation.Text != current.text {
			current.text = annotation.Text
		}
		r.registry.Set(annotation.ID, annotation.Type)
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	runs := make([]doc.Node, 0, 2*len(spans)+1)
	cursor := 0
	for _, sp := range spans {
		if sp.end <= cursor {
			log.Printf("reconcile: dropping fully overlapped span at %d..%d", sp.start, sp.end)
			continue
		}
		if sp.start > cursor {
			runs = append(runs, doc.TextNode(string(runes[cursor:sp.start])))
		}
		marks := make([]doc.Mark, 0, len(sp.annotations))
		for _, annotation := range sp.annotations {
			marks = append(marks, doc.HighlightMark(annotation.ID, annotation.Type))
		}
		runs = append(runs, doc.TextNode(sp.text, marks...))
		cursor = sp.end
	}
	if cursor < len(runes) {
		runs = append(runs, doc.TextNode(string(runes[cursor:])))
	}
	if len(runs) == 0 {
		return doc.Node{Type: paragraph.Type}
	}
	return doc.Node{Type: paragraph.Type, Content: runs}
}

type markRange struct {
	start, end int
}

// markRanges returns the rune range of the first run carrying each mark id.
func markRanges(paragraph doc.Node) map[string]markRange {
	ranges := make(map[string]markRange)
	offset := 0
	for _, run := range paragraph.Content {
		if run.Type != doc.NodeText {
			continue
		}
		length := len([]rune(run.Text))
		for _, mark := range run.Marks {
			id := mark.HighlightID()
			if id == "" {
				continue
			}
			if _, ok := ranges[id]; !ok {
				ranges[id] = markRange{start: offset, end: offset + length}
			}
		}
		offset += length
	}
	return ranges
}

func findSpan(spans []*span, start, end int) *span {
	for _, sp := range spans {
		if sp.start == start && sp.end == end {
			return sp
		}
	}
	return nil
}

// paragraphWithMark returns the index of the first paragraph carrying a
// highlight mark with the given id.
func paragraphWithMark(document doc.Node, id string) (int, bool) {
	for i, paragraph := range document.Content {
		for _, run := range paragraph.Content {
			for _, mark := range run.Marks {
				if mark.HighlightID() == id {
					return i, true
				}
			}
		}
	}
	return 0, false
}

// paragraphContaining returns the index of the first paragraph whose text
// contains the given substring.
func paragraphContaining(document doc.Node, text string) (int, bool) {
	for i, paragraph := range document.Content {
		if strings.Contains(doc.ParagraphText(paragraph), text) {
			return i, true
		}
	}
	return 0, false
}

// runeIndex returns the rune offset of needle in haystack, or -1.
func runeIndex(haystack, needle string) int {
	byteIndex := strings.Index(haystack, needle)
	if byteIndex < 0 {
		return -1
	}
	return len([]rune(haystack[:byteIndex]))
}
