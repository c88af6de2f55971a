package analysis

import (
	"fmt"
	"strings"

	"argmap/api/internal/doc"
)

const systemPrompt = "You analyze argumentative texts. You answer with a single JSON object and nothing else."

// BuildPrompt assembles the instruction prompt for one document. The allowed
// annotation types and their descriptions are embedded verbatim so the model
// cannot invent new ones.
func BuildPrompt(plainText string) string {
	var builder strings.Builder
	builder.WriteString("Identify the argumentative components of the text below.\n\n")
	builder.WriteString("Allowed annotation types:\n")
	for _, annotationType := range doc.Types {
		fmt.Fprintf(&builder, "- %s: %s\n", annotationType, doc.TypeDescriptions[annotationType])
	}
	builder.WriteString(`
Answer with a JSON object of this exact shape:
{
  "highlights": [
    {"id": "h1", "type": "claim", "text": "exact quote from the text"}
  ],
  "relationships": [
    {"sourceId": "h2", "targetId": "h1"}
  ]
}

Rules:
- every "text" value must be a verbatim, contiguous quote from the text
- every "type" must be one of the allowed annotation types
- ids must be unique within the answer
- a relationship from X to Y means X supports, opposes, or otherwise bears on Y
- "relationships" may be empty but "highlights" must not be

Text:
`)
	builder.WriteString(plainText)
	return builder.String()
}
