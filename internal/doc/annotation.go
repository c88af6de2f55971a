package doc

import "strings"

// Annotation is the flat record form of a highlight: an identified, typed
// reference to a contiguous span of document text.
type Annotation struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Text              string    `json:"text"`
	StartIndex        int       `json:"startIndex,omitempty"`
	EndIndex          int       `json:"endIndex,omitempty"`
	Position          *Position `json:"position,omitempty"`
	CreatedExternally bool      `json:"createdExternally,omitempty"`
}

// Position is a 2D layout coordinate for the graph view.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Relationship is a directed edge between two annotations. An edge from an
// evidence annotation to a claim annotation means "supports".
type Relationship struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// Annotation types. TypeClaim doubles as the fallback when a mark's type
// cannot be resolved.
const (
	TypeClaim           = "claim"
	TypeEvidence        = "evidence"
	TypeAssumption      = "assumption"
	TypeImplication     = "implication"
	TypeQuestion        = "question"
	TypeCounterargument = "counterargument"
	TypeCause           = "cause"
)

// Types lists all annotation types in a fixed order, used wherever the
// enumeration must be deterministic (prompts, layout columns).
var Types = []string{
	TypeClaim,
	TypeEvidence,
	TypeAssumption,
	TypeImplication,
	TypeQuestion,
	TypeCounterargument,
	TypeCause,
}

// TypeDescriptions maps each annotation type to the description embedded in
// analysis prompts.
var TypeDescriptions = map[string]string{
	TypeClaim:           "a statement the author asserts to be true",
	TypeEvidence:        "a fact, observation, or citation offered in support of a claim",
	TypeAssumption:      "an unstated or stated premise the argument depends on",
	TypeImplication:     "a consequence that follows if the argument holds",
	TypeQuestion:        "an open question the text raises but does not answer",
	TypeCounterargument: "a statement that opposes or weakens another claim",
	TypeCause:           "a cause-and-effect assertion",
}

// ValidType reports whether value is one of the seven annotation types.
func ValidType(value string) bool {
	_, ok := TypeDescriptions[value]
	return ok
}

// NormalizeType lowercases and trims a type value, returning TypeClaim for
// anything unrecognized.
func NormalizeType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if ValidType(normalized) {
		return normalized
	}
	return TypeClaim
}

// HasRelationship reports whether an equal edge already exists.
func HasRelationship(relationships []Relationship, candidate Relationship) bool {
	for _, rel := range relationships {
		if rel.SourceID == candidate.SourceID && rel.TargetID == candidate.TargetID {
			return true
		}
	}
	return false
}

// PruneRelationships drops every edge touching the given annotation id.
func PruneRelationships(relationships []Relationship, annotationID string) []Relationship {
	kept := make([]Relationship, 0, len(relationships))
	for _, rel := range relationships {
		if rel.SourceID == annotationID || rel.TargetID == annotationID {
			continue
		}
		kept = append(kept, rel)
	}
	return kept
}
