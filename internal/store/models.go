package store

import (
	"time"

	"argmap/api/internal/doc"
)

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	IsExternal  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session statuses. A session starts as draft, becomes input once text is
// entered, and analysis once the analysis pipeline has committed a result.
const (
	StatusDraft    = "draft"
	StatusInput    = "input"
	StatusAnalysis = "analysis"
)

// Session is one argument-annotation workspace. InputDocument holds the raw
// text the user entered; Document, Annotations and Relationships are the
// analysed triple and are only meaningful once AnalysedAt is set.
type Session struct {
	ID            string
	OwnerID       string
	Title         string
	Status        string
	InputDocument doc.Node
	Document      doc.Node
	Annotations   []doc.Annotation
	Relationships []doc.Relationship
	AnalysedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID        string
	OwnerID   string
	Title     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveContent is what the views render: the analysed triple when one
// exists, otherwise the raw input document with empty annotation state.
type EffectiveContent struct {
	Document      doc.Node
	Annotations   []doc.Annotation
	Relationships []doc.Relationship
	Analysed      bool
}
