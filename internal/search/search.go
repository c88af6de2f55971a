package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSession    ResultType = "session"
	ResultAnnotation ResultType = "annotation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	SessionID string     `json:"sessionId"`
	OwnerID   string     `json:"ownerId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterOwnerID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SessionRecord is the data we index for a session.
type SessionRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Status  string `json:"status"`
	OwnerID string `json:"ownerId"`
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	OwnerID   string `json:"ownerId"`
	Type      string `json:"type"`
	Text      string `json:"text"`
}
