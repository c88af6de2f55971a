package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"argmap/api/internal/doc"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback. Session text and annotations live in JSONB, so their tsvectors
// are computed inline rather than from stored columns.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across session titles and annotation
// texts using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultSession {
		where := fmt.Sprintf("to_tsvector('english', s.title) @@ %s", tsQuery)
		if q.FilterOwnerID != "" {
			where += fmt.Sprintf(" AND s.owner_id::text = $%d", argN)
			args = append(args, q.FilterOwnerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'session'::text AS type, s.id, s.title,
				ts_headline('english', s.title, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS session_id, s.owner_id::text,
				ts_rank(to_tsvector('english', s.title), %s) AS rank
			FROM sessions s
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultAnnotation {
		where := fmt.Sprintf("to_tsvector('english', a.value->>'text') @@ %s", tsQuery)
		if q.FilterOwnerID != "" {
			where += fmt.Sprintf(" AND s.owner_id::text = $%d", argN)
			args = append(args, q.FilterOwnerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'annotation'::text AS type, a.value->>'id' AS id,
				coalesce(a.value->>'type', '') AS title,
				ts_headline('english', coalesce(a.value->>'text', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS session_id, s.owner_id::text,
				ts_rank(to_tsvector('english', a.value->>'text'), %s) AS rank
			FROM sessions s, jsonb_array_elements(s.annotations) a
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, session_id, owner_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SessionID, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing. The
// session snippet text is recomputed from the effective document.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SessionRecord, []AnnotationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.status, s.owner_id::text,
			coalesce(s.document, s.input_document), s.annotations
		FROM sessions s
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]SessionRecord, 0)
	annotations := make([]AnnotationRecord, 0)
	for rows.Next() {
		var record SessionRecord
		var documentJSON, annotationsJSON []byte
		if err := rows.Scan(&record.ID, &record.Title, &record.Status, &record.OwnerID,
			&documentJSON, &annotationsJSON); err != nil {
			return nil, nil, fmt.Errorf("scan session: %w", err)
		}
		record.Text = plainTextFromJSON(documentJSON)
		sessions = append(sessions, record)
		annotations = append(annotations, annotationRecordsFromJSON(record, annotationsJSON)...)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, annotations, nil
}

func plainTextFromJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var document doc.Node
	if err := json.Unmarshal(data, &document); err != nil {
		return ""
	}
	return doc.PlainText(document)
}

func annotationRecordsFromJSON(session SessionRecord, data []byte) []AnnotationRecord {
	if len(data) == 0 {
		return nil
	}
	var items []doc.Annotation
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	records := make([]AnnotationRecord, 0, len(items))
	for _, item := range items {
		records = append(records, AnnotationRecord{
			ID:        item.ID,
			SessionID: session.ID,
			OwnerID:   session.OwnerID,
			Type:      item.Type,
			Text:      item.Text,
		})
	}
	return records
}
