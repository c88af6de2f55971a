package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"argmap/api/internal/doc"
	"argmap/api/internal/util"
)

// CreateSession inserts a new session owned by ownerID. The session starts
// as draft when the document is empty, input otherwise.
func (s *PostgresStore) CreateSession(ctx context.Context, ownerID, title string, document doc.Node) (Session, error) {
	status := StatusDraft
	if doc.PlainText(document) != "" {
		status = StatusInput
	}
	inputJSON, err := json.Marshal(document)
	if err != nil {
		return Session{}, fmt.Errorf("marshal input document: %w", err)
	}

	id := util.NewID("ses")
	const query = `
		INSERT INTO sessions (id, owner_id, title, status, input_document)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	session := Session{
		ID:            id,
		OwnerID:       ownerID,
		Title:         title,
		Status:        status,
		InputDocument: document,
		Annotations:   []doc.Annotation{},
		Relationships: []doc.Relationship{},
	}
	if err := s.db.QueryRowContext(ctx, query, id, ownerID, title, status, inputJSON).
		Scan(&session.CreatedAt, &session.UpdatedAt); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// GetSession loads the full session row.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	const query = `
		SELECT id, owner_id, title, status, input_document, document,
			annotations, relationships, analysed_at, created_at, updated_at
		FROM sessions WHERE id = $1
	`
	var session Session
	var inputJSON, documentJSON, annotationsJSON, relationshipsJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.OwnerID, &session.Title, &session.Status,
		&inputJSON, &documentJSON, &annotationsJSON, &relationshipsJSON,
		&session.AnalysedAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}

	if err := unmarshalDocument(inputJSON, &session.InputDocument); err != nil {
		return Session{}, fmt.Errorf("decode input document: %w", err)
	}
	if err := unmarshalDocument(documentJSON, &session.Document); err != nil {
		return Session{}, fmt.Errorf("decode document: %w", err)
	}
	session.Annotations = []doc.Annotation{}
	if len(annotationsJSON) > 0 {
		if err := json.Unmarshal(annotationsJSON, &session.Annotations); err != nil {
			return Session{}, fmt.Errorf("decode annotations: %w", err)
		}
	}
	session.Relationships = []doc.Relationship{}
	if len(relationshipsJSON) > 0 {
		if err := json.Unmarshal(relationshipsJSON, &session.Relationships); err != nil {
			return Session{}, fmt.Errorf("decode relationships: %w", err)
		}
	}
	return session, nil
}

// ListSessions returns session summaries for one owner, most recent first.
func (s *PostgresStore) ListSessions(ctx context.Context, ownerID string) ([]SessionSummary, error) {
	const query = `
		SELECT id, owner_id, title, status, created_at, updated_at
		FROM sessions WHERE owner_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []SessionSummary{}
	for rows.Next() {
		var summary SessionSummary
		if err := rows.Scan(&summary.ID, &summary.OwnerID, &summary.Title, &summary.Status,
			&summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// UpdateInputContent replaces the raw input document. The analysed triple is
// untouched; status moves to input when the session was still a draft.
func (s *PostgresStore) UpdateInputContent(ctx context.Context, id string, document doc.Node) error {
	inputJSON, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("marshal input document: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET input_document = $2,
			status = CASE WHEN status = 'draft' THEN 'input' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
	`, id, inputJSON)
	if err != nil {
		return fmt.Errorf("update input content: %w", err)
	}
	return requireRow(result)
}

// UpdateAnalysedContent writes the full {document, annotations,
// relationships} triple in one statement, so a reader never observes a
// partial update. The session moves to analysis status; only the analysis
// pipeline commit uses this path.
func (s *PostgresStore) UpdateAnalysedContent(ctx context.Context, id string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error {
	return s.writeContent(ctx, id, document, annotations, relationships, true)
}

// UpdateWorkingContent writes the same triple but leaves the lifecycle
// status alone, for manual annotation work on sessions the pipeline has not
// run on. The triple still becomes the effective content.
func (s *PostgresStore) UpdateWorkingContent(ctx context.Context, id string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error {
	return s.writeContent(ctx, id, document, annotations, relationships, false)
}

func (s *PostgresStore) writeContent(ctx context.Context, id string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship, markAnalysis bool) error {
	documentJSON, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	annotationsJSON, err := json.Marshal(emptyIfNilAnnotations(annotations))
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}
	relationshipsJSON, err := json.Marshal(emptyIfNilRelationships(relationships))
	if err != nil {
		return fmt.Errorf("marshal relationships: %w", err)
	}

	query := `
		UPDATE sessions
		SET document = $2,
			annotations = $3,
			relationships = $4,
			analysed_at = COALESCE(analysed_at, NOW()),
			updated_at = NOW()
		WHERE id = $1
	`
	if markAnalysis {
		query = `
		UPDATE sessions
		SET document = $2,
			annotations = $3,
			relationships = $4,
			status = 'analysis',
			analysed_at = COALESCE(analysed_at, NOW()),
			updated_at = NOW()
		WHERE id = $1
	`
	}
	result, err := s.db.ExecContext(ctx, query, id, documentJSON, annotationsJSON, relationshipsJSON)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return requireRow(result)
}

// GetEffectiveContent returns the analysed triple when the session has one,
// otherwise the raw input document with empty annotation state.
func (s *PostgresStore) GetEffectiveContent(ctx context.Context, id string) (EffectiveContent, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return EffectiveContent{}, err
	}
	if session.AnalysedAt != nil {
		return EffectiveContent{
			Document:      session.Document,
			Annotations:   session.Annotations,
			Relationships: session.Relationships,
			Analysed:      true,
		}, nil
	}
	return EffectiveContent{
		Document:      session.InputDocument,
		Annotations:   []doc.Annotation{},
		Relationships: []doc.Relationship{},
	}, nil
}

// ResetToInput clears the analysed triple and empties the input document,
// returning the session to a blank input state.
func (s *PostgresStore) ResetToInput(ctx context.Context, id string) error {
	emptyJSON, err := json.Marshal(doc.Empty())
	if err != nil {
		return fmt.Errorf("marshal empty document: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET input_document = $2,
			document = NULL,
			annotations = '[]'::jsonb,
			relationships = '[]'::jsonb,
			status = 'input',
			analysed_at = NULL,
			updated_at = NOW()
		WHERE id = $1
	`, id, emptyJSON)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return requireRow(result)
}

// RenameSession updates the title.
func (s *PostgresStore) RenameSession(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET title=$2, updated_at=NOW() WHERE id=$1`, id, title)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return requireRow(result)
}

// DeleteSession removes the session row.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func unmarshalDocument(data []byte, target *doc.Node) error {
	if len(data) == 0 {
		*target = doc.Empty()
		return nil
	}
	return json.Unmarshal(data, target)
}

func emptyIfNilAnnotations(annotations []doc.Annotation) []doc.Annotation {
	if annotations == nil {
		return []doc.Annotation{}
	}
	return annotations
}

func emptyIfNilRelationships(relationships []doc.Relationship) []doc.Relationship {
	if relationships == nil {
		return []doc.Relationship{}
	}
	return relationships
}
