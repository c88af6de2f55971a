package export

import (
	"context"
	"fmt"
	"html/template"

	"argmap/api/internal/doc"
	"argmap/api/internal/store"
)

// DataStore defines the data access the export service needs.
type DataStore interface {
	GetSession(ctx context.Context, id string) (store.Session, error)
	GetEffectiveContent(ctx context.Context, id string) (store.EffectiveContent, error)
}

// Service provides session export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	content, err := s.store.GetEffectiveContent(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:       sessionTitle(session),
		Status:      session.Status,
		ContentHTML: template.HTML(DocumentToHTML(content.Document)),
		UpdatedAt:   session.UpdatedAt,
	}
	if req.IncludeAppendix {
		data.Claims = buildAppendix(content.Annotations, content.Relationships)
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, data.Title)
	case FormatDOCX:
		return exportDOCX(html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// buildAppendix groups annotations by relationship target: every annotation
// that is a relationship target becomes an entry listing the annotations
// bearing on it. Annotations touching no relationship are listed alone.
func buildAppendix(annotations []doc.Annotation, relationships []doc.Relationship) []TemplateClaim {
	byID := make(map[string]doc.Annotation, len(annotations))
	for _, annotation := range annotations {
		byID[annotation.ID] = annotation
	}

	inRelationship := make(map[string]bool)
	supports := make(map[string][]TemplateSupport)
	for _, rel := range relationships {
		source, sourceOK := byID[rel.SourceID]
		if _, targetOK := byID[rel.TargetID]; !sourceOK || !targetOK {
			continue
		}
		inRelationship[rel.SourceID] = true
		inRelationship[rel.TargetID] = true
		supports[rel.TargetID] = append(supports[rel.TargetID], TemplateSupport{
			Type: source.Type,
			Text: source.Text,
		})
	}

	claims := make([]TemplateClaim, 0, len(annotations))
	for _, annotation := range annotations {
		if inRelationship[annotation.ID] && len(supports[annotation.ID]) == 0 {
			// Source-only annotations appear under their targets.
			continue
		}
		claims = append(claims, TemplateClaim{
			Type:    annotation.Type,
			Text:    annotation.Text,
			Support: supports[annotation.ID],
		})
	}
	return claims
}

func sessionTitle(session store.Session) string {
	if session.Title != "" {
		return session.Title
	}
	return "Untitled session"
}
