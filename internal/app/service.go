package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"argmap/api/internal/auth"
	"argmap/api/internal/config"
	"argmap/api/internal/doc"
	"argmap/api/internal/export"
	"argmap/api/internal/history"
	"argmap/api/internal/rbac"
	"argmap/api/internal/search"
	"argmap/api/internal/store"
	"argmap/api/internal/util"
	"argmap/api/internal/workspace"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	IsExternal   bool
	JTI          string
	ExpiresAt    time.Time
}

type CreateSessionInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type CreateAnnotationInput struct {
	Type      string        `json:"type"`
	Text      string        `json:"text"`
	Position  *doc.Position `json:"position,omitempty"`
	RelatedTo string        `json:"relatedTo,omitempty"`
}

type UpdateAnnotationInput struct {
	Text string `json:"text,omitempty"`
	Type string `json:"type,omitempty"`
}

type RelationshipInput struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

type DocumentUpdateInput struct {
	Document       doc.Node `json:"document"`
	SkipExtraction bool     `json:"skipExtraction"`
}

type SearchInput struct {
	Text       string
	FilterType string
	Limit      int
	Offset     int
}

type sessionStore interface {
	CreateSession(ctx context.Context, ownerID, title string, document doc.Node) (store.Session, error)
	GetSession(ctx context.Context, id string) (store.Session, error)
	ListSessions(ctx context.Context, ownerID string) ([]store.SessionSummary, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error
}

type userStore interface {
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type coordinator interface {
	EffectiveContent(ctx context.Context, sessionID string) (store.EffectiveContent, error)
	ApplyDocumentChange(ctx context.Context, sessionID string, document doc.Node, skipExtraction bool) error
	Analyze(ctx context.Context, sessionID string) (store.EffectiveContent, error)
	ResetToInput(ctx context.Context, sessionID string) error
	AddAnnotation(ctx context.Context, sessionID, annotationType, text, relatedTo string) (doc.Annotation, error)
	AddNode(ctx context.Context, sessionID, annotationType, text string, position *doc.Position) (doc.Annotation, error)
	EditAnnotation(ctx context.Context, sessionID, annotationID, newText, newType string) (doc.Annotation, error)
	DeleteAnnotation(ctx context.Context, sessionID, annotationID string) error
	UpdatePositions(ctx context.Context, sessionID string, updates []workspace.PositionUpdate) error
	Connect(ctx context.Context, sessionID, sourceID, targetID string) error
	Disconnect(ctx context.Context, sessionID, sourceID, targetID string) error
}

type historyService interface {
	History(ctx context.Context, sessionID string, limit int) ([]history.CommitInfo, error)
	GetStateByHash(ctx context.Context, sessionID, hash string) (history.State, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexSession(record search.SessionRecord)
	IndexAnnotations(records []search.AnnotationRecord)
	DeleteAnnotations(ids []string)
	DeleteSession(id string, annotationIDs []string)
}

type exportService interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg       config.Config
	sessions  sessionStore
	users     userStore
	refresh   refreshStore
	workspace coordinator
	history   historyService
	search    searchService
	exporter  exportService
}

func New(cfg config.Config, sessions sessionStore, users userStore, refresh refreshStore, ws coordinator) *Service {
	return &Service{
		cfg:       cfg,
		sessions:  sessions,
		users:     users,
		refresh:   refresh,
		workspace: ws,
	}
}

func (s *Service) WithHistory(h historyService) *Service {
	s.history = h
	return s
}

func (s *Service) WithSearch(sr searchService) *Service {
	s.search = sr
	return s
}

func (s *Service) WithExporter(e exportService) *Service {
	s.exporter = e
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// --- Auth ---

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.users.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refreshToken := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		IsExternal:   user.IsExternal,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.users.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		Role:       user.Role,
		IsExternal: user.IsExternal,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.users.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- Sessions ---

func (s *Service) ListSessions(ctx context.Context, session Session) ([]map[string]any, error) {
	summaries, err := s.sessions.ListSessions(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, map[string]any{
			"id":        summary.ID,
			"title":     summary.Title,
			"status":    summary.Status,
			"createdAt": summary.CreatedAt,
			"updatedAt": summary.UpdatedAt,
		})
	}
	return payload, nil
}

func (s *Service) CreateSession(ctx context.Context, session Session, input CreateSessionInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled session"
	}

	created, err := s.sessions.CreateSession(ctx, session.UserID, title, doc.New(input.Text))
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexSession(search.SessionRecord{
			ID:      created.ID,
			Title:   created.Title,
			Text:    input.Text,
			Status:  created.Status,
			OwnerID: created.OwnerID,
		})
	}

	return map[string]any{
		"id":        created.ID,
		"title":     created.Title,
		"status":    created.Status,
		"createdAt": created.CreatedAt,
	}, nil
}

func (s *Service) GetSessionSnapshot(ctx context.Context, session Session, sessionID string) (map[string]any, error) {
	record, err := s.ownedSession(ctx, session, sessionID)
	if err != nil {
		return nil, err
	}

	content, err := s.workspace.EffectiveContent(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":            record.ID,
		"title":         record.Title,
		"status":        record.Status,
		"analysed":      content.Analysed,
		"document":      content.Document,
		"annotations":   content.Annotations,
		"relationships": content.Relationships,
		"createdAt":     record.CreatedAt,
		"updatedAt":     record.UpdatedAt,
	}, nil
}

func (s *Service) RenameSession(ctx context.Context, session Session, sessionID, title string) (map[string]any, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}
	if err := s.sessions.RenameSession(ctx, sessionID, strings.TrimSpace(title)); err != nil {
		return nil, err
	}
	s.reindexSession(ctx, sessionID)
	return map[string]any{"id": sessionID, "title": strings.TrimSpace(title)}, nil
}

func (s *Service) DeleteSession(ctx context.Context, session Session, sessionID string) error {
	record, err := s.ownedSession(ctx, session, sessionID)
	if err != nil {
		return err
	}

	annotationIDs := make([]string, 0, len(record.Annotations))
	for _, annotation := range record.Annotations {
		annotationIDs = append(annotationIDs, annotation.ID)
	}

	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteSession(sessionID, annotationIDs)
	}
	return nil
}

// --- Documents and analysis ---

func (s *Service) SaveDocument(ctx context.Context, session Session, sessionID string, input DocumentUpdateInput) (map[string]any, error) {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}
	if input.Document.Type != doc.NodeDoc {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "document must be a doc node", nil)
	}

	if err := s.workspace.ApplyDocumentChange(ctx, sessionID, input.Document, input.SkipExtraction); err != nil {
		return nil, err
	}
	s.reindexSession(ctx, sessionID)

	content, err := s.workspace.EffectiveContent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return contentPayload(sessionID, content), nil
}

func (s *Service) Analyze(ctx context.Context, session Session, sessionID string) (map[string]any, error) {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}

	content, err := s.workspace.Analyze(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.reindexSession(ctx, sessionID)
	s.indexAnnotations(session, sessionID, content.Annotations)

	return contentPayload(sessionID, content), nil
}

func (s *Service) ResetSession(ctx context.Context, session Session, sessionID string) error {
	record, err := s.ownedSession(ctx, session, sessionID)
	if err != nil {
		return err
	}

	if err := s.workspace.ResetToInput(ctx, sessionID); err != nil {
		return err
	}
	if s.search != nil {
		ids := make([]string, 0, len(record.Annotations))
		for _, annotation := range record.Annotations {
			ids = append(ids, annotation.ID)
		}
		s.search.DeleteAnnotations(ids)
	}
	s.reindexSession(ctx, sessionID)
	return nil
}

// --- Annotations and relationships ---

func (s *Service) CreateAnnotation(ctx context.Context, session Session, sessionID string, input CreateAnnotationInput) (map[string]any, error) {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}

	var annotation doc.Annotation
	var err error
	if input.Position != nil {
		annotation, err = s.workspace.AddNode(ctx, sessionID, input.Type, input.Text, input.Position)
		if err == nil && input.RelatedTo != "" {
			err = s.workspace.Connect(ctx, sessionID, annotation.ID, input.RelatedTo)
		}
	} else {
		annotation, err = s.workspace.AddAnnotation(ctx, sessionID, input.Type, input.Text, input.RelatedTo)
	}
	if err != nil {
		return nil, err
	}

	s.indexAnnotations(session, sessionID, []doc.Annotation{annotation})
	return annotationPayload(annotation), nil
}

func (s *Service) UpdateAnnotation(ctx context.Context, session Session, sessionID, annotationID string, input UpdateAnnotationInput) (map[string]any, error) {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}
	newType := ""
	if input.Type != "" {
		newType = strings.ToLower(strings.TrimSpace(input.Type))
		if !doc.ValidType(newType) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown annotation type %q", input.Type), nil)
		}
	}

	annotation, err := s.workspace.EditAnnotation(ctx, sessionID, annotationID, input.Text, newType)
	if err != nil {
		return nil, err
	}
	s.indexAnnotations(session, sessionID, []doc.Annotation{annotation})
	return annotationPayload(annotation), nil
}

func (s *Service) DeleteAnnotation(ctx context.Context, session Session, sessionID, annotationID string) error {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return err
	}
	if err := s.workspace.DeleteAnnotation(ctx, sessionID, annotationID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteAnnotations([]string{annotationID})
	}
	return nil
}

func (s *Service) UpdatePositions(ctx context.Context, session Session, sessionID string, positions map[string]doc.Position) error {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return err
	}
	updates := make([]workspace.PositionUpdate, 0, len(positions))
	for id, position := range positions {
		updates = append(updates, workspace.PositionUpdate{ID: id, Position: position})
	}
	return s.workspace.UpdatePositions(ctx, sessionID, updates)
}

func (s *Service) Connect(ctx context.Context, session Session, sessionID string, input RelationshipInput) error {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return err
	}
	if input.SourceID == "" || input.TargetID == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sourceId and targetId are required", nil)
	}
	return s.workspace.Connect(ctx, sessionID, input.SourceID, input.TargetID)
}

func (s *Service) Disconnect(ctx context.Context, session Session, sessionID string, input RelationshipInput) error {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return err
	}
	return s.workspace.Disconnect(ctx, sessionID, input.SourceID, input.TargetID)
}

// --- History ---

func (s *Service) History(ctx context.Context, session Session, sessionID string, limit int) (map[string]any, error) {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return map[string]any{"commits": []any{}}, nil
	}

	commits, err := s.history.History(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		payload = append(payload, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"createdAt": commit.CreatedAt,
		})
	}
	return map[string]any{"commits": payload}, nil
}

func (s *Service) HistoryState(ctx context.Context, session Session, sessionID, hash string) (map[string]any, error) {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "History unavailable", nil)
	}

	state, err := s.history.GetStateByHash(ctx, sessionID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Unknown state hash", nil)
	}
	return map[string]any{
		"hash":          hash,
		"document":      state.Document,
		"annotations":   state.Annotations,
		"relationships": state.Relationships,
	}, nil
}

// --- Search ---

func (s *Service) Search(ctx context.Context, session Session, input SearchInput) (map[string]any, error) {
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0}, nil
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}

	response := s.search.Search(search.Query{
		Text:          input.Text,
		FilterType:    search.ResultType(input.FilterType),
		FilterOwnerID: session.UserID,
		Limit:         input.Limit,
		Offset:        input.Offset,
	})

	results := make([]map[string]any, 0, len(response.Results))
	for _, result := range response.Results {
		results = append(results, map[string]any{
			"type":      result.Type,
			"id":        result.ID,
			"title":     result.Title,
			"snippet":   result.Snippet,
			"sessionId": result.SessionID,
		})
	}
	return map[string]any{"results": results, "total": response.Total}, nil
}

// --- Export ---

func (s *Service) Export(ctx context.Context, session Session, sessionID, format string) (*export.Result, error) {
	if _, err := s.ownedSession(ctx, session, sessionID); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}

	result, err := s.exporter.Export(ctx, export.Request{
		SessionID:       sessionID,
		Format:          export.Format(format),
		IncludeAppendix: true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unsupported format") {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil)
		}
		return nil, err
	}
	return result, nil
}

// --- Helpers ---

// ownedSession loads the session and enforces that the caller owns it.
func (s *Service) ownedSession(ctx context.Context, session Session, sessionID string) (store.Session, error) {
	record, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if record.OwnerID != session.UserID {
		return store.Session{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return record, nil
}

func (s *Service) reindexSession(ctx context.Context, sessionID string) {
	if s.search == nil {
		return
	}
	record, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	text := doc.PlainText(record.Document)
	if text == "" {
		text = doc.PlainText(record.InputDocument)
	}
	s.search.IndexSession(search.SessionRecord{
		ID:      record.ID,
		Title:   record.Title,
		Text:    text,
		Status:  record.Status,
		OwnerID: record.OwnerID,
	})
}

func (s *Service) indexAnnotations(session Session, sessionID string, annotations []doc.Annotation) {
	if s.search == nil || len(annotations) == 0 {
		return
	}
	records := make([]search.AnnotationRecord, 0, len(annotations))
	for _, annotation := range annotations {
		records = append(records, search.AnnotationRecord{
			ID:        annotation.ID,
			SessionID: sessionID,
			OwnerID:   session.UserID,
			Type:      annotation.Type,
			Text:      annotation.Text,
		})
	}
	s.search.IndexAnnotations(records)
}

func contentPayload(sessionID string, content store.EffectiveContent) map[string]any {
	return map[string]any{
		"id":            sessionID,
		"analysed":      content.Analysed,
		"document":      content.Document,
		"annotations":   content.Annotations,
		"relationships": content.Relationships,
	}
}

func annotationPayload(annotation doc.Annotation) map[string]any {
	payload := map[string]any{
		"id":         annotation.ID,
		"type":       annotation.Type,
		"text":       annotation.Text,
		"startIndex": annotation.StartIndex,
		"endIndex":   annotation.EndIndex,
	}
	if annotation.Position != nil {
		payload["position"] = annotation.Position
	}
	return payload
}
