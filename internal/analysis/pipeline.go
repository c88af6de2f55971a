package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"argmap/api/internal/doc"
)

const (
	maxAttempts    = 3
	attemptTimeout = 30 * time.Second
	backoffStep    = time.Second
)

// Pipeline runs one analysis: prompt, call with retries, validate, order.
type Pipeline struct {
	provider Provider
	sleep    func(time.Duration)
}

// New creates a pipeline on top of a provider.
func New(provider Provider) *Pipeline {
	return &Pipeline{provider: provider, sleep: time.Sleep}
}

// Result is a validated, ordered analysis outcome. Raw keeps the service's
// unparsed answer for archiving.
type Result struct {
	Annotations   []doc.Annotation
	Relationships []doc.Relationship
	Raw           string
}

// Run analyzes the given plain text. Transport failures and per-attempt
// timeouts are retried with linear backoff; service and validation errors
// are not. Returned annotations are ordered by first-match offset in the
// text; annotations whose text is not found keep their response order and
// sort last.
func (p *Pipeline) Run(ctx context.Context, plainText string) (*Result, error) {
	if strings.TrimSpace(plainText) == "" {
		return nil, &ValidationError{Reason: "document is empty"}
	}
	prompt := BuildPrompt(plainText)

	var raw string
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		raw, lastErr = p.provider.Complete(attemptCtx, prompt)
		cancel()
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) {
			return nil, lastErr
		}
		if attempt < maxAttempts {
			log.Printf("analysis: attempt %d failed (%v), retrying", attempt, lastErr)
			p.sleep(time.Duration(attempt) * backoffStep)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("analysis failed after %d attempts: %w", maxAttempts, lastErr)
	}

	highlights, relationships, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	return &Result{
		Annotations:   orderByOffset(highlights, plainText),
		Relationships: relationships,
		Raw:           raw,
	}, nil
}

// retryable reports whether an attempt failure is transport-level. Service
// answers and validation problems never are.
func retryable(err error) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return false
	}
	var validationErr *ValidationError
	return !errors.As(err, &validationErr)
}

// parseResponse validates the raw answer against the response contract.
func parseResponse(raw string) ([]Highlight, []doc.Relationship, error) {
	body := stripFences(raw)

	var envelope struct {
		Highlights    json.RawMessage `json:"highlights"`
		Relationships json.RawMessage `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return nil, nil, &ValidationError{Reason: "response is not a JSON object", Payload: raw}
	}
	if len(envelope.Highlights) == 0 || string(envelope.Highlights) == "null" {
		return nil, nil, &ValidationError{Reason: "response has no highlights array", Payload: raw}
	}

	var highlights []Highlight
	if err := json.Unmarshal(envelope.Highlights, &highlights); err != nil {
		return nil, nil, &ValidationError{Reason: "highlights is not an array of objects", Payload: raw}
	}
	for i, highlight := range highlights {
		if highlight.ID == "" || highlight.Type == "" || highlight.Text == "" {
			return nil, nil, &ValidationError{
				Reason:  fmt.Sprintf("highlight %d is missing id, type, or text", i),
				Payload: raw,
			}
		}
	}

	relationships := []doc.Relationship{}
	if len(envelope.Relationships) > 0 && string(envelope.Relationships) != "null" {
		if err := json.Unmarshal(envelope.Relationships, &relationships); err != nil {
			return nil, nil, &ValidationError{Reason: "relationships is not an array", Payload: raw}
		}
	}
	return highlights, relationships, nil
}

// orderByOffset converts highlights to annotations ordered by where their
// text first appears. Unfound texts are kept so the caller can decide their
// fate, but always after every found one.
func orderByOffset(highlights []Highlight, plainText string) []doc.Annotation {
	type located struct {
		annotation doc.Annotation
		offset     int
		found      bool
	}

	entries := make([]located, 0, len(highlights))
	for _, highlight := range highlights {
		annotation := doc.Annotation{
			ID:   highlight.ID,
			Type: doc.NormalizeType(highlight.Type),
			Text: highlight.Text,
		}
		byteIndex := strings.Index(plainText, highlight.Text)
		if byteIndex < 0 {
			log.Printf("analysis: highlight %s text not found in document", highlight.ID)
			entries = append(entries, located{annotation: annotation})
			continue
		}
		offset := len([]rune(plainText[:byteIndex]))
		annotation.StartIndex = offset
		annotation.EndIndex = offset + len([]rune(highlight.Text))
		entries = append(entries, located{annotation: annotation, offset: offset, found: true})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].found != entries[j].found {
			return entries[i].found
		}
		return entries[i].offset < entries[j].offset
	})

	annotations := make([]doc.Annotation, len(entries))
	for i, entry := range entries {
		annotations[i] = entry.annotation
	}
	return annotations
}

// stripFences removes a markdown code fence wrapper some models add despite
// instructions.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
