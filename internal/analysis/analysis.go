// Package analysis turns document text into an initial annotation set by
// prompting an external text-understanding service and validating its
// JSON answer.
package analysis

import (
	"context"
	"fmt"
)

// Provider sends one prompt to the external service and returns the raw
// response text. Implementations map well-formed error responses to
// *ServiceError; any other failure is treated as transport-level.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Highlight is one annotation proposal from the external service.
type Highlight struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

const payloadPreviewLimit = 300

// ValidationError reports a malformed or incomplete service response. It
// carries a bounded preview of the offending payload for diagnostics.
type ValidationError struct {
	Reason  string
	Payload string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid analysis response: %s (payload: %s)", e.Reason, payloadPreview(e.Payload))
}

// ServiceError is a well-formed error answer from the external service.
// It is never retried.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("analysis service error (status %d): %s", e.Status, e.Message)
}

func payloadPreview(payload string) string {
	runes := []rune(payload)
	if len(runes) <= payloadPreviewLimit {
		return payload
	}
	return string(runes[:payloadPreviewLimit]) + "..."
}
